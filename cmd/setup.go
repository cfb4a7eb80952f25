package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/libsync/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file when missing, then initializes the database and runs migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}

		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return fmt.Errorf("failed to load created config: %w", err)
		}
		r.config = config
		r.writePlain("✓ Created %s\n", r.configPath)
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	s, err := r.open()
	if err != nil {
		return err
	}

	n, err := s.coord.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.writePlain("✓ Requeued %d interrupted job(s)\n", n)
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	r.writePlain("✓ Database ready at %s (cache backend: %s)\n", r.config.Database.Path, r.config.Cache.Backend)
	return nil
}
