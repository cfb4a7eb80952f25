package main

import (
	"context"
	"errors"

	"github.com/desertthunder/libsync/internal/server"
	"github.com/desertthunder/libsync/internal/shared"
	"github.com/desertthunder/libsync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Worker runs the supervised worker pool until the process is interrupted.
//
// Jobs left active by a previous process are requeued first.
func (r *Runner) Worker(ctx context.Context, cmd *cli.Command) error {
	s, err := r.open()
	if err != nil {
		return err
	}

	if _, err := s.coord.Recover(ctx); err != nil {
		return err
	}

	workers := r.config.Sync.Workers
	if n := cmd.Int("workers"); n > 0 {
		workers = n
	}

	tree := tasks.NewTree("libsync", shared.Slog(r.logger), tasks.DefaultTreeConfig())
	tree.AddWorkers(s.coord, workers)
	tree.AddWorkerService(tasks.NewGaugeService(s.coord, 0))

	if !cmd.Bool("no-http") {
		router := server.NewRouter(server.RouterOptions{
			Logger: r.logger,
			Health: server.NewHealthHandler(s.db),
			Jobs:   server.NewJobsHandler(s.coord),
		})
		addr := r.config.Server.Addr()
		tree.AddAPIService(server.NewService(server.New(addr, router), 0, r.logger))
		r.logger.Info("serving health and metrics", "addr", addr)
	}

	r.logger.Info("starting workers", "count", workers, "backend", r.config.Cache.Backend)
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.Info("workers stopped")
	return nil
}
