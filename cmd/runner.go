package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/libsync/internal/insights"
	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/repositories"
	"github.com/desertthunder/libsync/internal/services"
	"github.com/desertthunder/libsync/internal/shared"
	"github.com/desertthunder/libsync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	providers  tasks.ProviderFactory
	stores     *stores
}

// RunnerOpts contains configuration options for creating a Runner.
//
// A nil Config is loaded from the --config flag before any command runs.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Providers  tasks.ProviderFactory
}

// stores are the storage-backed services, opened on first use.
type stores struct {
	db       *sql.DB
	backend  repositories.Backend
	library  *repositories.LibraryRepository
	jobs     *repositories.JobRepository
	coord    *tasks.Coordinator
	insights *insights.Service
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		providers:  opts.Providers,
	}
}

// App returns the root command.
func (r *Runner) App() *cli.Command {
	return &cli.Command{
		Name:    "libsync",
		Usage:   "Mirror a Spotify or YouTube library into a local cache",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("LIBSYNC_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Application user id the library belongs to",
				Value:   "local",
				Sources: cli.EnvVars("LIBSYNC_USER"),
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Upstream provider (spotify or youtube)",
				Value:   services.ProviderSpotify,
			},
		},
		Before:   r.before,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, syncCommand, workerCommand, libraryCommand, insightsCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads configuration once per invocation.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.configPath == "" {
		r.configPath = cmd.String("config")
	}
	if r.config != nil {
		return ctx, nil
	}

	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		r.config = shared.DefaultConfig()
		return ctx, nil
	}

	config, err := shared.LoadConfig(r.configPath)
	if err != nil {
		return ctx, err
	}
	r.config = config
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(config.App.LogLevel))
	return ctx, nil
}

// SetLogger replaces the logger used by commands and by stores opened afterwards.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// open connects the database, cache backend and coordinator.
func (r *Runner) open() (*stores, error) {
	if r.stores != nil {
		return r.stores, nil
	}
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}

	db, err := shared.OpenMigrated(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}

	backend, err := repositories.NewBackend(r.config.Cache, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	providers := r.providers
	if providers == nil {
		providers = tasks.NewProviderFactory(r.config, r.logger)
	}

	library := repositories.NewLibraryRepository(backend)
	jobs := repositories.NewJobRepository(db)
	coord := tasks.NewCoordinator(jobs, library, providers, tasks.OptionsFromConfig(r.config.Sync), r.logger)

	r.stores = &stores{
		db:       db,
		backend:  backend,
		library:  library,
		jobs:     jobs,
		coord:    coord,
		insights: insights.NewService(library),
	}
	return r.stores, nil
}

// Close releases the stores opened by a command.
func (r *Runner) Close() {
	if r.stores == nil {
		return
	}
	if err := r.stores.backend.Close(); err != nil {
		r.logger.Warn("failed to close cache backend", "error", err)
	}
	if err := r.stores.db.Close(); err != nil {
		r.logger.Warn("failed to close database", "error", err)
	}
	r.stores = nil
}

// namespace builds the cache namespace from the --user and --provider flags.
func (r *Runner) namespace(cmd *cli.Command) (models.Namespace, error) {
	provider := strings.ToLower(cmd.String("provider"))
	if provider != services.ProviderSpotify && provider != services.ProviderYouTube {
		return models.Namespace{}, fmt.Errorf("%w: provider %q", shared.ErrInvalidArgument, provider)
	}
	user := cmd.String("user")
	if user == "" {
		return models.Namespace{}, fmt.Errorf("%w: --user", shared.ErrMissingArgument)
	}
	ns := models.NewNamespace(r.config.Cache.Namespace, user, provider)
	if !ns.Valid() {
		return models.Namespace{}, fmt.Errorf("%w: invalid namespace %q", shared.ErrInvalidArgument, ns)
	}
	return ns, nil
}

// credentials returns the stored tokens for provider.
func (r *Runner) credentials(provider string) (models.Credentials, error) {
	pc, err := services.ProviderConfig(provider, r.config)
	if err != nil {
		return models.Credentials{}, err
	}
	if pc.AccessToken == "" {
		return models.Credentials{}, fmt.Errorf("%w: no %s token, run 'libsync auth %s'", shared.ErrMissingCredentials, provider, provider)
	}
	return models.Credentials{AccessToken: pc.AccessToken, RefreshToken: pc.RefreshToken}, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
