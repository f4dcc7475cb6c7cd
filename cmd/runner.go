package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/aggregator"
	"github.com/desertthunder/sonar/internal/metrics"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/repositories"
	"github.com/desertthunder/sonar/internal/resolver"
	"github.com/desertthunder/sonar/internal/services"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/desertthunder/sonar/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Providers, the resolver and the database are built on first use so that
// commands like setup never touch the network or the database they are creating.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	metrics    *metrics.Metrics

	registry services.Registry
	resolver *resolver.Resolver
	db       *sql.DB
	tracks   *repositories.TrackRepository
	queues   *repositories.QueueRepository
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Registry   services.Registry // Overrides the providers built from Config
	DB         *sql.DB           // Overrides the database opened from Config; must be migrated
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		metrics:    opts.Metrics,
		registry:   opts.Registry,
		db:         opts.DB,
	}
	if r.db != nil {
		r.tracks = repositories.NewTrackRepository(r.db)
		r.queues = repositories.NewQueueRepository(r.db)
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, searchCommand, resolveCommand, queueCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger, e.g. with a file logger once a TUI owns the terminal.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// Close releases the database connection, if one was opened.
func (r *Runner) Close() {
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
}

// providers returns the registry, building adapters from the config on first use.
func (r *Runner) providers(ctx context.Context) services.Registry {
	if r.registry == nil {
		r.registry = buildRegistry(ctx, r.config.Providers, r.httpClient, r.logger, r.metrics, r.saveTokens)
	}
	return r.registry
}

func (r *Runner) aggregator(ctx context.Context) *aggregator.Aggregator {
	priority := make([]models.ProviderID, 0, len(r.config.Search.Priority))
	for _, p := range r.config.Search.Priority {
		priority = append(priority, models.ParseProviderID(p))
	}
	return aggregator.New(r.providers(ctx), aggregator.Options{
		Timeout:  r.config.Search.Timeout,
		Priority: priority,
		Logger:   r.logger,
		Metrics:  r.metrics,
	})
}

func (r *Runner) streamResolver(ctx context.Context) *resolver.Resolver {
	if r.resolver == nil {
		r.resolver = resolver.New(r.providers(ctx), resolver.Options{
			DefaultTTL:     r.config.Cache.DefaultTTL,
			MaxEntries:     r.config.Cache.MaxEntries,
			ResolveTimeout: r.config.Cache.ResolveTimeout,
			Logger:         r.logger,
			Metrics:        r.metrics,
		})
	}
	return r.resolver
}

// openDB opens the configured database without migrating it.
func (r *Runner) openDB() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
	r.db = db
	return db, nil
}

// openStore opens and migrates the configured database on first use.
func (r *Runner) openStore() error {
	if r.tracks != nil && r.queues != nil {
		return nil
	}

	db, err := r.openDB()
	if err != nil {
		return err
	}
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	r.tracks = repositories.NewTrackRepository(db)
	r.queues = repositories.NewQueueRepository(db)
	return nil
}

// controllerOpts tunes a playback controller for the calling command.
type controllerOpts struct {
	sink     tasks.Sink
	quality  models.StreamQuality
	prefetch bool
	progress chan<- tasks.ProgressUpdate
}

// newController wires a queue, the resolver and the repositories into a playback controller.
func (r *Runner) newController(ctx context.Context, opts controllerOpts) (*tasks.Controller, error) {
	if err := r.openStore(); err != nil {
		return nil, err
	}
	trackCache := repositories.NewTrackCacheAdapter(r.tracks)

	ahead := -1
	if opts.prefetch && r.config.Prefetch.Ahead > 0 {
		ahead = r.config.Prefetch.Ahead
	}

	q := queue.New(queue.Options{Logger: r.logger, Metrics: r.metrics})
	return tasks.NewController(q, r.streamResolver(ctx), opts.sink, tasks.ControllerOpts{
		Quality: opts.quality,
		Ahead:   ahead,
		Prefetch: tasks.PrefetchOpts{
			NumWorkers: r.config.Prefetch.Workers,
			RateLimit:  r.config.Prefetch.RequestsPerSecond,
		},
		Cache:    trackCache,
		Store:    r.queues,
		Hydrator: trackCache,
		Progress: opts.progress,
		Logger:   r.logger,
	}), nil
}

// saveTokens persists a refreshed Spotify token to the config file.
//
// With no config path the token is only kept in memory.
func (r *Runner) saveTokens(token *oauth2.Token) error {
	if r.config == nil {
		return fmt.Errorf("%w: config is nil", shared.ErrMissingConfig)
	}

	if err := r.config.Providers.Spotify.Update(token); err != nil {
		return fmt.Errorf("failed to update spotify configuration: %w", err)
	}

	if r.configPath == "" {
		return nil
	}

	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	r.logger.Debug("saved refreshed spotify token", "path", r.configPath, "expiry", token.Expiry.Format(time.RFC3339))
	return nil
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
