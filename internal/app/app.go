package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"ArticleClusterer/internal/arbiter"
	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/encoder"
	"ArticleClusterer/internal/httpapi"
	"ArticleClusterer/internal/infrastructure/scheduler"
	"ArticleClusterer/internal/infrastructure/storage"
	"ArticleClusterer/internal/infrastructure/telegram"
	"ArticleClusterer/internal/logging"
	"ArticleClusterer/internal/metrics"
	"ArticleClusterer/internal/ports"
	"ArticleClusterer/internal/provider"
	"ArticleClusterer/internal/summary"
	"ArticleClusterer/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	server    *http.Server
	watcher   *config.Watcher
	db        *sql.DB
}

// New builds the application from configuration. The registry selects the
// provider backends; nil means the built-in ones.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, registry *provider.Registry) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if registry == nil {
		registry = provider.Default()
	}

	a := &Application{cfg: cfg, logger: baseLogger}
	mgr := metrics.NewManager()

	gateway, pinger, err := a.openGateway(ctx)
	if err != nil {
		return nil, err
	}

	generator, err := registry.Generator(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("text generator: %w", err)
	}
	generator = provider.Generator(cfg.LLM.Provider, generator, cfg.LLM.RequestsPerSecond, mgr)

	embedder, err := registry.Embedder(cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	embedder = provider.Embedder(cfg.Embedding.Provider, embedder, cfg.Embedding.RequestsPerSecond, mgr)

	enc := encoder.New(embedder, cfg.Embedding.Dimension, cfg.Embedding.MaxInputChars, baseLogger.With("component", "encoder"))
	arb := arbiter.New(arbiter.Deps{
		Events:       gateway,
		Associations: gateway,
		Generator:    generator,
		Encoder:      enc,
		Logger:       baseLogger.With("component", "arbiter"),
	}, arbiter.Settings{})

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Gateway:   gateway,
		Summaries: summary.NewProducer(generator, summary.Settings{}, baseLogger.With("component", "summary")),
		Encoder:   enc,
		Arbiter:   arb,
		Metrics:   mgr,
		Logger:    baseLogger.With("component", "pipeline"),
	}, cfg.Runtime())

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram)
	}
	a.scheduler = usecase.NewScheduler(
		scheduler.NewIntervalScheduler(cfg.Scheduler.Interval),
		a.pipeline,
		notifier,
		baseLogger.With("component", "scheduler"),
	)

	if cfg.HTTP.Addr != "" {
		api := httpapi.NewServer(httpapi.Dependencies{
			Pipeline: a.pipeline,
			Failed:   gateway,
			Pinger:   pinger,
			Metrics:  mgr.Handler(),
			Logger:   baseLogger.With("component", "http"),
		})
		a.server = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if cfg.Path() != "" {
		a.watcher = config.NewWatcher(cfg.Path(), a.reload, baseLogger.With("component", "config"))
	}

	return a, nil
}

func (a *Application) openGateway(ctx context.Context) (ports.Gateway, httpapi.Pinger, error) {
	opts := []storage.Option{
		storage.WithMaxAttempts(a.cfg.Pipeline.MaxAttempts),
		storage.WithStaleAfter(a.cfg.Pipeline.StaleAfter),
		storage.WithDimension(a.cfg.Embedding.Dimension),
	}

	if a.cfg.Database.Driver == "memory" {
		a.logger.Warn("using in-memory storage, nothing will be persisted")
		return storage.NewMemoryRepository(opts...), nil, nil
	}

	db, err := sql.Open("postgres", a.cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if a.cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(a.cfg.Database.MaxOpenConns)
	}
	a.db = db

	repo := storage.NewPostgresRepository(db, opts...)
	if err := repo.Ping(ctx); err != nil {
		a.Close()
		return nil, nil, err
	}
	if a.cfg.Database.Migrate {
		if err := repo.Migrate(ctx); err != nil {
			a.Close()
			return nil, nil, err
		}
	}
	return repo, repo, nil
}

// reload applies a changed config file. Only the runtime settings are
// swapped; connection and provider settings need a restart.
func (a *Application) reload(next config.Config) {
	a.pipeline.UpdateRuntime(next.Runtime())
	a.logger.Info("runtime settings reloaded",
		"topic_threshold", next.Pipeline.TopicThreshold,
		"event_threshold", next.Pipeline.EventThreshold,
		"batch_size", next.Pipeline.BatchSize,
		"workers", next.Pipeline.Workers,
	)
}

// Run starts the scheduler, the admin listener and the config watcher, and
// blocks until ctx is cancelled or one of them fails.
func (a *Application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("admin http listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "interval", a.cfg.Scheduler.Interval)

	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.scheduler.Stop(stopCtx)
	})

	return g.Wait()
}

// RunOnce executes a single processing cycle.
func (a *Application) RunOnce(ctx context.Context) (usecase.CycleReport, error) {
	return a.scheduler.RunOnce(ctx, time.Now()), ctx.Err()
}

// Close releases the database handle.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
