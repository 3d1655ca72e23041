// Package server wires configuration into a running progressd process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-progress/internal/api"
	"github.com/JakeFAU/realtime-progress/internal/config"
	"github.com/JakeFAU/realtime-progress/internal/eventlog"
	"github.com/JakeFAU/realtime-progress/internal/housekeeping"
	"github.com/JakeFAU/realtime-progress/internal/id/uuid"
	"github.com/JakeFAU/realtime-progress/internal/logging"
	"github.com/JakeFAU/realtime-progress/internal/metrics"
	"github.com/JakeFAU/realtime-progress/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-progress/internal/progress/sinks"
	"github.com/JakeFAU/realtime-progress/internal/publisher"
	memorypublisher "github.com/JakeFAU/realtime-progress/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/realtime-progress/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/realtime-progress/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/realtime-progress/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-progress/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-progress/internal/storage/memory"
	miniostorage "github.com/JakeFAU/realtime-progress/internal/storage/minio"
	pgstore "github.com/JakeFAU/realtime-progress/internal/storage/postgres"
	redisstore "github.com/JakeFAU/realtime-progress/internal/storage/redis"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	registry  *progress.Registry
	hub       *progress.Hub
	scheduler *housekeeping.Scheduler

	events       eventlog.Repository
	pgLog        *pgstore.EventLog
	redisClient  *goredis.Client
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	natsConn     *nats.Conn
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
	logger     *zap.Logger
}

// WithRegisterer registers lifecycle metrics on reg instead of the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithLogger skips logger construction and uses logger instead.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// Build creates the application's dependencies. On error any resources
// opened so far are released.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("event_log", cfg.EventLog.Backend),
		zap.String("export", cfg.Export.Backend),
		zap.String("notify", cfg.Notify.Backend),
	)

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	if err = setupEventLog(ctx, app); err != nil {
		return nil, err
	}
	blobStore, err := setupBlobStore(ctx, app)
	if err != nil {
		return nil, err
	}
	pub, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()
	sinks, err := setupSinks(app, o.registerer, pub, collector)
	if err != nil {
		return nil, err
	}
	app.hub = progress.NewHub(progress.HubConfig{
		BufferSize:     cfg.Hub.BufferSize,
		MaxBatchEvents: cfg.Hub.MaxBatchEvents,
		MaxBatchWait:   cfg.Hub.MaxBatchWait,
		SinkTimeout:    cfg.Hub.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         logger.Named("progress_hub"),
	}, sinks...)

	app.registry = progress.NewRegistry(progress.Config{
		SpeedWindow:   cfg.Tracker.SpeedWindow,
		SlowThreshold: cfg.Tracker.SlowThreshold,
		PollInterval:  cfg.Stream.PollInterval,
		IdleTimeout:   cfg.Stream.IdleTimeout,
		IDs:           uuid.New(),
		Emitter:       app.hub,
		Logger:        logger.Named("registry"),
	})

	exporter := metrics.NewExporter(collector, app.registry)
	if cfg.Housekeeping.Enabled {
		app.scheduler, err = housekeeping.New(housekeeping.Config{
			Retention:         cfg.EventLog.Retention,
			RetentionSchedule: cfg.Housekeeping.RetentionSchedule,
			ExportSchedule:    cfg.Export.Schedule,
			ExportPrefix:      cfg.Export.Prefix,
			ExportFormat:      cfg.Export.Format,
			JobTimeout:        cfg.Housekeeping.JobTimeout,
		}, app.events, logger.Named("housekeeping"), housekeeping.WithExport(exporter, blobStore))
		if err != nil {
			return nil, fmt.Errorf("housekeeping init failed: %w", err)
		}
	}

	app.apiServer = api.NewServer(*cfg, api.Deps{
		Tracker:   app.registry,
		Events:    app.events,
		Collector: collector,
		Exporter:  exporter,
		Ready:     app.ready,
		Logger:    logger.Named("api"),
	})
	return app, nil
}

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Registry returns the task registry.
func (a *App) Registry() *progress.Registry {
	return a.registry
}

// Run serves HTTP and runs housekeeping until ctx is cancelled or a
// termination signal arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := newHTTPServer(fmt.Sprintf(":%d", a.cfg.Server.Port), a.apiServer.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.scheduler != nil {
		a.scheduler.Start()
		a.logger.Info("housekeeping started")
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// newHTTPServer returns a server whose request contexts are cancelled when
// Shutdown starts. Shutdown does not interrupt active handlers, so open
// streams would otherwise hold it until its deadline.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

// Close stops background work, drains the hub and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("nats drain failed", zap.Error(err))
		}
		a.natsConn = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redisClient = nil
	}
	if a.pgLog != nil {
		a.pgLog.Close()
		a.pgLog = nil
	}
}

// ready pings whichever network backends are configured.
func (a *App) ready(ctx context.Context) error {
	if a.pgLog != nil {
		if err := a.pgLog.Ping(ctx); err != nil {
			return err
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	if a.natsConn != nil && !a.natsConn.IsConnected() {
		return errors.New("nats disconnected")
	}
	return nil
}

func setupEventLog(ctx context.Context, app *App) error {
	cfg := app.cfg
	switch cfg.EventLog.Backend {
	case "postgres":
		if cfg.Database.Migrate {
			if err := pgstore.Migrate(ctx, cfg.Database.DSN, app.logger.Named("migrate")); err != nil {
				return fmt.Errorf("event log migrate failed: %w", err)
			}
		}
		pgLog, err := pgstore.NewEventLog(ctx, pgstore.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres event log init failed: %w", err)
		}
		app.pgLog = pgLog
		app.events = pgLog
		app.logger.Info("using postgres event log")
	case "redis":
		client, err := redisstore.NewClient(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis client init failed: %w", err)
		}
		app.redisClient = client
		events, err := redisstore.NewEventLog(client, cfg.Redis.Prefix)
		if err != nil {
			return fmt.Errorf("redis event log init failed: %w", err)
		}
		app.events = events
		app.logger.Info("using redis event log", zap.String("addr", cfg.Redis.Addr))
	default:
		app.events = memorystorage.NewEventLog()
		app.logger.Info("using in-memory event log")
	}
	return nil
}

func setupBlobStore(ctx context.Context, app *App) (metrics.BlobStore, error) {
	cfg := app.cfg.Export
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS export store", zap.String("bucket", cfg.GCS.Bucket))
		return store, nil
	case "minio":
		store, err := miniostorage.New(ctx, cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("minio blob store init failed: %w", err)
		}
		app.logger.Info("using MinIO export store",
			zap.String("endpoint", cfg.MinIO.Endpoint),
			zap.String("bucket", cfg.MinIO.Bucket),
		)
		return store, nil
	case "local":
		store, err := localstorage.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local export store", zap.String("path", cfg.Local.BaseDir))
		return store, nil
	default:
		app.logger.Info("using in-memory export store")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	cfg := app.cfg.Notify
	switch cfg.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		pub, err := gcppublisher.NewFromClient(client, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.logger.Info("Pub/Sub notifications enabled",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
		return pub, nil
	case "nats":
		conn, pub, err := natspublisher.Connect(natspublisher.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("nats publisher init failed: %w", err)
		}
		app.natsConn = conn
		app.logger.Info("NATS notifications enabled",
			zap.String("url", cfg.NATS.URL),
			zap.String("stream", cfg.NATS.Stream),
		)
		return pub, nil
	case "memory":
		app.logger.Info("using in-memory notifications")
		return memorypublisher.New(), nil
	default:
		app.logger.Debug("notifications disabled")
		return nil, nil
	}
}

func setupSinks(
	app *App,
	reg prometheus.Registerer,
	pub publisher.Publisher,
	collector *metrics.Collector,
) ([]progress.Sink, error) {
	sinks := []progress.Sink{collector, progresssinks.NewEventLogSink(app.events)}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinks = append(sinks, promSink)
	if app.cfg.Hub.LogEvents {
		sinks = append(sinks, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	if pub != nil {
		sinks = append(sinks, progresssinks.NewNotifySink(pub, app.logger.Named("notify")))
	}
	app.logger.Debug("progress sinks configured", zap.Int("count", len(sinks)))
	return sinks, nil
}
