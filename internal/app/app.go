// Package app builds and holds the long-lived services of a progressrelay
// process: logger, session coordinator, presenters and their backends, and
// the optional status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/progressrelay/internal/api"
	"github.com/JakeFAU/progressrelay/internal/config"
	"github.com/JakeFAU/progressrelay/internal/logging"
	"github.com/JakeFAU/progressrelay/internal/progress/presenters"
	gcppublisher "github.com/JakeFAU/progressrelay/internal/publisher/pubsub"
	"github.com/JakeFAU/progressrelay/internal/session"
	pgstore "github.com/JakeFAU/progressrelay/internal/storage/postgres"
	"github.com/JakeFAU/progressrelay/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Notifier publishes task notices and owns its connection.
type Notifier interface {
	presenters.Publisher
	Close() error
}

// Options adjusts how Build wires the container. Zero values use the
// production defaults.
type Options struct {
	// Out receives the terminal presentation. Defaults to os.Stderr.
	Out io.Writer
	// Logger replaces the logger built from the logging config.
	Logger *zap.Logger
	// Registerer receives the task collectors. Defaults to the global registry.
	Registerer prometheus.Registerer
	// Repo and Notifier replace the configured Postgres store and Pub/Sub
	// publisher.
	Repo     store.TaskRepository
	Notifier Notifier
	// PubSubOptions are passed to the Pub/Sub client.
	PubSubOptions []option.ClientOption
	// Worker builds a worker-process container: no status server, task
	// store, notices or task metrics. Those belong to the main process.
	Worker bool
}

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	ownsLogger  bool
	coordinator *session.Coordinator
	taskStore   *pgstore.TaskStore
	repo        store.TaskRepository
	notifier    Notifier
	ownsNotify  bool
	apiServer   *api.Server
	httpServer  *http.Server
	listener    net.Listener
	serveDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies. Callers must Close the App.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{cfg: cfg, logger: opts.Logger, repo: opts.Repo, notifier: opts.Notifier}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
		app.ownsLogger = true
	}
	app.logger.Debug("building application dependencies", zap.Bool("worker", opts.Worker))

	deps := presenters.Deps{Out: opts.Out, Logger: app.logger}
	if !opts.Worker {
		if err := app.setupDatabase(ctx); err != nil {
			app.abort()
			return nil, err
		}
		if err := app.setupNotifier(ctx, opts.PubSubOptions); err != nil {
			app.abort()
			return nil, err
		}
		if cfg.Presentation.Metrics {
			metrics, err := presenters.NewPrometheus(opts.Registerer)
			if err != nil {
				app.abort()
				return nil, fmt.Errorf("task metrics init failed: %w", err)
			}
			deps.Metrics = metrics
		}
		deps.Repo = app.repo
		if app.notifier != nil {
			deps.Publisher = app.notifier
		}
	}

	factory, err := presenters.NewFactory(presenters.FactoryConfig{
		Mode:          cfg.Presentation.Mode,
		Width:         cfg.Presentation.Width,
		LineInterval:  cfg.Presentation.LineInterval,
		StoreInterval: cfg.Presentation.StoreInterval,
	}, deps)
	if err != nil {
		app.abort()
		return nil, fmt.Errorf("presentation init failed: %w", err)
	}

	app.coordinator = session.New(session.Options{
		Factory: factory,
		Logger:  app.logger,
		Relay: session.RelayOptions{
			Enabled:      cfg.Relay.Enabled && !opts.Worker,
			Network:      cfg.Relay.Network,
			Address:      cfg.Relay.Address,
			DrainTimeout: cfg.Relay.DrainTimeout,
		},
		PresentTimeout: cfg.Presentation.PresentTimeout,
		StallWarning:   cfg.Session.StallWarning,
	})

	if !opts.Worker && cfg.Server.Enabled {
		var ready api.Pinger
		if app.taskStore != nil {
			ready = app.taskStore
		}
		app.apiServer = api.NewServer(app.coordinator, app.repo, ready, app.logger.Named("api"))
	}
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.repo != nil {
		return nil
	}
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no DSN specified for database, task persistence disabled")
		return nil
	}
	taskStore, err := pgstore.NewTaskStore(ctx, pgstore.TaskStoreConfig{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("task store init failed: %w", err)
	}
	a.taskStore = taskStore
	a.repo = taskStore
	if a.cfg.DB.AutoMigrate {
		if err := taskStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("task store migration failed: %w", err)
		}
	}
	a.logger.Info("task store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupNotifier(ctx context.Context, opts []option.ClientOption) error {
	if a.notifier != nil {
		return nil
	}
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, task notices disabled")
		return nil
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	pub, err := gcppublisher.Dial(ctx, gcppublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicID:   a.cfg.PubSub.TopicName,
	}, opts...)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.notifier = pub
	a.ownsNotify = true
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// abort releases whatever Build managed to open before failing.
func (a *App) abort() {
	if err := a.closeInfrastructure(); err != nil {
		a.logger.Warn("cleanup after failed build", zap.Error(err))
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Coordinator returns the process's session coordinator.
func (a *App) Coordinator() *session.Coordinator {
	return a.coordinator
}

// Handler returns the status server's handler, or nil when it is disabled.
func (a *App) Handler() http.Handler {
	if a.apiServer == nil {
		return nil
	}
	return a.apiServer.Handler()
}

// Start begins serving the status API when enabled. It returns once the
// listener is bound.
func (a *App) Start() error {
	if a.apiServer == nil || a.httpServer != nil {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	a.listener = ln
	a.httpServer = &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.serveDone = make(chan struct{})
	go func() {
		defer close(a.serveDone)
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the status server's bound address, or "" before Start.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Flush ends the current progress session, waiting for every event to be
// presented.
func (a *App) Flush() error {
	if err := a.coordinator.Flush(); err != nil {
		return fmt.Errorf("flush progress session: %w", err)
	}
	return nil
}

// Fatal flushes progress and logs msg at fatal level, which exits the process.
func (a *App) Fatal(msg string, fields ...zap.Field) {
	if err := a.Flush(); err != nil {
		fields = append(fields, zap.NamedError("flush_error", err))
	}
	a.logger.Fatal(msg, fields...)
}

// Close flushes the session, then shuts the server and backends down. It is
// safe to call more than once; later calls return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		err := a.Flush()
		if a.httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			if serr := a.httpServer.Shutdown(shutdownCtx); serr != nil {
				err = multierr.Append(err, fmt.Errorf("server shutdown: %w", serr))
			}
			cancel()
			<-a.serveDone
		}
		err = multierr.Append(err, a.closeInfrastructure())
		a.closeObservability()
		a.closeErr = err
	})
	return a.closeErr
}

func (a *App) closeInfrastructure() error {
	var err error
	if a.notifier != nil && a.ownsNotify {
		if cerr := a.notifier.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
		a.notifier = nil
	}
	if a.taskStore != nil {
		a.taskStore.Close()
		a.taskStore = nil
	}
	return err
}

func (a *App) closeObservability() {
	if !a.ownsLogger {
		return
	}
	// Syncing stderr fails with EINVAL or ENOTTY on terminals; nothing to report.
	if err := a.logger.Sync(); err != nil && !isSyncNoise(err) {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
	}
}

func isSyncNoise(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}
