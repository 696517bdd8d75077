// Package runtime builds the ledger process from configuration: stores,
// collaborators, the application services and the HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/vaultline/ledger/internal/app"
	"github.com/vaultline/ledger/internal/app/httpapi"
	"github.com/vaultline/ledger/internal/app/metrics"
	"github.com/vaultline/ledger/internal/app/notify"
	"github.com/vaultline/ledger/internal/app/pricing"
	"github.com/vaultline/ledger/internal/app/storage"
	"github.com/vaultline/ledger/internal/app/storage/memory"
	"github.com/vaultline/ledger/internal/app/storage/postgres"
	"github.com/vaultline/ledger/internal/config"
	"github.com/vaultline/ledger/internal/identity"
	"github.com/vaultline/ledger/internal/locking"
	"github.com/vaultline/ledger/internal/platform/migrations"
	"github.com/vaultline/ledger/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	handler http.Handler
	server  *http.Server
	db      *sqlx.DB
	closers []io.Closer
}

// NewApplication constructs the process from cfg. A nil cfg is loaded from
// the environment.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	log := logger.New(cfg.Logging)

	a := &Application{cfg: cfg, log: log}
	if err := a.build(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context) error {
	cfg := a.cfg

	store, err := a.buildStore(ctx)
	if err != nil {
		return fmt.Errorf("configure store: %w", err)
	}

	oracle, err := pricing.New(cfg.Pricing, a.log.Named("pricing"))
	if err != nil {
		return fmt.Errorf("configure pricing: %w", err)
	}

	sender, err := notify.NewSender(cfg.Mail, a.log.Named("mail"))
	if err != nil {
		return fmt.Errorf("configure mail: %w", err)
	}
	dispatcher := notify.NewDispatcher(sender, notify.DefaultRenderer(), cfg.Mail.Timeout, a.log.Named("notify"))
	dispatcher.SetObserver(func(kind notify.Kind, outcome string) {
		metrics.RecordNotification(string(kind), outcome)
	})

	locker, err := a.buildLocker()
	if err != nil {
		return fmt.Errorf("configure payout lock: %w", err)
	}

	resolver, err := identity.New(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}

	application, err := app.New(app.Dependencies{
		Store:      store,
		Oracle:     oracle,
		Notifier:   dispatcher,
		Locker:     locker,
		Symbols:    cfg.Pricing.Symbols,
		AdminEmail: cfg.Mail.AdminEmail,
		Payouts:    cfg.Payouts,
	}, a.log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	a.app = application

	catalog, err := config.LoadCatalogOrDefault(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	if err := application.SeedCatalog(ctx, catalog); err != nil {
		return err
	}

	handler, closer, err := httpapi.NewHandler(application, httpapi.Options{
		Resolver:       resolver,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		Audit:          cfg.Audit,
		AuditDB:        a.db,
		Logger:         a.log.Named("http"),
	})
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}
	a.closers = append(a.closers, closer)
	a.handler = handler

	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return nil
}

func (a *Application) buildStore(ctx context.Context) (storage.Store, error) {
	switch a.cfg.Database.Driver {
	case "memory", "":
		a.log.Warn("DATABASE_DRIVER=memory; ledger state is not persisted")
		return memory.New(), nil
	case "postgres":
		db, err := openDatabase(ctx, a.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		if a.cfg.Database.Migrate {
			if err := migrations.Up(db.DB); err != nil {
				return nil, err
			}
			a.log.Info("database migrations applied")
		}
		return postgres.New(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", a.cfg.Database.Driver)
	}
}

func (a *Application) buildLocker() (locking.Locker, error) {
	switch a.cfg.Payouts.LockBackend {
	case "local", "":
		return locking.NewLocal(), nil
	case "redis":
		r, err := locking.NewRedisFromURL(a.cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r)
		return r, nil
	case "postgres":
		if a.db == nil {
			return nil, errors.New("postgres payout lock requires the postgres database driver")
		}
		return locking.NewPostgres(a.db), nil
	default:
		return nil, fmt.Errorf("unsupported payout lock %q", a.cfg.Payouts.LockBackend)
	}
}

// App returns the wired application services.
func (a *Application) App() *app.Application { return a.app }

// Handler returns the routed HTTP API.
func (a *Application) Handler() http.Handler { return a.handler }

// Run starts background services and the HTTP server, and blocks until ctx is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, drains background services and closes
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.app != nil {
		if err := a.app.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeResources()
	return errors.Join(errs...)
}

func (a *Application) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.WithError(err).Warn("error closing resource")
		}
	}
	a.closers = nil
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	db, err := postgres.Open(pingCtx, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}
