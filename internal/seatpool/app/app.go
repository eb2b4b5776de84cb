package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/provider"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/service"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store/drivers/sqldb"
	"github.com/aussiebroadwan/seatpool/pkg/cryptox"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
	"golang.org/x/sync/errgroup"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

var ErrNoProvider = errors.New("PROVIDER_BASE_URL is required for this command")

// Application wires the stores, the provider gateway and the services.
type Application struct {
	cfg    Config
	logger *slog.Logger

	pool    *sqldb.Store
	ledger  *sqldb.Store // nil when invite requests live in the pool database
	gateway provider.Gateway
	migrate bool

	orchestrator *service.InviteOrchestrator
	reconciler   *service.Reconciler
	accounts     *service.AccountService
	jobs         *service.JobService
	sweeper      *service.MaintenanceSweeper
}

type Option func(*Application)

// WithGateway replaces the HTTP provider gateway.
func WithGateway(gw provider.Gateway) Option {
	return func(app *Application) { app.gateway = gw }
}

func WithLogger(logger *slog.Logger) Option {
	return func(app *Application) { app.logger = logger }
}

// WithoutMigrations skips applying migrations on startup.
func WithoutMigrations() Option {
	return func(app *Application) { app.migrate = false }
}

// New opens the databases, applies migrations and builds every service.
func New(ctx context.Context, cfg Config, opts ...Option) (*Application, error) {
	app := &Application{cfg: cfg, migrate: true}
	app.cfg.Settings = app.cfg.Settings.Normalize()
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "seatpool",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}

	if err := app.initDatabases(ctx); err != nil {
		return nil, err
	}
	if err := app.initGateway(); err != nil {
		_ = app.Close()
		return nil, err
	}
	app.initServices()

	return app, nil
}

func (app *Application) initDatabases(ctx context.Context) error {
	var sealer *cryptox.Sealer
	if app.cfg.MasterKeyPath != "" || os.Getenv("SEATPOOL_MASTER_KEY") != "" {
		s, err := cryptox.LoadSealer(app.cfg.MasterKeyPath)
		if err != nil {
			return fmt.Errorf("failed to load master key: %w", err)
		}
		sealer = s
	} else {
		app.logger.Warn("no master key configured, account tokens are stored unsealed")
	}

	opts := sqldb.Options{ForceCAS: app.cfg.ForceCAS, Sealer: sealer, Logger: app.logger}

	pool, err := sqldb.Open(ctx, app.cfg.DatabaseDriver, app.cfg.DatabaseURL, app.cfg.Settings, opts)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	app.pool = pool
	app.logger.Info("database opened",
		slog.String("dialect", string(pool.Dialect())),
		slog.Bool("skip_locked", pool.SupportsSkipLocked()),
	)

	if app.cfg.LedgerDatabaseURL != "" {
		ledger, err := sqldb.Open(ctx, app.cfg.DatabaseDriver, app.cfg.LedgerDatabaseURL, app.cfg.Settings, opts)
		if err != nil {
			_ = pool.Close()
			return fmt.Errorf("failed to open ledger database: %w", err)
		}
		app.ledger = ledger
		app.logger.Info("ledger database opened")
	}

	if !app.migrate {
		return nil
	}
	if err := app.Migrate(); err != nil {
		_ = app.Close()
		return err
	}
	return nil
}

// Migrate applies pending migrations to the pool and ledger databases.
func (app *Application) Migrate() error {
	if err := app.pool.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if app.ledger != nil {
		if err := app.ledger.ApplyMigrations(); err != nil {
			return fmt.Errorf("failed to apply ledger migrations: %w", err)
		}
	}
	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initGateway() error {
	if app.gateway != nil || app.cfg.ProviderBaseURL == "" {
		return nil
	}
	gw, err := provider.NewHTTPGateway(provider.HTTPConfig{
		BaseURL:       app.cfg.ProviderBaseURL,
		Timeout:       app.cfg.ProviderTimeout,
		RatePerSecond: app.cfg.ProviderRatePerSecond,
		Burst:         app.cfg.ProviderBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to create provider gateway: %w", err)
	}
	app.gateway = gw
	return nil
}

func (app *Application) initServices() {
	ledger := app.Ledger()

	app.orchestrator = service.NewInviteOrchestrator(app.pool, ledger, app.gateway, app.cfg.Settings)
	app.reconciler = service.NewReconciler(app.pool, ledger, app.gateway)
	app.accounts = service.NewAccountService(app.pool)
	app.jobs = service.NewJobService(app.pool)

	var reconciler *service.Reconciler
	if app.gateway != nil {
		reconciler = app.reconciler
	}
	app.sweeper = service.NewMaintenanceSweeper(app.pool, ledger, reconciler, app.cfg.Settings, app.logger)
}

// RunWorker runs WORKER_CONCURRENCY job runners, the maintenance sweeper and
// the health server until ctx is cancelled.
func (app *Application) RunWorker(ctx context.Context) error {
	if app.gateway == nil {
		return ErrNoProvider
	}

	app.sweeper.Start()
	defer app.sweeper.Stop()

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < app.cfg.WorkerConcurrency; i++ {
		runner := service.NewJobRunner(app.pool, app.Ledger(), app.orchestrator, app.reconciler, app.cfg.Settings, app.logger)
		runner.PollInterval = app.cfg.WorkerPollInterval
		g.Go(func() error { return runner.Run(gctx) })
	}

	if app.cfg.HealthPort > 0 {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", app.cfg.HealthPort),
			Handler:           NewHealthHandler(time.Now(), BuildVersion, app.pool, app.ledgerOrNil(), app.logger),
			ReadHeaderTimeout: 3 * time.Second,
		}
		g.Go(func() error {
			app.logger.Info("health server listening", slog.Int("port", app.cfg.HealthPort))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				app.logger.Error("graceful server shutdown failed", slog.Any("error", err))
				_ = server.Close()
			}
			return nil
		})
	}

	app.logger.Info("worker started",
		slog.Int("concurrency", app.cfg.WorkerConcurrency),
		slog.String("version", BuildVersion),
	)
	err := g.Wait()
	app.logger.Info("worker stopped")
	return err
}

// Close closes the databases.
func (app *Application) Close() error {
	var errs []error
	if app.ledger != nil {
		errs = append(errs, app.ledger.Close())
	}
	if app.pool != nil {
		errs = append(errs, app.pool.Close())
	}
	return errors.Join(errs...)
}

func (app *Application) Logger() *slog.Logger { return app.logger }

func (app *Application) Store() *sqldb.Store { return app.pool }

// Ledger returns the store holding invite requests.
func (app *Application) Ledger() store.Ledger {
	if app.ledger != nil {
		return app.ledger
	}
	return app.pool
}

// LedgerStore returns the separate ledger database, or nil.
func (app *Application) LedgerStore() *sqldb.Store { return app.ledger }

func (app *Application) ledgerOrNil() store.Ledger {
	if app.ledger == nil {
		return nil
	}
	return app.ledger
}

// Orchestrator returns the invite orchestrator. It fails without a provider.
func (app *Application) Orchestrator() (*service.InviteOrchestrator, error) {
	if app.gateway == nil {
		return nil, ErrNoProvider
	}
	return app.orchestrator, nil
}

func (app *Application) Accounts() *service.AccountService { return app.accounts }

func (app *Application) Jobs() *service.JobService { return app.jobs }

func (app *Application) Sweeper() *service.MaintenanceSweeper { return app.sweeper }
