package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/upb/mdm-catalog/auth"
	"github.com/upb/mdm-catalog/config"
	"github.com/upb/mdm-catalog/internal/observability"
	"github.com/upb/mdm-catalog/middleware"
	"github.com/upb/mdm-catalog/repositories"
	"github.com/upb/mdm-catalog/repositories/postgres"
	"github.com/upb/mdm-catalog/services/audit"
	"github.com/upb/mdm-catalog/services/catalog"
	"github.com/upb/mdm-catalog/services/files"
	"github.com/upb/mdm-catalog/services/inspector"
	"github.com/upb/mdm-catalog/services/worker"
	"go.uber.org/zap"
)

const metricsNamespace = "mdm"

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Observability
	Registry    *prometheus.Registry
	Metrics     observability.Metrics
	HTTPMetrics observability.HTTPMetrics

	// Engine collaborators
	Files     *files.LocalArea
	Inspector *inspector.AAPTInspector
	Workers   *worker.Pool
	Audit     *audit.AuditService

	// Engine
	Catalog   *catalog.Service
	Scheduler *catalog.Scheduler

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	started bool
	closed  bool
}

// NewDependencies opens the database described by cfg and wires every
// component on top of it.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesWithFactory(ctx, cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithFactory wires the components on an existing repository
// factory.
func NewDependenciesWithFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initMetrics(cfg)
	deps.initEngine(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase verifies the connection and creates the schema when asked to
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := d.RepoFactory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		d.Logger.Info("database schema initialized")
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.Noop{}
		d.HTTPMetrics = observability.Noop{}
		return
	}
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := observability.NewProm(metricsNamespace, d.Registry)
	d.Metrics = prom
	d.HTTPMetrics = prom
}

// initEngine builds the files area, the inspector, the background workers,
// the audit trail and the catalog service that ties them together.
func (d *Dependencies) initEngine(cfg *config.Config) {
	d.Files = files.NewLocalArea(cfg.Files.Directory, cfg.Files.BaseURL, d.Logger)
	d.Inspector = inspector.NewAAPTInspector(inspector.Config{
		Command: cfg.Inspector.Command,
		Timeout: cfg.Inspector.Timeout,
	}, d.Metrics, d.Logger)
	d.Workers = worker.NewPool(worker.Config{
		Size:      cfg.Workers.PoolSize,
		QueueSize: cfg.Workers.QueueSize,
	}, d.Metrics, d.Logger)
	d.Audit = audit.NewAuditService(d.Repos.AuditLogs, d.Logger, audit.DefaultConfig())

	d.Catalog = catalog.NewService(catalog.Dependencies{
		Repos:          d.Repos,
		TxManager:      d.TxManager,
		Inspector:      d.Inspector,
		Files:          d.Files,
		Tasks:          d.Workers,
		Auditor:        d.Audit,
		Metrics:        d.Metrics,
		Logger:         d.Logger,
		MasterTenantID: cfg.Catalog.MasterTenantID,
	})

	if cfg.Catalog.ConsistencyScan != "" {
		d.Scheduler = catalog.NewScheduler(d.Catalog, cfg.Catalog.ConsistencyScan, d.Logger)
	}
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT secret not configured, protected routes will reject every request")
		d.AuthMiddleware = middleware.NewAuthMiddleware(rejectAllValidator{}, d.Logger)
		return
	}
	validator := auth.NewValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
		Leeway: 30 * time.Second,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

// rejectAllValidator rejects all tokens (used when no secret is configured)
type rejectAllValidator struct{}

func (rejectAllValidator) ValidateToken(context.Context, string) (*auth.Claims, error) {
	return nil, errors.New("authentication not configured")
}

// Start launches the background components: workers, audit writers and the
// consistency scan.
func (d *Dependencies) Start() error {
	if d.started {
		return errors.New("dependencies already started")
	}
	if err := d.Workers.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := d.Audit.Start(); err != nil {
		_ = d.Workers.Stop(time.Second)
		return fmt.Errorf("failed to start audit service: %w", err)
	}
	if d.Scheduler != nil {
		if err := d.Scheduler.Start(); err != nil {
			_ = d.Workers.Stop(time.Second)
			_ = d.Audit.Stop(time.Second)
			return fmt.Errorf("failed to start consistency scan: %w", err)
		}
	}
	d.started = true
	return nil
}

// Close gracefully shuts down all dependencies. Background work gets the
// time left on ctx, or five seconds when ctx has no deadline.
func (d *Dependencies) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.Logger.Info("shutting down dependencies")

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var errs []error

	if d.Scheduler != nil {
		d.Scheduler.Stop()
	}
	if d.started {
		if err := d.Workers.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop worker pool: %w", err))
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}
	return nil
}
