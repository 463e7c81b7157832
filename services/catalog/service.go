// Package catalog is the application/version consistency engine. It decides
// whether an upload belongs to a new or an existing application, keeps
// package and version uniqueness per visibility scope, cascades version
// changes into configuration links and merges private applications into
// common ones.
//
// Every operation takes the acting tenant.Caller explicitly. All database
// mutations of one operation run in a single transaction; file I/O, audit
// entries and metrics happen only after commit.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/internal/observability"
	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/repositories"
	"github.com/upb/mdm-catalog/services"
	"github.com/upb/mdm-catalog/services/files"
	"github.com/upb/mdm-catalog/services/inspector"
	"github.com/upb/mdm-catalog/services/worker"
	"go.uber.org/zap"
)

// TaskRunner accepts fire-and-forget background work
type TaskRunner interface {
	Submit(name string, fn worker.Task) bool
}

// Auditor records catalog changes
type Auditor interface {
	LogApplicationCreated(caller tenant.Caller, app *models.Application) error
	LogApplicationUpdated(caller tenant.Caller, app *models.Application, changes map[string]interface{}) error
	LogApplicationDeleted(caller tenant.Caller, app *models.Application) error
	LogApplicationPromoted(caller tenant.Caller, common *models.Application, merged []uuid.UUID, versions int) error
	LogVersionCreated(caller tenant.Caller, v *models.ApplicationVersion) error
	LogVersionUpdated(caller tenant.Caller, v *models.ApplicationVersion) error
	LogVersionDeleted(caller tenant.Caller, v *models.ApplicationVersion) error
	LogLinksUpdated(caller tenant.Caller, resourceType string, resourceID uuid.UUID, count int) error
}

// Dependencies groups the collaborators of the Service
type Dependencies struct {
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager
	Inspector inspector.Inspector
	Files     files.Area
	Tasks     TaskRunner
	Auditor   Auditor
	Metrics   observability.Metrics
	Logger    *zap.Logger

	// MasterTenantID owns every common application
	MasterTenantID uuid.UUID
}

// Service implements the catalog operations
type Service struct {
	tenants   repositories.TenantRepository
	apps      repositories.ApplicationRepository
	versions  repositories.ApplicationVersionRepository
	links     repositories.LinkRepository
	configs   repositories.ConfigurationRepository
	txManager repositories.TransactionManager
	inspector inspector.Inspector
	files     files.Area
	tasks     TaskRunner
	auditor   Auditor
	metrics   observability.Metrics
	logger    *zap.Logger
	masterID  uuid.UUID
}

// NewService creates the engine. Tasks default to running inline, the
// auditor and metrics to no-ops.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		tenants:   deps.Repos.Tenants,
		apps:      deps.Repos.Applications,
		versions:  deps.Repos.Versions,
		links:     deps.Repos.Links,
		configs:   deps.Repos.Configurations,
		txManager: deps.TxManager,
		inspector: deps.Inspector,
		files:     deps.Files,
		tasks:     deps.Tasks,
		auditor:   deps.Auditor,
		metrics:   deps.Metrics,
		logger:    logger,
		masterID:  deps.MasterTenantID,
	}
	if s.tasks == nil {
		s.tasks = inlineTasks{logger: logger}
	}
	if s.auditor == nil {
		s.auditor = noopAuditor{}
	}
	if s.metrics == nil {
		s.metrics = observability.Noop{}
	}
	return s
}

// inlineTasks runs submitted work synchronously
type inlineTasks struct {
	logger *zap.Logger
}

func (t inlineTasks) Submit(name string, fn worker.Task) bool {
	if err := fn(context.Background()); err != nil {
		t.logger.Error("background task failed", zap.String("task", name), zap.Error(err))
	}
	return true
}

type noopAuditor struct{}

func (noopAuditor) LogApplicationCreated(tenant.Caller, *models.Application) error { return nil }
func (noopAuditor) LogApplicationUpdated(tenant.Caller, *models.Application, map[string]interface{}) error {
	return nil
}
func (noopAuditor) LogApplicationDeleted(tenant.Caller, *models.Application) error { return nil }
func (noopAuditor) LogApplicationPromoted(tenant.Caller, *models.Application, []uuid.UUID, int) error {
	return nil
}
func (noopAuditor) LogVersionCreated(tenant.Caller, *models.ApplicationVersion) error { return nil }
func (noopAuditor) LogVersionUpdated(tenant.Caller, *models.ApplicationVersion) error { return nil }
func (noopAuditor) LogVersionDeleted(tenant.Caller, *models.ApplicationVersion) error { return nil }
func (noopAuditor) LogLinksUpdated(tenant.Caller, string, uuid.UUID, int) error       { return nil }

// audit reports a failed audit submission without failing the operation
func (s *Service) audit(op string, err error) {
	if err != nil {
		s.logger.Warn("could not record audit entry", zap.String("operation", op), zap.Error(err))
	}
}

// observe counts the outcome of an operation
func (s *Service) observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = string(services.GetErrorCode(err))
		if status == "" {
			status = string(services.GetErrorType(err))
		}
		if status == "" {
			status = "error"
		}
	}
	s.metrics.IncOperation(op, status)
}

func requireCaller(caller tenant.Caller) error {
	if caller.Anonymous() {
		return services.ErrAnonymousAccess
	}
	return nil
}

// authorizeRead allows the owner of a private application and everybody on
// a common one
func authorizeRead(caller tenant.Caller, app *models.Application) error {
	if !app.VisibleTo(caller.TenantID) {
		return services.ErrTenantAccessViolation
	}
	return nil
}

// authorizeWrite requires a super-admin for common applications and the
// owning tenant for private ones
func authorizeWrite(caller tenant.Caller, app *models.Application) error {
	if app.Common {
		if !caller.SuperAdmin {
			return services.ErrSuperAdminRequired
		}
		return nil
	}
	if !caller.Owns(app.TenantID) {
		return services.ErrTenantAccessViolation
	}
	return nil
}

func (s *Service) getApplication(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrApplicationNotFound
		}
		return nil, services.WrapInternal("failed to load application", err)
	}
	return app, nil
}

func (s *Service) getVersion(ctx context.Context, id uuid.UUID) (*models.ApplicationVersion, error) {
	v, err := s.versions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrVersionNotFound
		}
		return nil, services.WrapInternal("failed to load application version", err)
	}
	return v, nil
}

func (s *Service) getTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrTenantNotFound
		}
		return nil, services.WrapInternal("failed to load tenant", err)
	}
	return t, nil
}

func (s *Service) getConfiguration(ctx context.Context, id uuid.UUID) (*models.Configuration, error) {
	cfg, err := s.configs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrConfigurationNotFound
		}
		return nil, services.WrapInternal("failed to load configuration", err)
	}
	return cfg, nil
}

// findVersion returns the version holding (pkg, version), or nil
func (s *Service) findVersion(ctx context.Context, pkg, version string) (*models.ApplicationVersion, error) {
	v, err := s.versions.FindByPkgAndVersion(ctx, pkg, version)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil
		}
		return nil, services.WrapInternal("failed to look up version", err)
	}
	return v, nil
}

// guardDuplicate rejects an existing (pkg, version) pair, naming the tenant
// that owns it
func (s *Service) guardDuplicate(ctx context.Context, pkg, version string) error {
	existing, err := s.findVersion(ctx, pkg, version)
	if err != nil || existing == nil {
		return err
	}
	owner, err := s.getApplication(ctx, existing.ApplicationID)
	if err != nil {
		return err
	}
	return services.NewDuplicateApplicationError(pkg, version, owner.TenantID)
}

// translateWriteError turns a unique violation raised by a write or by the
// commit into DuplicateApplication. The conflicting row is looked up again
// outside the failed transaction to name its tenant.
func (s *Service) translateWriteError(ctx context.Context, err error, pkg, version string, fallbackTenant uuid.UUID) error {
	if !errors.Is(err, repositories.ErrUniqueViolation) {
		return err
	}
	s.logger.Info("uniqueness conflict resolved by the database",
		zap.String("package", pkg),
		zap.String("version", version),
		zap.Error(err))

	owner := fallbackTenant
	if existing, lookupErr := s.findVersion(ctx, pkg, version); lookupErr == nil && existing != nil {
		if app, appErr := s.getApplication(ctx, existing.ApplicationID); appErr == nil {
			owner = app.TenantID
		}
	}
	return services.NewDuplicateApplicationError(pkg, version, owner)
}

// recheck recomputes configuration flags for every tenant in ids
func (s *Service) recheck(ctx context.Context, ids []uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if err := s.configs.RecheckTenant(ctx, id); err != nil {
			return services.WrapInternal("failed to recheck configurations", err)
		}
	}
	return nil
}
