package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/models"
)

var (
	// ErrNotFound is returned (wrapped) when a looked-up row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned (wrapped) when a write or a commit breaks
	// a unique constraint
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction. Repositories called with the
	// transaction's Context run inside it.
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// TenantRepository handles tenant data operations
type TenantRepository interface {
	// Create creates a new tenant
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetByID retrieves a tenant by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// PackageConflict describes a visibility scope holding more than one
// application for the same package. TenantID is nil for the common scope.
type PackageConflict struct {
	Pkg      string
	TenantID *uuid.UUID
	Count    int
}

// ApplicationRepository handles application data operations
type ApplicationRepository interface {
	// Create creates a new application
	Create(ctx context.Context, app *models.Application) error

	// GetByID retrieves an application by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error)

	// FindByPkg retrieves every application with the package id, across all
	// tenants, oldest first
	FindByPkg(ctx context.Context, pkg string) ([]*models.Application, error)

	// ListVisible retrieves the tenant's own applications and all common ones
	ListVisible(ctx context.Context, tenantID uuid.UUID) ([]*models.Application, error)

	// Update updates name, package, flags and the latest version pointer
	Update(ctx context.Context, app *models.Application) error

	// SetLatestVersion points the application at versionID (nil clears it)
	SetLatestVersion(ctx context.Context, appID uuid.UUID, versionID *uuid.UUID) error

	// Delete deletes an application and, by cascade, its versions and links
	Delete(ctx context.Context, id uuid.UUID) error

	// FindPackageConflicts lists scopes breaking package uniqueness
	FindPackageConflicts(ctx context.Context) ([]PackageConflict, error)
}

// ApplicationVersionRepository handles application version data operations
type ApplicationVersionRepository interface {
	// Create creates a new version
	Create(ctx context.Context, version *models.ApplicationVersion) error

	// GetByID retrieves a version by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.ApplicationVersion, error)

	// FindByPkgAndVersion retrieves the version holding (pkg, version), if any
	FindByPkgAndVersion(ctx context.Context, pkg, version string) (*models.ApplicationVersion, error)

	// ListByApplication retrieves the versions of an application, oldest first
	ListByApplication(ctx context.Context, appID uuid.UUID) ([]*models.ApplicationVersion, error)

	// ListByApplications retrieves the versions of several applications, oldest first
	ListByApplications(ctx context.Context, appIDs []uuid.UUID) ([]*models.ApplicationVersion, error)

	// Update updates the label, URL, hash and deletion flag
	Update(ctx context.Context, version *models.ApplicationVersion) error

	// SyncApplicationFields copies pkg and flags of the application onto its versions
	SyncApplicationFields(ctx context.Context, app *models.Application) error

	// Delete deletes a version
	Delete(ctx context.Context, id uuid.UUID) error

	// DeferUniqueChecks postpones (pkg, version) uniqueness to commit time
	// for the current transaction
	DeferUniqueChecks(ctx context.Context) error
}

// LinkRepository handles configuration links at application and version level
type LinkRepository interface {
	// ListApplicationLinks retrieves app-level links of the tenant's configurations
	ListApplicationLinks(ctx context.Context, appID, tenantID uuid.UUID) ([]*models.ApplicationConfigurationLink, error)

	// UpsertApplicationLink creates or replaces the link for (configuration, application)
	UpsertApplicationLink(ctx context.Context, link *models.ApplicationConfigurationLink) error

	// DeleteApplicationLink removes the link for (configuration, application)
	DeleteApplicationLink(ctx context.Context, configID, appID uuid.UUID) error

	// AutoUpdateApplicationLinks re-points auto-update links of the application
	// to versionID and returns the tenants owning the touched configurations
	AutoUpdateApplicationLinks(ctx context.Context, appID, versionID uuid.UUID) ([]uuid.UUID, error)

	// ListVersionLinks retrieves version-level links of the tenant's configurations
	ListVersionLinks(ctx context.Context, versionID, tenantID uuid.UUID) ([]*models.ApplicationVersionConfigurationLink, error)

	// DeleteVersionLinks removes every link of the version held by the tenant's configurations
	DeleteVersionLinks(ctx context.Context, versionID, tenantID uuid.UUID) (int64, error)

	// InsertVersionLink creates a version-level link
	InsertVersionLink(ctx context.Context, link *models.ApplicationVersionConfigurationLink) error

	// UninstallOtherVersions turns install links on sibling versions into uninstall links
	UninstallOtherVersions(ctx context.Context, configID, appID, versionID uuid.UUID) (int64, error)

	// RepointVersion moves links from oldVersionID to (newAppID, newVersionID).
	// A link colliding with an existing one is merged into it, an install
	// winning; at most one install per configuration and application remains.
	RepointVersion(ctx context.Context, oldVersionID, newAppID, newVersionID uuid.UUID) ([]uuid.UUID, error)

	// MoveApplicationLinks moves app-level links from oldAppID to newAppID
	MoveApplicationLinks(ctx context.Context, oldAppID, newAppID uuid.UUID) ([]uuid.UUID, error)

	// CountVersionReferences counts links and configuration references to a version
	CountVersionReferences(ctx context.Context, versionID uuid.UUID) (int, error)

	// CountApplicationReferences counts links and configuration references to an application
	CountApplicationReferences(ctx context.Context, appID uuid.UUID) (int, error)
}

// ConfigurationRepository handles the catalog-facing part of configurations
type ConfigurationRepository interface {
	// Create creates a new configuration
	Create(ctx context.Context, cfg *models.Configuration) error

	// GetByID retrieves a configuration by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Configuration, error)

	// AutoUpdateMainApp re-points auto-update main app references of the
	// application to versionID and returns the affected tenants
	AutoUpdateMainApp(ctx context.Context, appID, versionID uuid.UUID) ([]uuid.UUID, error)

	// AutoUpdateContentApp does the same for content app references
	AutoUpdateContentApp(ctx context.Context, appID, versionID uuid.UUID) ([]uuid.UUID, error)

	// RepointVersion replaces main and content references to oldVersionID
	RepointVersion(ctx context.Context, oldVersionID, newVersionID uuid.UUID) ([]uuid.UUID, error)

	// RecheckTenant recomputes the main, content and kiosk validity flags of
	// the tenant's configurations
	RecheckTenant(ctx context.Context, tenantID uuid.UUID) error
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// ListByTenant retrieves audit logs for a tenant with pagination, newest first
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)

	// ListByResource retrieves audit logs of one resource, newest first
	ListByResource(ctx context.Context, resourceID uuid.UUID, limit int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Tenants        TenantRepository
	Applications   ApplicationRepository
	Versions       ApplicationVersionRepository
	Links          LinkRepository
	Configurations ConfigurationRepository
	AuditLogs      AuditRepository
}
