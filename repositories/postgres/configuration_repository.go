package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/repositories"
	"go.uber.org/zap"
)

// ConfigurationRepository implements the repositories.ConfigurationRepository interface
type ConfigurationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewConfigurationRepository creates a new configuration repository
func NewConfigurationRepository(db *DB, logger *zap.Logger) repositories.ConfigurationRepository {
	return &ConfigurationRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new configuration
func (r *ConfigurationRepository) Create(ctx context.Context, cfg *models.Configuration) error {
	query := `
		INSERT INTO configurations (
			id, tenant_id, name, main_app_version_id, content_app_version_id, kiosk_mode,
			auto_update_main_app, auto_update_content_app,
			main_app_valid, content_app_valid, kiosk_app_valid, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		cfg.ID,
		cfg.TenantID,
		cfg.Name,
		cfg.MainAppVersionID,
		cfg.ContentAppVersionID,
		cfg.KioskMode,
		cfg.AutoUpdateMainApp,
		cfg.AutoUpdateContentApp,
		cfg.MainAppValid,
		cfg.ContentAppValid,
		cfg.KioskAppValid,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return translateError("failed to create configuration", err)
	}

	r.logger.Debug("configuration created", zap.String("id", cfg.ID.String()), zap.String("name", cfg.Name))
	return nil
}

// GetByID retrieves a configuration by ID
func (r *ConfigurationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Configuration, error) {
	query := `
		SELECT id, tenant_id, name, main_app_version_id, content_app_version_id, kiosk_mode,
		       auto_update_main_app, auto_update_content_app,
		       main_app_valid, content_app_valid, kiosk_app_valid, created_at, updated_at
		FROM configurations
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	cfg := &models.Configuration{}
	var mainID, contentID uuid.NullUUID

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&cfg.ID,
		&cfg.TenantID,
		&cfg.Name,
		&mainID,
		&contentID,
		&cfg.KioskMode,
		&cfg.AutoUpdateMainApp,
		&cfg.AutoUpdateContentApp,
		&cfg.MainAppValid,
		&cfg.ContentAppValid,
		&cfg.KioskAppValid,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, translateError("failed to get configuration", err)
	}
	if mainID.Valid {
		v := mainID.UUID
		cfg.MainAppVersionID = &v
	}
	if contentID.Valid {
		v := contentID.UUID
		cfg.ContentAppVersionID = &v
	}

	return cfg, nil
}

// AutoUpdateMainApp re-points auto-update main app references of the application
func (r *ConfigurationRepository) AutoUpdateMainApp(ctx context.Context, appID, versionID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		UPDATE configurations
		SET main_app_version_id = $2, updated_at = NOW()
		WHERE auto_update_main_app
		  AND main_app_version_id IN (SELECT id FROM application_versions WHERE application_id = $1)
		RETURNING tenant_id
	`
	return r.autoUpdate(ctx, "main", query, appID, versionID)
}

// AutoUpdateContentApp re-points auto-update content app references of the application
func (r *ConfigurationRepository) AutoUpdateContentApp(ctx context.Context, appID, versionID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		UPDATE configurations
		SET content_app_version_id = $2, updated_at = NOW()
		WHERE auto_update_content_app
		  AND content_app_version_id IN (SELECT id FROM application_versions WHERE application_id = $1)
		RETURNING tenant_id
	`
	return r.autoUpdate(ctx, "content", query, appID, versionID)
}

func (r *ConfigurationRepository) autoUpdate(ctx context.Context, slot, query string, appID, versionID uuid.UUID) ([]uuid.UUID, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, appID, versionID)
	if err != nil {
		return nil, translateError(fmt.Sprintf("failed to auto-update %s app", slot), err)
	}
	tenants, n, err := collectTenants(rows)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("configurations auto-updated",
		zap.String("slot", slot),
		zap.String("application_id", appID.String()),
		zap.String("version_id", versionID.String()),
		zap.Int("count", n))
	return tenants, nil
}

// RepointVersion replaces main and content references to oldVersionID
func (r *ConfigurationRepository) RepointVersion(ctx context.Context, oldVersionID, newVersionID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		UPDATE configurations
		SET main_app_version_id = CASE WHEN main_app_version_id = $1 THEN $2 ELSE main_app_version_id END,
		    content_app_version_id = CASE WHEN content_app_version_id = $1 THEN $2 ELSE content_app_version_id END,
		    updated_at = NOW()
		WHERE main_app_version_id = $1 OR content_app_version_id = $1
		RETURNING tenant_id
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, oldVersionID, newVersionID)
	if err != nil {
		return nil, translateError("failed to repoint configurations", err)
	}
	tenants, _, err := collectTenants(rows)
	return tenants, err
}

// RecheckTenant recomputes the validity flags of the tenant's configurations.
// A main or content app is valid when the configuration installs it through
// an app-level or a version-level link. Kiosk validity reads the freshly
// computed main flag, hence the second statement.
func (r *ConfigurationRepository) RecheckTenant(ctx context.Context, tenantID uuid.UUID) error {
	appsQuery := `
		UPDATE configurations c
		SET main_app_valid = (c.main_app_version_id IS NULL OR ` + installedClause("c.main_app_version_id") + `),
		    content_app_valid = (c.content_app_version_id IS NULL OR ` + installedClause("c.content_app_version_id") + `)
		WHERE c.tenant_id = $1
	`
	kioskQuery := `
		UPDATE configurations
		SET kiosk_app_valid = (NOT kiosk_mode OR (main_app_version_id IS NOT NULL AND main_app_valid))
		WHERE tenant_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, appsQuery, tenantID); err != nil {
		return fmt.Errorf("failed to recheck configuration apps: %w", err)
	}
	if _, err := executor.ExecContext(ctx, kioskQuery, tenantID); err != nil {
		return fmt.Errorf("failed to recheck kiosk apps: %w", err)
	}

	r.logger.Debug("configurations rechecked", zap.String("tenant_id", tenantID.String()))
	return nil
}

func installedClause(column string) string {
	return fmt.Sprintf(`(
			EXISTS (
				SELECT 1 FROM configuration_applications ca
				INNER JOIN application_versions v ON v.application_id = ca.application_id
				WHERE ca.configuration_id = c.id AND ca.action = 1 AND v.id = %[1]s
			) OR EXISTS (
				SELECT 1 FROM configuration_application_versions cav
				WHERE cav.configuration_id = c.id AND cav.action = 1 AND cav.application_version_id = %[1]s
			)
		)`, column)
}
