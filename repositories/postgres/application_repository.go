package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/repositories"
	"go.uber.org/zap"
)

const applicationColumns = `id, tenant_id, pkg, name, show_icon, common, system, latest_version_id, created_at, updated_at`

// ApplicationRepository implements the repositories.ApplicationRepository interface
type ApplicationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *DB, logger *zap.Logger) repositories.ApplicationRepository {
	return &ApplicationRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new application
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	query := `
		INSERT INTO applications (` + applicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		app.ID,
		app.TenantID,
		app.Pkg,
		app.Name,
		app.ShowIcon,
		app.Common,
		app.System,
		app.LatestVersionID,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return translateError("failed to create application", err)
	}

	r.logger.Debug("application created",
		zap.String("id", app.ID.String()),
		zap.String("package", app.Pkg),
		zap.Bool("common", app.Common))
	return nil
}

// GetByID retrieves an application by ID
func (r *ApplicationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	app, err := scanApplication(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError("failed to get application", err)
	}
	return app, nil
}

// FindByPkg retrieves every application with the package id, oldest first
func (r *ApplicationRepository) FindByPkg(ctx context.Context, pkg string) ([]*models.Application, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM applications
		WHERE pkg = $1
		ORDER BY created_at ASC, id ASC
	`
	return r.queryApplications(ctx, query, pkg)
}

// ListVisible retrieves the tenant's own applications and all common ones
func (r *ApplicationRepository) ListVisible(ctx context.Context, tenantID uuid.UUID) ([]*models.Application, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM applications
		WHERE tenant_id = $1 OR common
		ORDER BY name ASC, pkg ASC
	`
	return r.queryApplications(ctx, query, tenantID)
}

// Update updates name, package, flags and the latest version pointer
func (r *ApplicationRepository) Update(ctx context.Context, app *models.Application) error {
	query := `
		UPDATE applications
		SET pkg = $2, name = $3, show_icon = $4, common = $5, system = $6,
		    latest_version_id = $7, updated_at = $8
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		app.ID,
		app.Pkg,
		app.Name,
		app.ShowIcon,
		app.Common,
		app.System,
		app.LatestVersionID,
		app.UpdatedAt,
	)
	if err != nil {
		return translateError("failed to update application", err)
	}
	if err := requireAffected("application not found", result); err != nil {
		return err
	}

	r.logger.Debug("application updated", zap.String("id", app.ID.String()))
	return nil
}

// SetLatestVersion points the application at versionID
func (r *ApplicationRepository) SetLatestVersion(ctx context.Context, appID uuid.UUID, versionID *uuid.UUID) error {
	query := `
		UPDATE applications
		SET latest_version_id = $2, updated_at = NOW()
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, appID, versionID)
	if err != nil {
		return translateError("failed to set latest version", err)
	}
	return requireAffected("application not found", result)
}

// Delete deletes an application
func (r *ApplicationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM applications WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return translateError("failed to delete application", err)
	}
	if err := requireAffected("application not found", result); err != nil {
		return err
	}

	r.logger.Debug("application deleted", zap.String("id", id.String()))
	return nil
}

// FindPackageConflicts lists scopes holding more than one application per package.
// The unique indexes make this empty on a healthy database; rows show up only
// when the indexes were dropped or data was loaded around them.
func (r *ApplicationRepository) FindPackageConflicts(ctx context.Context) ([]repositories.PackageConflict, error) {
	query := `
		SELECT pkg, CASE WHEN common THEN NULL ELSE tenant_id END AS scope, COUNT(*)
		FROM applications
		GROUP BY pkg, common, CASE WHEN common THEN NULL ELSE tenant_id END
		HAVING COUNT(*) > 1
		ORDER BY pkg
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query package conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []repositories.PackageConflict
	for rows.Next() {
		var c repositories.PackageConflict
		var scope uuid.NullUUID
		if err := rows.Scan(&c.Pkg, &scope, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan package conflict: %w", err)
		}
		if scope.Valid {
			tenantID := scope.UUID
			c.TenantID = &tenantID
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating package conflict rows: %w", err)
	}

	return conflicts, nil
}

func (r *ApplicationRepository) queryApplications(ctx context.Context, query string, args ...interface{}) ([]*models.Application, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating application rows: %w", err)
	}

	return apps, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

var _ rowScanner = (*sql.Row)(nil)

func scanApplication(row rowScanner) (*models.Application, error) {
	app := &models.Application{}
	var latest uuid.NullUUID
	err := row.Scan(
		&app.ID,
		&app.TenantID,
		&app.Pkg,
		&app.Name,
		&app.ShowIcon,
		&app.Common,
		&app.System,
		&latest,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if latest.Valid {
		id := latest.UUID
		app.LatestVersionID = &id
	}
	return app, nil
}
