package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/repositories"
	"go.uber.org/zap"
)

const versionColumns = `id, application_id, pkg, version, url, apk_hash, deletion_prohibited, common, system, created_at`

// ApplicationVersionRepository implements the repositories.ApplicationVersionRepository interface
type ApplicationVersionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewApplicationVersionRepository creates a new application version repository
func NewApplicationVersionRepository(db *DB, logger *zap.Logger) repositories.ApplicationVersionRepository {
	return &ApplicationVersionRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new version
func (r *ApplicationVersionRepository) Create(ctx context.Context, v *models.ApplicationVersion) error {
	query := `
		INSERT INTO application_versions (` + versionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		v.ID,
		v.ApplicationID,
		v.Pkg,
		v.Version,
		v.URL,
		v.ApkHash,
		v.DeletionProhibited,
		v.Common,
		v.System,
		v.CreatedAt,
	)
	if err != nil {
		return translateError("failed to create application version", err)
	}

	r.logger.Debug("application version created",
		zap.String("id", v.ID.String()),
		zap.String("package", v.Pkg),
		zap.String("version", v.Version))
	return nil
}

// GetByID retrieves a version by ID
func (r *ApplicationVersionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ApplicationVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM application_versions WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	v, err := scanVersion(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError("failed to get application version", err)
	}
	return v, nil
}

// FindByPkgAndVersion retrieves the version holding (pkg, version)
func (r *ApplicationVersionRepository) FindByPkgAndVersion(ctx context.Context, pkg, version string) (*models.ApplicationVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM application_versions WHERE pkg = $1 AND version = $2`

	executor := GetExecutor(ctx, r.db)
	v, err := scanVersion(executor.QueryRowContext(ctx, query, pkg, version))
	if err != nil {
		return nil, translateError("failed to find application version", err)
	}
	return v, nil
}

// ListByApplication retrieves the versions of an application, oldest first
func (r *ApplicationVersionRepository) ListByApplication(ctx context.Context, appID uuid.UUID) ([]*models.ApplicationVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM application_versions
		WHERE application_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return r.queryVersions(ctx, query, appID)
}

// ListByApplications retrieves the versions of several applications, oldest first
func (r *ApplicationVersionRepository) ListByApplications(ctx context.Context, appIDs []uuid.UUID) ([]*models.ApplicationVersion, error) {
	if len(appIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(appIDs))
	for i, id := range appIDs {
		ids[i] = id.String()
	}

	query := `
		SELECT ` + versionColumns + `
		FROM application_versions
		WHERE application_id = ANY($1::uuid[])
		ORDER BY created_at ASC, id ASC
	`
	return r.queryVersions(ctx, query, pq.StringArray(ids))
}

// Update updates the label, URL, hash and deletion flag
func (r *ApplicationVersionRepository) Update(ctx context.Context, v *models.ApplicationVersion) error {
	query := `
		UPDATE application_versions
		SET version = $2, url = $3, apk_hash = $4, deletion_prohibited = $5
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, v.ID, v.Version, v.URL, v.ApkHash, v.DeletionProhibited)
	if err != nil {
		return translateError("failed to update application version", err)
	}
	return requireAffected("application version not found", result)
}

// SyncApplicationFields copies pkg and flags of the application onto its versions
func (r *ApplicationVersionRepository) SyncApplicationFields(ctx context.Context, app *models.Application) error {
	query := `
		UPDATE application_versions
		SET pkg = $2, common = $3, system = $4
		WHERE application_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, app.ID, app.Pkg, app.Common, app.System)
	if err != nil {
		return translateError("failed to sync application versions", err)
	}

	n, _ := result.RowsAffected()
	r.logger.Debug("application versions synced", zap.String("application_id", app.ID.String()), zap.Int64("count", n))
	return nil
}

// Delete deletes a version
func (r *ApplicationVersionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM application_versions WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return translateError("failed to delete application version", err)
	}
	if err := requireAffected("application version not found", result); err != nil {
		return err
	}

	r.logger.Debug("application version deleted", zap.String("id", id.String()))
	return nil
}

// DeferUniqueChecks postpones the (pkg, version) constraint to commit time.
// Outside a transaction the statement has no lasting effect.
func (r *ApplicationVersionRepository) DeferUniqueChecks(ctx context.Context) error {
	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, `SET CONSTRAINTS uq_application_versions_pkg_version DEFERRED`); err != nil {
		return fmt.Errorf("failed to defer unique checks: %w", err)
	}
	return nil
}

func (r *ApplicationVersionRepository) queryVersions(ctx context.Context, query string, args ...interface{}) ([]*models.ApplicationVersion, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query application versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.ApplicationVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating application version rows: %w", err)
	}

	return versions, nil
}

func scanVersion(row rowScanner) (*models.ApplicationVersion, error) {
	v := &models.ApplicationVersion{}
	err := row.Scan(
		&v.ID,
		&v.ApplicationID,
		&v.Pkg,
		&v.Version,
		&v.URL,
		&v.ApkHash,
		&v.DeletionProhibited,
		&v.Common,
		&v.System,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}
