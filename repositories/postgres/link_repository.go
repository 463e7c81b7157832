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

// LinkRepository implements the repositories.LinkRepository interface
type LinkRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *DB, logger *zap.Logger) repositories.LinkRepository {
	return &LinkRepository{
		db:     db,
		logger: logger,
	}
}

// ListApplicationLinks retrieves app-level links of the tenant's configurations
func (r *LinkRepository) ListApplicationLinks(ctx context.Context, appID, tenantID uuid.UUID) ([]*models.ApplicationConfigurationLink, error) {
	query := `
		SELECT ca.id, ca.configuration_id, ca.application_id, ca.application_version_id,
		       ca.action, ca.auto_update, c.name
		FROM configuration_applications ca
		INNER JOIN configurations c ON c.id = ca.configuration_id
		WHERE ca.application_id = $1 AND c.tenant_id = $2
		ORDER BY c.name ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, appID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query application links: %w", err)
	}
	defer rows.Close()

	var links []*models.ApplicationConfigurationLink
	for rows.Next() {
		link := &models.ApplicationConfigurationLink{}
		var versionID uuid.NullUUID
		err := rows.Scan(
			&link.ID,
			&link.ConfigurationID,
			&link.ApplicationID,
			&versionID,
			&link.Action,
			&link.AutoUpdate,
			&link.ConfigurationName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application link: %w", err)
		}
		if versionID.Valid {
			id := versionID.UUID
			link.ApplicationVersionID = &id
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating application link rows: %w", err)
	}

	return links, nil
}

// UpsertApplicationLink creates or replaces the link for (configuration, application)
func (r *LinkRepository) UpsertApplicationLink(ctx context.Context, link *models.ApplicationConfigurationLink) error {
	query := `
		INSERT INTO configuration_applications
			(id, configuration_id, application_id, application_version_id, action, auto_update)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (configuration_id, application_id) DO UPDATE
		SET application_version_id = EXCLUDED.application_version_id,
		    action = EXCLUDED.action,
		    auto_update = EXCLUDED.auto_update
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		link.ID,
		link.ConfigurationID,
		link.ApplicationID,
		link.ApplicationVersionID,
		int(link.Action),
		link.AutoUpdate,
	)
	if err != nil {
		return translateError("failed to upsert application link", err)
	}
	return nil
}

// DeleteApplicationLink removes the link for (configuration, application)
func (r *LinkRepository) DeleteApplicationLink(ctx context.Context, configID, appID uuid.UUID) error {
	query := `DELETE FROM configuration_applications WHERE configuration_id = $1 AND application_id = $2`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, configID, appID); err != nil {
		return translateError("failed to delete application link", err)
	}
	return nil
}

// AutoUpdateApplicationLinks re-points auto-update links of the application to versionID
func (r *LinkRepository) AutoUpdateApplicationLinks(ctx context.Context, appID, versionID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		UPDATE configuration_applications ca
		SET application_version_id = $2
		FROM configurations c
		WHERE c.id = ca.configuration_id AND ca.application_id = $1 AND ca.auto_update
		RETURNING c.tenant_id
	`

	tenants, n, err := r.returningTenants(ctx, query, appID, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-update application links: %w", err)
	}

	r.logger.Debug("auto-update links re-pointed",
		zap.String("application_id", appID.String()),
		zap.String("version_id", versionID.String()),
		zap.Int("count", n))
	return tenants, nil
}

// ListVersionLinks retrieves version-level links of the tenant's configurations
func (r *LinkRepository) ListVersionLinks(ctx context.Context, versionID, tenantID uuid.UUID) ([]*models.ApplicationVersionConfigurationLink, error) {
	query := `
		SELECT cav.id, cav.configuration_id, cav.application_id, cav.application_version_id,
		       cav.action, c.name
		FROM configuration_application_versions cav
		INNER JOIN configurations c ON c.id = cav.configuration_id
		WHERE cav.application_version_id = $1 AND c.tenant_id = $2
		ORDER BY c.name ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, versionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query version links: %w", err)
	}
	defer rows.Close()

	var links []*models.ApplicationVersionConfigurationLink
	for rows.Next() {
		link := &models.ApplicationVersionConfigurationLink{}
		err := rows.Scan(
			&link.ID,
			&link.ConfigurationID,
			&link.ApplicationID,
			&link.ApplicationVersionID,
			&link.Action,
			&link.ConfigurationName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating version link rows: %w", err)
	}

	return links, nil
}

// DeleteVersionLinks removes every link of the version held by the tenant's configurations
func (r *LinkRepository) DeleteVersionLinks(ctx context.Context, versionID, tenantID uuid.UUID) (int64, error) {
	query := `
		DELETE FROM configuration_application_versions cav
		USING configurations c
		WHERE c.id = cav.configuration_id AND cav.application_version_id = $1 AND c.tenant_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, versionID, tenantID)
	if err != nil {
		return 0, translateError("failed to delete version links", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// InsertVersionLink creates a version-level link
func (r *LinkRepository) InsertVersionLink(ctx context.Context, link *models.ApplicationVersionConfigurationLink) error {
	query := `
		INSERT INTO configuration_application_versions
			(id, configuration_id, application_id, application_version_id, action)
		VALUES ($1, $2, $3, $4, $5)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		link.ID,
		link.ConfigurationID,
		link.ApplicationID,
		link.ApplicationVersionID,
		int(link.Action),
	)
	if err != nil {
		return translateError("failed to insert version link", err)
	}
	return nil
}

// UninstallOtherVersions turns install links on sibling versions into uninstall links
func (r *LinkRepository) UninstallOtherVersions(ctx context.Context, configID, appID, versionID uuid.UUID) (int64, error) {
	query := `
		UPDATE configuration_application_versions
		SET action = $4
		WHERE configuration_id = $1 AND application_id = $2
		  AND application_version_id <> $3 AND action = $5
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, configID, appID, versionID,
		int(models.LinkActionUninstall), int(models.LinkActionInstall))
	if err != nil {
		return 0, translateError("failed to uninstall other versions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// RepointVersion moves links from oldVersionID to (newAppID, newVersionID).
// App-level links keep their application here; MoveApplicationLinks moves them.
//
// A configuration that already links newVersionID keeps a single link: an
// install on either side wins, otherwise the existing action stays. An
// install that would become a second install of newAppID in the same
// configuration is turned into an uninstall.
func (r *LinkRepository) RepointVersion(ctx context.Context, oldVersionID, newAppID, newVersionID uuid.UUID) ([]uuid.UUID, error) {
	mergeQuery := `
		DELETE FROM configuration_application_versions o
		USING configuration_application_versions t, configurations c
		WHERE o.application_version_id = $1
		  AND t.configuration_id = o.configuration_id AND t.application_version_id = $2
		  AND c.id = o.configuration_id
		RETURNING o.configuration_id, o.action, c.tenant_id
	`
	promoteQuery := `
		UPDATE configuration_application_versions t
		SET action = $4
		WHERE t.configuration_id = $1 AND t.application_version_id = $3 AND t.action <> $4
		  AND NOT EXISTS (
			SELECT 1 FROM configuration_application_versions x
			WHERE x.configuration_id = $1 AND x.application_id = $2
			  AND x.application_version_id <> $3 AND x.action = $4
		  )
	`
	demoteQuery := `
		UPDATE configuration_application_versions o
		SET action = $3
		WHERE o.application_version_id = $1 AND o.action = $4 AND o.application_id <> $2
		  AND EXISTS (
			SELECT 1 FROM configuration_application_versions x
			WHERE x.configuration_id = o.configuration_id AND x.application_id = $2 AND x.action = $4
		  )
	`
	versionQuery := `
		UPDATE configuration_application_versions cav
		SET application_id = $2, application_version_id = $3
		FROM configurations c
		WHERE c.id = cav.configuration_id AND cav.application_version_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM configuration_application_versions x
			WHERE x.configuration_id = cav.configuration_id AND x.application_version_id = $3
		  )
		RETURNING c.tenant_id
	`
	appQuery := `
		UPDATE configuration_applications ca
		SET application_version_id = $2
		FROM configurations c
		WHERE c.id = ca.configuration_id AND ca.application_version_id = $1
		RETURNING c.tenant_id
	`

	executor := GetExecutor(ctx, r.db)
	install, uninstall := int(models.LinkActionInstall), int(models.LinkActionUninstall)

	merged, mergedTenants, err := r.removeCollidingVersionLinks(ctx, mergeQuery, oldVersionID, newVersionID)
	if err != nil {
		return nil, err
	}
	for _, configID := range merged {
		if _, err := executor.ExecContext(ctx, promoteQuery, configID, newAppID, newVersionID, install); err != nil {
			return nil, translateError("failed to merge version links", err)
		}
	}

	demoted, err := executor.ExecContext(ctx, demoteQuery, oldVersionID, newAppID, uninstall, install)
	if err != nil {
		return nil, translateError("failed to demote version links", err)
	}
	nDemoted, err := demoted.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	versionTenants, nVersion, err := r.returningTenants(ctx, versionQuery, oldVersionID, newAppID, newVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to repoint version links: %w", err)
	}
	appTenants, nApp, err := r.returningTenants(ctx, appQuery, oldVersionID, newVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to repoint application links: %w", err)
	}

	r.logger.Debug("links repointed",
		zap.String("from_version_id", oldVersionID.String()),
		zap.String("to_version_id", newVersionID.String()),
		zap.Int("merged_links", len(mergedTenants)),
		zap.Int64("demoted_installs", nDemoted),
		zap.Int("version_links", nVersion),
		zap.Int("application_links", nApp))
	return mergeTenants(mergeTenants(mergedTenants, versionTenants), appTenants), nil
}

// removeCollidingVersionLinks deletes the links on the old version whose
// configuration already links the new one. It returns the configurations
// where the deleted link was an install, and the tenants touched.
func (r *LinkRepository) removeCollidingVersionLinks(ctx context.Context, query string, oldVersionID, newVersionID uuid.UUID) ([]uuid.UUID, []uuid.UUID, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, oldVersionID, newVersionID)
	if err != nil {
		return nil, nil, translateError("failed to merge version links", err)
	}
	defer rows.Close()

	var installs, tenants []uuid.UUID
	for rows.Next() {
		var configID, tenantID uuid.UUID
		var action int
		if err := rows.Scan(&configID, &action, &tenantID); err != nil {
			return nil, nil, fmt.Errorf("failed to scan merged link: %w", err)
		}
		if models.LinkAction(action) == models.LinkActionInstall {
			installs = append(installs, configID)
		}
		tenants = mergeTenants(tenants, []uuid.UUID{tenantID})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, translateError("error iterating merged links", err)
	}
	return installs, tenants, nil
}

// MoveApplicationLinks moves app-level links from oldAppID to newAppID.
// A configuration already linked to newAppID keeps its existing link.
func (r *LinkRepository) MoveApplicationLinks(ctx context.Context, oldAppID, newAppID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		UPDATE configuration_applications ca
		SET application_id = $2
		FROM configurations c
		WHERE c.id = ca.configuration_id AND ca.application_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM configuration_applications x
			WHERE x.configuration_id = ca.configuration_id AND x.application_id = $2
		  )
		RETURNING c.tenant_id
	`

	tenants, n, err := r.returningTenants(ctx, query, oldAppID, newAppID)
	if err != nil {
		return nil, fmt.Errorf("failed to move application links: %w", err)
	}

	r.logger.Debug("application links moved",
		zap.String("from_application_id", oldAppID.String()),
		zap.String("to_application_id", newAppID.String()),
		zap.Int("count", n))
	return tenants, nil
}

// CountVersionReferences counts links and configuration references to a version
func (r *LinkRepository) CountVersionReferences(ctx context.Context, versionID uuid.UUID) (int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM configuration_application_versions WHERE application_version_id = $1) +
			(SELECT COUNT(*) FROM configuration_applications WHERE application_version_id = $1) +
			(SELECT COUNT(*) FROM configurations WHERE main_app_version_id = $1 OR content_app_version_id = $1)
	`
	return r.count(ctx, query, versionID)
}

// CountApplicationReferences counts links and configuration references to an application
func (r *LinkRepository) CountApplicationReferences(ctx context.Context, appID uuid.UUID) (int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM configuration_application_versions WHERE application_id = $1) +
			(SELECT COUNT(*) FROM configuration_applications WHERE application_id = $1) +
			(SELECT COUNT(*) FROM configurations c
			 INNER JOIN application_versions v
			   ON v.id = c.main_app_version_id OR v.id = c.content_app_version_id
			 WHERE v.application_id = $1)
	`
	return r.count(ctx, query, appID)
}

func (r *LinkRepository) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	executor := GetExecutor(ctx, r.db)
	var n int
	if err := executor.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count references: %w", err)
	}
	return n, nil
}

// returningTenants runs an UPDATE ... RETURNING tenant_id and reports the
// distinct tenants plus the number of touched rows.
func (r *LinkRepository) returningTenants(ctx context.Context, query string, args ...interface{}) ([]uuid.UUID, int, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, translateError("update failed", err)
	}
	return collectTenants(rows)
}

func collectTenants(rows *sql.Rows) ([]uuid.UUID, int, error) {
	defer rows.Close()

	var tenants []uuid.UUID
	n := 0
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		n++
		tenants = mergeTenants(tenants, []uuid.UUID{id})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translateError("error iterating tenant rows", err)
	}
	return tenants, n, nil
}

// mergeTenants appends the ids of b missing from a, keeping first-seen order
func mergeTenants(a, b []uuid.UUID) []uuid.UUID {
	for _, id := range b {
		found := false
		for _, existing := range a {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			a = append(a, id)
		}
	}
	return a
}
