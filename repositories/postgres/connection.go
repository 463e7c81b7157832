package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/mdm-catalog/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Wrap wraps an already opened pool
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// catalogSchema creates the catalog tables.
//
// Package uniqueness per visibility scope is enforced by two partial indexes:
// one private application per (tenant, pkg) and one common application per pkg.
// (pkg, version) is globally unique; the constraint is deferrable so that a
// promotion can insert the merged versions before deleting the originals.
const catalogSchema = `
	CREATE TABLE IF NOT EXISTS tenants (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		files_dir VARCHAR(255) NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS applications (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		pkg VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		show_icon BOOLEAN NOT NULL DEFAULT true,
		common BOOLEAN NOT NULL DEFAULT false,
		system BOOLEAN NOT NULL DEFAULT false,
		latest_version_id UUID,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uq_applications_private_pkg
		ON applications(tenant_id, pkg) WHERE NOT common;
	CREATE UNIQUE INDEX IF NOT EXISTS uq_applications_common_pkg
		ON applications(pkg) WHERE common;

	CREATE TABLE IF NOT EXISTS application_versions (
		id UUID PRIMARY KEY,
		application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		pkg VARCHAR(255) NOT NULL,
		version VARCHAR(255) NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		apk_hash VARCHAR(64) NOT NULL DEFAULT '',
		deletion_prohibited BOOLEAN NOT NULL DEFAULT false,
		common BOOLEAN NOT NULL DEFAULT false,
		system BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT uq_application_versions_pkg_version UNIQUE (pkg, version)
			DEFERRABLE INITIALLY IMMEDIATE
	);

	CREATE TABLE IF NOT EXISTS configurations (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		main_app_version_id UUID REFERENCES application_versions(id) ON DELETE SET NULL,
		content_app_version_id UUID REFERENCES application_versions(id) ON DELETE SET NULL,
		kiosk_mode BOOLEAN NOT NULL DEFAULT false,
		auto_update_main_app BOOLEAN NOT NULL DEFAULT false,
		auto_update_content_app BOOLEAN NOT NULL DEFAULT false,
		main_app_valid BOOLEAN NOT NULL DEFAULT true,
		content_app_valid BOOLEAN NOT NULL DEFAULT true,
		kiosk_app_valid BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS configuration_applications (
		id UUID PRIMARY KEY,
		configuration_id UUID NOT NULL REFERENCES configurations(id) ON DELETE CASCADE,
		application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		application_version_id UUID REFERENCES application_versions(id) ON DELETE SET NULL,
		action SMALLINT NOT NULL,
		auto_update BOOLEAN NOT NULL DEFAULT false,
		UNIQUE (configuration_id, application_id)
	);

	CREATE TABLE IF NOT EXISTS configuration_application_versions (
		id UUID PRIMARY KEY,
		configuration_id UUID NOT NULL REFERENCES configurations(id) ON DELETE CASCADE,
		application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		application_version_id UUID NOT NULL REFERENCES application_versions(id) ON DELETE CASCADE,
		action SMALLINT NOT NULL,
		UNIQUE (configuration_id, application_version_id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uq_configuration_application_versions_install
		ON configuration_application_versions(configuration_id, application_id) WHERE action = 1;

	CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		user_id UUID,
		action VARCHAR(100) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		resource_id UUID,
		details JSONB,
		request_id VARCHAR(255) NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_applications_tenant_id ON applications(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_applications_pkg ON applications(pkg);
	CREATE INDEX IF NOT EXISTS idx_application_versions_application_id ON application_versions(application_id);
	CREATE INDEX IF NOT EXISTS idx_configurations_tenant_id ON configurations(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_configuration_applications_application_id ON configuration_applications(application_id);
	CREATE INDEX IF NOT EXISTS idx_configuration_application_versions_version_id ON configuration_application_versions(application_version_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_id ON audit_logs(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource_id ON audit_logs(resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
`

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
