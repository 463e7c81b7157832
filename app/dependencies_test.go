package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/mdm-catalog/config"
	"github.com/upb/mdm-catalog/internal/observability"
	"github.com/upb/mdm-catalog/repositories/postgres"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "mdm",
			Database: "mdm_test",
			SSLMode:  "disable",
		},
		Files: config.FilesConfig{
			Directory: t.TempDir(),
			BaseURL:   "https://mdm.example.com",
		},
		Inspector: config.InspectorConfig{Command: "aapt", Timeout: time.Second},
		Workers:   config.WorkerConfig{PoolSize: 2, QueueSize: 10},
		Catalog: config.CatalogConfig{
			MasterTenantID:  uuid.New(),
			ConsistencyScan: "@every 1h",
		},
		Auth: config.AuthConfig{JWTSecret: "secret"},
		Observability: config.ObservabilityConfig{
			LogLevel:       "debug",
			LogFormat:      "json",
			MetricsEnabled: true,
		},
	}
}

func mockFactory(t *testing.T) (*postgres.RepositoryFactory, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	return postgres.NewRepositoryFactoryWithDB(postgres.Wrap(sqlDB, logger), logger), mock
}

func TestNewDependenciesWithFactory(t *testing.T) {
	t.Run("wires every component", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		factory, mock := mockFactory(t)
		mock.ExpectPing()

		deps, err := NewDependenciesWithFactory(ctx, cfg, factory, zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.NotNil(t, deps.DB)
		assert.NotNil(t, deps.Repos)
		assert.NotNil(t, deps.Repos.Applications)
		assert.NotNil(t, deps.TxManager)
		assert.NotNil(t, deps.Registry)
		assert.IsType(t, &observability.Prom{}, deps.Metrics)
		assert.NotNil(t, deps.Files)
		assert.NotNil(t, deps.Inspector)
		assert.NotNil(t, deps.Workers)
		assert.NotNil(t, deps.Audit)
		assert.NotNil(t, deps.Catalog)
		assert.NotNil(t, deps.Scheduler)
		assert.NotNil(t, deps.AuthMiddleware)

		mock.ExpectClose()
		require.NoError(t, deps.Start())
		assert.Error(t, deps.Start())
		assert.NoError(t, deps.Close(ctx))
		assert.NoError(t, deps.Close(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("metrics and scan disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Observability.MetricsEnabled = false
		cfg.Catalog.ConsistencyScan = ""
		cfg.Auth.JWTSecret = ""
		factory, mock := mockFactory(t)
		mock.ExpectPing()

		deps, err := NewDependenciesWithFactory(context.Background(), cfg, factory, zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.Nil(t, deps.Registry)
		assert.Equal(t, observability.Noop{}, deps.Metrics)
		assert.Nil(t, deps.Scheduler)
		assert.NotNil(t, deps.AuthMiddleware)
	})

	t.Run("database ping failure", func(t *testing.T) {
		factory, mock := mockFactory(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		deps, err := NewDependenciesWithFactory(context.Background(), testConfig(t), factory, zaptest.NewLogger(t))
		assert.Nil(t, deps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})

	t.Run("invalid scan schedule fails on start", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Catalog.ConsistencyScan = "every now and then"
		factory, mock := mockFactory(t)
		mock.ExpectPing()

		deps, err := NewDependenciesWithFactory(context.Background(), cfg, factory, zaptest.NewLogger(t))
		require.NoError(t, err)

		err = deps.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "consistency scan")
	})
}

func TestRejectAllValidator(t *testing.T) {
	claims, err := rejectAllValidator{}.ValidateToken(context.Background(), "token")
	assert.Nil(t, claims)
	assert.Error(t, err)
}
