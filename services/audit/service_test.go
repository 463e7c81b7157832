package audit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
	"go.uber.org/zap"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertedLogs = append(m.insertedLogs, log)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) ListByResource(ctx context.Context, resourceID uuid.UUID, limit int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, resourceID, limit)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditLog, len(m.insertedLogs))
	copy(out, m.insertedLogs)
	return out
}

func startService(t *testing.T, repo *MockAuditRepository, config Config) *AuditService {
	t.Helper()
	service := NewAuditService(repo, zap.NewNop(), config)
	require.NoError(t, service.Start())
	t.Cleanup(func() { _ = service.Stop(5 * time.Second) })
	return service
}

func waitForLogs(t *testing.T, repo *MockAuditRepository, n int) []*models.AuditLog {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(repo.GetInsertedLogs()) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return repo.GetInsertedLogs()
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, service.Start(), "cannot start twice")

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)
	assert.Error(t, service.Stop(time.Second), "cannot stop twice")
}

func TestAuditService_LogEventBeforeStart(t *testing.T) {
	service := NewAuditService(new(MockAuditRepository), zap.NewNop(), DefaultConfig())

	err := service.LogEvent(&AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionVersionCreated, "version")})
	assert.Error(t, err)
}

func TestAuditService_LogEvent(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := startService(t, mockRepo, Config{BufferSize: 100, WorkerCount: 2})

	tenantID := uuid.New()
	log := models.NewAuditLog(tenantID, models.AuditActionVersionCreated, "version")

	require.NoError(t, service.LogEvent(&AuditEvent{Log: log}))

	logs := waitForLogs(t, mockRepo, 1)
	assert.Equal(t, tenantID, logs[0].TenantID)
	assert.Equal(t, models.AuditActionVersionCreated, logs[0].Action)
}

func TestAuditService_ConcurrentLogging(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := startService(t, mockRepo, Config{BufferSize: 1000, WorkerCount: 5})

	tenantID := uuid.New()
	goroutineCount := 10
	eventsPerGoroutine := 10
	var wg sync.WaitGroup

	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				log := models.NewAuditLog(tenantID, models.AuditActionLinksUpdated, "version")
				_ = service.LogEvent(&AuditEvent{Log: log})
			}
		}()
	}
	wg.Wait()

	logs := waitForLogs(t, mockRepo, goroutineCount*eventsPerGoroutine)
	assert.Len(t, logs, goroutineCount*eventsPerGoroutine)
}

func TestAuditService_StopDrainsPending(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 50, WorkerCount: 1})
	require.NoError(t, service.Start())

	for i := 0; i < 20; i++ {
		require.NoError(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionVersionDeleted, "version")}))
	}

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), 20)
	assert.Error(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionVersionDeleted, "version")}))
}

func TestAuditService_BufferFull(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})
	service := startService(t, mockRepo, Config{BufferSize: 5, WorkerCount: 1})

	failures := 0
	for i := 0; i < 20; i++ {
		if err := service.LogEvent(&AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionLinksUpdated, "version")}); err != nil {
			failures++
		}
	}
	close(release)

	assert.Greater(t, failures, 0, "events beyond the buffer are dropped")
}

func TestAuditService_CatalogEvents(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := startService(t, mockRepo, Config{BufferSize: 100, WorkerCount: 1})

	caller := tenant.Caller{TenantID: uuid.New(), UserID: uuid.New(), SuperAdmin: true, RequestID: "req-1"}
	app := models.NewApplication(caller.TenantID, "com.acme.app", "Acme")
	app.Common = true
	v := models.NewApplicationVersion(app, "2.0", "https://files/acme.apk")
	merged := []uuid.UUID{uuid.New(), uuid.New()}

	require.NoError(t, service.LogApplicationPromoted(caller, app, merged, 3))
	logs := waitForLogs(t, mockRepo, 1)

	assert.Equal(t, models.AuditActionApplicationPromoted, logs[0].Action)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, caller.UserID, *logs[0].UserID)
	require.NotNil(t, logs[0].ResourceID)
	assert.Equal(t, app.ID, *logs[0].ResourceID)
	assert.Equal(t, "req-1", logs[0].RequestID)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(logs[0].Details, &details))
	assert.Equal(t, "com.acme.app", details["package"])
	assert.Len(t, details["merged_apps"], 2)
	assert.EqualValues(t, 3, details["merged_versions"])

	require.NoError(t, service.LogVersionCreated(caller, v))
	logs = waitForLogs(t, mockRepo, 2)
	assert.Equal(t, models.AuditActionVersionCreated, logs[1].Action)
	assert.Equal(t, "version", logs[1].ResourceType)
}
