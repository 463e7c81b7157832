package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/repositories"
	"go.uber.org/zap"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuditLog
}

// AuditService handles asynchronous audit logging
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service.
// Pending events are drained until timeout.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event without blocking. A full buffer drops the event.
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("tenant_id", event.Log.TenantID.String()))
		return fmt.Errorf("audit event buffer full")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)),
				zap.String("tenant_id", event.Log.TenantID.String()))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// Convenience methods for catalog events

func (s *AuditService) entry(caller tenant.Caller, action models.AuditAction, resourceType string, resourceID uuid.UUID) *models.AuditLog {
	return models.NewAuditLog(caller.TenantID, action, resourceType).
		WithUser(caller.UserID).
		WithResource(resourceID).
		WithRequest(caller.RequestID)
}

// LogApplicationCreated logs the creation of an application
func (s *AuditService) LogApplicationCreated(caller tenant.Caller, app *models.Application) error {
	log := s.entry(caller, models.AuditActionApplicationCreated, "application", app.ID).
		WithDetails(map[string]interface{}{
			"package": app.Pkg,
			"name":    app.Name,
			"common":  app.Common,
		})
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogApplicationUpdated logs an application edit
func (s *AuditService) LogApplicationUpdated(caller tenant.Caller, app *models.Application, changes map[string]interface{}) error {
	log := s.entry(caller, models.AuditActionApplicationUpdated, "application", app.ID).
		WithDetails(map[string]interface{}{"changes": changes})
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogApplicationDeleted logs the removal of an application
func (s *AuditService) LogApplicationDeleted(caller tenant.Caller, app *models.Application) error {
	log := s.entry(caller, models.AuditActionApplicationDeleted, "application", app.ID).
		WithDetails(map[string]interface{}{"package": app.Pkg})
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogApplicationPromoted logs a merge of private applications into a common one
func (s *AuditService) LogApplicationPromoted(caller tenant.Caller, common *models.Application, merged []uuid.UUID, versions int) error {
	ids := make([]string, len(merged))
	for i, id := range merged {
		ids[i] = id.String()
	}
	log := s.entry(caller, models.AuditActionApplicationPromoted, "application", common.ID).
		WithDetails(map[string]interface{}{
			"package":         common.Pkg,
			"merged_apps":     ids,
			"merged_versions": versions,
		})
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogVersionCreated logs a new version
func (s *AuditService) LogVersionCreated(caller tenant.Caller, v *models.ApplicationVersion) error {
	log := s.entry(caller, models.AuditActionVersionCreated, "version", v.ID).
		WithDetails(map[string]interface{}{
			"application_id": v.ApplicationID.String(),
			"package":        v.Pkg,
			"version":        v.Version,
		})
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogVersionUpdated logs a version edit
func (s *AuditService) LogVersionUpdated(caller tenant.Caller, v *models.ApplicationVersion) error {
	log := s.entry(caller, models.AuditActionVersionUpdated, "version", v.ID).
		WithDetails(map[string]interface{}{
			"version": v.Version,
			"url":     v.URL,
		})
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogVersionDeleted logs the removal of a version
func (s *AuditService) LogVersionDeleted(caller tenant.Caller, v *models.ApplicationVersion) error {
	log := s.entry(caller, models.AuditActionVersionDeleted, "version", v.ID).
		WithDetails(map[string]interface{}{
			"application_id": v.ApplicationID.String(),
			"version":        v.Version,
		})
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogLinksUpdated logs a replacement of configuration links of an
// application or a version
func (s *AuditService) LogLinksUpdated(caller tenant.Caller, resourceType string, resourceID uuid.UUID, count int) error {
	log := s.entry(caller, models.AuditActionLinksUpdated, resourceType, resourceID).
		WithDetails(map[string]interface{}{"links": count})
	return s.LogEvent(&AuditEvent{Log: log})
}
