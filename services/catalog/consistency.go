package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/upb/mdm-catalog/repositories"
	"github.com/upb/mdm-catalog/services"
	"go.uber.org/zap"
)

// ScanConsistency looks for visibility scopes holding more than one
// application for a package. Such a state cannot be repaired automatically;
// every finding is logged at error level and counted so it can be alerted on.
func (s *Service) ScanConsistency(ctx context.Context) ([]repositories.PackageConflict, error) {
	conflicts, err := s.apps.FindPackageConflicts(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to scan package scopes", err)
	}

	for _, c := range conflicts {
		scope := "common"
		fields := []zap.Field{
			zap.String("package", c.Pkg),
			zap.Int("count", c.Count),
		}
		if c.TenantID != nil {
			scope = "private"
			fields = append(fields, zap.String("tenant_id", c.TenantID.String()))
		}
		fields = append(fields, zap.String("scope", scope))

		s.logger.Error("more than one application per package in one scope", fields...)
		s.metrics.IncInconsistency(scope)
	}

	s.logger.Debug("consistency scan finished", zap.Int("conflicts", len(conflicts)))
	return conflicts, nil
}

// Scanner runs a consistency scan
type Scanner interface {
	ScanConsistency(ctx context.Context) ([]repositories.PackageConflict, error)
}

// Scheduler runs ScanConsistency on a cron schedule
type Scheduler struct {
	scanner  Scanner
	schedule string
	timeout  time.Duration
	logger   *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler for a standard cron spec or a descriptor
// such as "@every 1h"
func NewScheduler(scanner Scanner, schedule string, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		scanner:  scanner,
		schedule: schedule,
		timeout:  5 * time.Minute,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start registers the scan and starts the cron runner
func (sc *Scheduler) Start() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.started {
		return errors.New("scheduler already started")
	}

	if _, err := sc.cron.AddFunc(sc.schedule, sc.run); err != nil {
		return err
	}
	sc.cron.Start()
	sc.started = true

	sc.logger.Info("consistency scan scheduled", zap.String("schedule", sc.schedule))
	return nil
}

// Stop stops the runner and waits for a running scan to finish
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.started {
		return
	}
	<-sc.cron.Stop().Done()
	sc.started = false
	sc.logger.Info("consistency scan scheduler stopped")
}

func (sc *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sc.timeout)
	defer cancel()

	if _, err := sc.scanner.ScanConsistency(ctx); err != nil {
		sc.logger.Error("consistency scan failed", zap.Error(err))
	}
}
