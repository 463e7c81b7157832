// Package worker runs deferred, non-transactional work on a fixed set of
// goroutines. Submission is fire-and-forget: failures are logged and counted,
// never reported back to the submitter.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/mdm-catalog/internal/observability"
	"go.uber.org/zap"
)

// Task is a unit of background work
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// Config holds configuration for the Pool
type Config struct {
	Size      int // Number of workers
	QueueSize int // Pending tasks accepted before Submit starts rejecting
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Size:      10,
		QueueSize: 1000,
	}
}

// Pool is a bounded background worker pool
type Pool struct {
	logger  *zap.Logger
	metrics observability.Metrics
	jobs    chan job
	size    int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewPool creates a pool; call Start before submitting
func NewPool(config Config, metrics observability.Metrics, logger *zap.Logger) *Pool {
	if config.Size <= 0 {
		config.Size = DefaultConfig().Size
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if metrics == nil {
		metrics = observability.Noop{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:  logger,
		metrics: metrics,
		jobs:    make(chan job, config.QueueSize),
		size:    config.Size,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.started = true
	p.logger.Info("started worker pool", zap.Int("workers", p.size), zap.Int("queue_size", cap(p.jobs)))
	return nil
}

// Stop stops accepting tasks and waits for queued ones until timeout.
// Tasks still running at the deadline see their context cancelled.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("worker pool not started")
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("stopping worker pool", zap.Int("pending_tasks", len(p.jobs)))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool stop timeout after %v", timeout)
	}
}

// Submit queues fn without blocking. It reports false when the pool is not
// running or the queue is full; the task is then dropped and logged.
func (p *Pool) Submit(name string, fn Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		p.logger.Warn("worker pool not running, dropping task", zap.String("task", name))
		p.metrics.IncBackgroundTask("dropped")
		return false
	}

	select {
	case p.jobs <- job{name: name, fn: fn}:
		return true
	default:
		p.logger.Warn("worker queue full, dropping task", zap.String("task", name))
		p.metrics.IncBackgroundTask("dropped")
		return false
	}
}

// Pending returns the number of queued tasks
func (p *Pool) Pending() int {
	return len(p.jobs)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for j := range p.jobs {
		p.run(id, j)
	}
}

func (p *Pool) run(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked",
				zap.Int("worker_id", id),
				zap.String("task", j.name),
				zap.Any("panic", r))
			p.metrics.IncBackgroundTask("panic")
		}
	}()

	if err := j.fn(p.ctx); err != nil {
		p.logger.Error("background task failed",
			zap.Int("worker_id", id),
			zap.String("task", j.name),
			zap.Error(err))
		p.metrics.IncBackgroundTask("failed")
		return
	}

	p.logger.Debug("background task done", zap.Int("worker_id", id), zap.String("task", j.name))
	p.metrics.IncBackgroundTask("ok")
}
