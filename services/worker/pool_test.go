package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/mdm-catalog/internal/observability"
	"go.uber.org/zap"
)

type countingMetrics struct {
	observability.Noop
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) IncBackgroundTask(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[status]++
}

func (m *countingMetrics) get(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[status]
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	metrics := &countingMetrics{}
	pool := NewPool(Config{Size: 3, QueueSize: 100}, metrics, zap.NewNop())
	require.NoError(t, pool.Start())

	var ran int32
	for i := 0; i < 50; i++ {
		ok := pool.Submit("count", func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
		require.True(t, ok)
	}

	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int32(50), atomic.LoadInt32(&ran))
	assert.Equal(t, 50, metrics.get("ok"))
}

func TestPool_FailuresAndPanicsAreContained(t *testing.T) {
	metrics := &countingMetrics{}
	pool := NewPool(Config{Size: 1, QueueSize: 10}, metrics, zap.NewNop())
	require.NoError(t, pool.Start())

	var after int32
	pool.Submit("fails", func(ctx context.Context) error { return errors.New("boom") })
	pool.Submit("panics", func(ctx context.Context) error { panic("kaboom") })
	pool.Submit("after", func(ctx context.Context) error {
		atomic.StoreInt32(&after, 1)
		return nil
	})

	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&after), "worker survives a panicking task")
	assert.Equal(t, 1, metrics.get("failed"))
	assert.Equal(t, 1, metrics.get("panic"))
}

func TestPool_RejectsWhenNotRunning(t *testing.T) {
	metrics := &countingMetrics{}
	pool := NewPool(DefaultConfig(), metrics, zap.NewNop())

	assert.False(t, pool.Submit("early", func(ctx context.Context) error { return nil }))

	require.NoError(t, pool.Start())
	assert.Error(t, pool.Start())
	require.NoError(t, pool.Stop(time.Second))

	assert.False(t, pool.Submit("late", func(ctx context.Context) error { return nil }))
	assert.Equal(t, 2, metrics.get("dropped"))
	assert.Error(t, pool.Stop(time.Second))
}

func TestPool_QueueFull(t *testing.T) {
	pool := NewPool(Config{Size: 1, QueueSize: 1}, nil, zap.NewNop())
	require.NoError(t, pool.Start())

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, pool.Submit("blocker", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	assert.True(t, pool.Submit("queued", func(ctx context.Context) error { return nil }))
	assert.False(t, pool.Submit("overflow", func(ctx context.Context) error { return nil }))
	assert.Equal(t, 1, pool.Pending())

	close(release)
	require.NoError(t, pool.Stop(5*time.Second))
}

func TestPool_StopTimeout(t *testing.T) {
	pool := NewPool(Config{Size: 1, QueueSize: 1}, nil, zap.NewNop())
	require.NoError(t, pool.Start())

	cancelled := make(chan struct{})
	pool.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	err := pool.Stop(50 * time.Millisecond)
	assert.Error(t, err)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("running task was not cancelled after stop timeout")
	}
}
