package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Configuration
// =============================================================================

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	assert.Equal(t, 250*time.Millisecond, config.DefaultDelay)
}

func TestNewScheduler_DefaultConfig(t *testing.T) {
	s := NewScheduler(SchedulerConfig{}, nil)
	defer s.Stop()

	assert.Equal(t, 250*time.Millisecond, s.config.DefaultDelay)
}

// =============================================================================
// Test Tasks
// =============================================================================

func TestScheduler_Go(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), slog.Default())
	defer s.Stop()

	ran := make(chan struct{})
	task, err := s.Go(func(ctx context.Context) { close(ran) })
	require.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	<-task.Done()
}

func TestScheduler_FixedDelayStopsItself(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), nil)
	defer s.Stop()

	var runs atomic.Int32
	task, err := s.ScheduleWithFixedDelay(0, time.Millisecond, func(ctx context.Context) bool {
		return runs.Add(1) < 3
	})
	require.NoError(t, err)

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not stop itself")
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), nil)
	defer s.Stop()

	var runs atomic.Int32
	task, err := s.ScheduleWithFixedDelay(time.Hour, time.Hour, func(ctx context.Context) bool {
		runs.Add(1)
		return true
	})
	require.NoError(t, err)

	task.Cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("cancelled task still scheduled")
	}
	assert.Zero(t, runs.Load())
}

func TestScheduler_StopEndsTasks(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), nil)

	task, err := s.ScheduleWithFixedDelay(0, time.Millisecond, func(ctx context.Context) bool { return true })
	require.NoError(t, err)

	s.Stop()
	select {
	case <-task.Done():
	default:
		t.Fatal("task still running after Stop")
	}

	_, err = s.Go(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrSchedulerStopped)

	// Stop is idempotent
	s.Stop()
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), nil)
	defer s.Stop()

	var runs atomic.Int32
	task, err := s.ScheduleWithFixedDelay(0, time.Millisecond, func(ctx context.Context) bool {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return false
	})
	require.NoError(t, err)

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not finish")
	}
	// A panicking run counts as a stop.
	assert.Equal(t, int32(1), runs.Load())
}
