// Package workers contains the background task scheduler shared by the
// objects of one environment.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSchedulerStopped is returned when scheduling on a stopped scheduler.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// SchedulerConfig configures the scheduler.
type SchedulerConfig struct {
	// DefaultDelay is used by ScheduleWithFixedDelay when delay is zero.
	// Default: 250 milliseconds.
	DefaultDelay time.Duration
}

// DefaultSchedulerConfig returns the default configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DefaultDelay: 250 * time.Millisecond,
	}
}

// Scheduler runs one-off and recurring tasks on their own goroutines until
// they finish or the scheduler is stopped.
type Scheduler struct {
	config SchedulerConfig
	logger *slog.Logger

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewScheduler creates a running scheduler.
func NewScheduler(config SchedulerConfig, logger *slog.Logger) *Scheduler {
	if config.DefaultDelay <= 0 {
		config.DefaultDelay = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config: config,
		logger: logger.With("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Task is a handle to a scheduled task.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the task. A run already in progress completes first.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the task will not run again.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Go runs fn once on a new goroutine.
func (s *Scheduler) Go(fn func(ctx context.Context)) (*Task, error) {
	return s.start(func(ctx context.Context) {
		s.runSafely(func() { fn(ctx) })
	})
}

// ScheduleWithFixedDelay runs fn after initialDelay and then again delay
// after each run completes. The task ends when fn returns false, when it is
// cancelled, or when the scheduler stops. Only the task itself decides to
// end by returning false.
func (s *Scheduler) ScheduleWithFixedDelay(initialDelay, delay time.Duration, fn func(ctx context.Context) bool) (*Task, error) {
	if delay <= 0 {
		delay = s.config.DefaultDelay
	}
	return s.start(func(ctx context.Context) {
		timer := time.NewTimer(initialDelay)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			again := false
			s.runSafely(func() { again = fn(ctx) })
			if !again {
				return
			}
			timer.Reset(delay)
		}
	})
}

func (s *Scheduler) start(run func(ctx context.Context)) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrSchedulerStopped
	}

	ctx, cancel := context.WithCancel(s.ctx)
	task := &Task{cancel: cancel, done: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(task.done)
		defer cancel()
		run(ctx)
	}()
	return task, nil
}

// runSafely keeps a panicking task from taking the process down.
func (s *Scheduler) runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "panic", r)
		}
	}()
	fn()
}

// Stop cancels every task and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Debug("scheduler stopped")
}
