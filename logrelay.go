package containerobjects

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/artpar/containerobjects/internal/shell/docker"
)

// =============================================================================
// Log Entries
// =============================================================================

// LogEntry is one frame of container output handed to a log receiver.
type LogEntry struct {
	frame   docker.LogFrame
	oc      *ObjectContext
	stopped atomic.Bool
}

// Bytes returns the raw frame.
func (e *LogEntry) Bytes() []byte { return e.frame.Payload }

// Text returns the frame as text without its line terminator.
func (e *LogEntry) Text() string {
	return strings.TrimRight(string(e.frame.Payload), "\r\n")
}

func (e *LogEntry) Stream() LogStream { return e.frame.Stream }

func (e *LogEntry) IsStdout() bool { return e.frame.Stream == docker.Stdout }

func (e *LogEntry) IsStderr() bool { return e.frame.Stream == docker.Stderr }

// Stop ends the subscription once the receiver returns. No further frames
// reach the receiver.
func (e *LogEntry) Stop() { e.stopped.Store(true) }

// Object returns the context of the container object the frame came from.
func (e *LogEntry) Object() *ObjectContext { return e.oc }

// =============================================================================
// Receivers
// =============================================================================

type logOptions struct {
	stdout     bool
	stderr     bool
	timestamps bool
}

// LogOption configures a log receiver.
type LogOption func(*logOptions)

// Stdout selects whether standard output is received. Default true.
func Stdout(include bool) LogOption {
	return func(o *logOptions) { o.stdout = include }
}

// Stderr selects whether standard error is received. Default true.
func Stderr(include bool) LogOption {
	return func(o *logOptions) { o.stderr = include }
}

// Timestamps prefixes each frame with its timestamp. Default false.
func Timestamps(include bool) LogOption {
	return func(o *logOptions) { o.timestamps = include }
}

type receiver struct {
	kind    string
	options logOptions
	handle  func(instance any, entry *LogEntry)
}

func (d *Definition[T]) addReceiver(kind string, handle func(instance any, entry *LogEntry), opts []LogOption) *Definition[T] {
	o := logOptions{stdout: true, stderr: true}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.stdout && !o.stderr {
		d.bp.fail(kind, "receiver excludes both stdout and stderr")
		return d
	}
	d.bp.receivers = append(d.bp.receivers, receiver{kind: kind, options: o, handle: handle})
	return d
}

// OnLogEntry registers a receiver for log entries. Each receiver has its own
// subscription, opened when the container starts. Receivers run on the
// subscription goroutine.
func (d *Definition[T]) OnLogEntry(fn func(*T, *LogEntry), opts ...LogOption) *Definition[T] {
	if fn == nil {
		d.bp.fail("OnLogEntry", "nil receiver")
		return d
	}
	return d.addReceiver("OnLogEntry", func(instance any, entry *LogEntry) {
		fn(instance.(*T), entry)
	}, opts)
}

// OnLogLine registers a receiver for log text.
func (d *Definition[T]) OnLogLine(fn func(*T, string), opts ...LogOption) *Definition[T] {
	if fn == nil {
		d.bp.fail("OnLogLine", "nil receiver")
		return d
	}
	return d.addReceiver("OnLogLine", func(instance any, entry *LogEntry) {
		fn(instance.(*T), entry.Text())
	}, opts)
}

// OnLogBytes registers a receiver for raw log frames.
func (d *Definition[T]) OnLogBytes(fn func(*T, []byte), opts ...LogOption) *Definition[T] {
	if fn == nil {
		d.bp.fail("OnLogBytes", "nil receiver")
		return d
	}
	return d.addReceiver("OnLogBytes", func(instance any, entry *LogEntry) {
		fn(instance.(*T), entry.Bytes())
	}, opts)
}

// =============================================================================
// Relay
// =============================================================================

// armLogRelay opens one subscription per receiver, starting at since.
// Subscriptions outlive ctx; they end when the container stops or when the
// object enters the destruction phase.
func armLogRelay(ctx context.Context, oc *ObjectContext, since time.Time) error {
	if len(oc.def.receivers) == 0 {
		return nil
	}
	streamCtx := context.WithoutCancel(ctx)
	for _, r := range oc.def.receivers {
		sub, err := oc.env.Docker().Containers().Logs(streamCtx, oc.ContainerID(), docker.LogSpec{
			Since:      since,
			Stdout:     r.options.stdout,
			Stderr:     r.options.stderr,
			Timestamps: r.options.timestamps,
			OnFrame: func(frame docker.LogFrame) bool {
				return dispatchLogFrame(oc, r, frame)
			},
			OnClose: func(err error) {
				if err != nil {
					oc.logger.Warn("log stream ended", "receiver", r.kind, "error", err)
				}
			},
		})
		if err != nil {
			closeLogRelay(oc)
			return fmt.Errorf("opening log stream: %w", err)
		}
		oc.addSubscription(sub)
	}
	oc.logger.Debug("log relay armed", "receivers", len(oc.def.receivers))
	return nil
}

// dispatchLogFrame hands a frame to a receiver. It returns false to end the
// subscription: once the object is being destroyed, after Stop, or after the
// receiver panicked.
func dispatchLogFrame(oc *ObjectContext, r receiver, frame docker.LogFrame) (keep bool) {
	if oc.Phase() == PhaseDestruction {
		return false
	}
	entry := &LogEntry{frame: frame, oc: oc}
	defer func() {
		if rec := recover(); rec != nil {
			oc.logger.Error("log receiver panicked", "receiver", r.kind, "panic", rec)
			keep = false
		}
	}()
	r.handle(oc.Instance(), entry)
	return !entry.stopped.Load()
}

// closeLogRelay ends every subscription of the object.
func closeLogRelay(oc *ObjectContext) {
	for _, sub := range oc.takeSubscriptions() {
		if err := sub.Close(); err != nil {
			oc.logger.Warn("closing log stream", "error", err)
		}
	}
}
