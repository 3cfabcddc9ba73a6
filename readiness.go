package containerobjects

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultReadinessTimeout bounds Readiness.Wait and scheduled checks.
	DefaultReadinessTimeout = 5 * time.Minute

	// DefaultCheckInterval is the delay between scheduled checks.
	DefaultCheckInterval = 250 * time.Millisecond
)

// =============================================================================
// Readiness Latch
// =============================================================================

// Readiness reports when the service inside a container accepts work. Embed
// it in the object type and wire it with ScheduledCheck or LogPatternCheck.
// The zero value is not ready. Once marked it stays ready.
type Readiness struct {
	once       sync.Once
	ready      chan struct{}
	marked     atomic.Bool
	maxTimeout atomic.Int64
}

func (r *Readiness) init() {
	r.once.Do(func() { r.ready = make(chan struct{}) })
}

// MarkReady releases every waiter. Later calls do nothing.
func (r *Readiness) MarkReady() {
	r.init()
	if r.marked.CompareAndSwap(false, true) {
		close(r.ready)
	}
}

func (r *Readiness) IsReady() bool { return r.marked.Load() }

// Ready returns a channel closed once the object is ready.
func (r *Readiness) Ready() <-chan struct{} {
	r.init()
	return r.ready
}

// SetMaxTimeout sets the limit used by Wait.
func (r *Readiness) SetMaxTimeout(d time.Duration) {
	r.maxTimeout.Store(int64(d))
}

// MaxTimeout returns the limit used by Wait, DefaultReadinessTimeout unless
// set.
func (r *Readiness) MaxTimeout() time.Duration {
	if d := time.Duration(r.maxTimeout.Load()); d > 0 {
		return d
	}
	return DefaultReadinessTimeout
}

// defaultMaxTimeout sets the limit unless one was set already.
func (r *Readiness) defaultMaxTimeout(d time.Duration) {
	if d > 0 {
		r.maxTimeout.CompareAndSwap(0, int64(d))
	}
}

// Wait blocks until the object is ready. It fails with ErrReadinessTimeout
// after MaxTimeout, or with the context error.
func (r *Readiness) Wait(ctx context.Context) error {
	return r.WaitTimeout(ctx, r.MaxTimeout())
}

// WaitTimeout is Wait with an explicit limit.
func (r *Readiness) WaitTimeout(ctx context.Context, timeout time.Duration) error {
	if r.IsReady() {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.Ready():
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrReadinessTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Scheduled Checks
// =============================================================================

type checkOptions struct {
	interval time.Duration
	timeout  time.Duration
}

// CheckOption configures a scheduled check.
type CheckOption func(*checkOptions)

// CheckInterval sets the delay between two checks.
func CheckInterval(d time.Duration) CheckOption {
	return func(o *checkOptions) { o.interval = d }
}

// CheckTimeout sets how long checks keep running after the container
// started. It also becomes the Wait limit of the Readiness.
func CheckTimeout(d time.Duration) CheckOption {
	return func(o *checkOptions) { o.timeout = d }
}

func resolveCheckOptions(cfg ReadinessConfig, opts []CheckOption) checkOptions {
	o := checkOptions{interval: cfg.CheckInterval, timeout: cfg.MaxTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.interval <= 0 {
		o.interval = DefaultCheckInterval
	}
	if o.timeout <= 0 {
		o.timeout = DefaultReadinessTimeout
	}
	return o
}

// Check reports whether the object is ready.
type Check[T any] func(ctx context.Context, obj *T, oc *ObjectContext) bool

// ScheduledCheck polls check on the environment scheduler once the container
// has started, until it succeeds or the timeout passes. On success the
// Readiness returned by readinessOf is marked. On timeout the polling stops
// and waiters time out on their own.
func ScheduledCheck[T any](def *Definition[T], readinessOf func(*T) *Readiness, check Check[T], opts ...CheckOption) *Definition[T] {
	if readinessOf == nil || check == nil {
		def.bp.fail("ScheduledCheck", "readiness accessor and check are required")
		return def
	}
	return def.On(AfterContainerStarted, func(_ context.Context, obj *T, oc *ObjectContext) error {
		r := readinessOf(obj)
		if r.IsReady() {
			return nil
		}
		o := resolveCheckOptions(oc.Environment().Config().Readiness, opts)
		r.defaultMaxTimeout(o.timeout)

		started := time.Now()
		logger := oc.Logger().With("check", "scheduled")
		logger.Debug("scheduling readiness check", "interval", o.interval, "timeout", o.timeout)

		_, err := oc.env.scheduler.ScheduleWithFixedDelay(0, o.interval, func(ctx context.Context) bool {
			if oc.Phase() == PhaseDestruction {
				return false
			}
			if check(ctx, obj, oc) {
				logger.Debug("container object ready", "after", time.Since(started))
				r.MarkReady()
				return false
			}
			if time.Since(started) > o.timeout {
				logger.Warn("readiness check expired", "timeout", o.timeout)
				return false
			}
			return true
		})
		return err
	})
}

// =============================================================================
// HTTP Check
// =============================================================================

type httpCheckOptions struct {
	method string
	status int
}

// HTTPCheckOption configures HTTPCheck.
type HTTPCheckOption func(*httpCheckOptions)

// HTTPMethod sets the request method. Default HEAD.
func HTTPMethod(method string) HTTPCheckOption {
	return func(o *httpCheckOptions) { o.method = method }
}

// ExpectStatus sets the status code that means ready. Default 200.
func ExpectStatus(code int) HTTPCheckOption {
	return func(o *httpCheckOptions) { o.status = code }
}

// HTTPCheck returns a check that requests the URL returned by target through
// the environment HTTP client. Connection errors and other status codes
// count as not ready.
func HTTPCheck[T any](target func(*T) string, opts ...HTTPCheckOption) Check[T] {
	o := httpCheckOptions{method: http.MethodHead, status: http.StatusOK}
	for _, opt := range opts {
		opt(&o)
	}
	return func(ctx context.Context, obj *T, oc *ObjectContext) bool {
		u := target(obj)
		if u == "" {
			return false
		}
		ctx, cancel := context.WithTimeout(ctx, oc.Environment().Config().Readiness.MaxTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, o.method, u, nil)
		if err != nil {
			oc.Logger().Debug("invalid readiness URL", "url", u, "error", err)
			return false
		}
		resp, err := oc.Environment().HTTPClient().Do(req)
		if err != nil {
			oc.Logger().Debug("readiness request failed", "url", u, "error", err)
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == o.status
	}
}

// =============================================================================
// Log Pattern Check
// =============================================================================

// LogPatternCheck marks the Readiness once a log line matches pattern. The
// log subscription is stopped on the first match; onBeforeReady, if set, then
// runs on the environment scheduler before the object is marked ready. An
// error from onBeforeReady leaves the object not ready.
func LogPatternCheck[T any](def *Definition[T], readinessOf func(*T) *Readiness, pattern *regexp.Regexp, onBeforeReady Hook[T]) *Definition[T] {
	if readinessOf == nil || pattern == nil {
		def.bp.fail("LogPatternCheck", "readiness accessor and pattern are required")
		return def
	}
	def.On(AfterContainerStarted, func(_ context.Context, obj *T, oc *ObjectContext) error {
		readinessOf(obj).defaultMaxTimeout(oc.Environment().Config().Readiness.MaxTimeout)
		return nil
	})
	return def.OnLogEntry(func(obj *T, entry *LogEntry) {
		if !pattern.MatchString(entry.Text()) {
			return
		}
		entry.Stop()
		oc := entry.Object()
		r := readinessOf(obj)
		if r.IsReady() {
			return
		}
		_, err := oc.env.scheduler.Go(func(ctx context.Context) {
			if onBeforeReady != nil {
				if err := onBeforeReady(ctx, obj, oc); err != nil {
					oc.Logger().Error("before ready callback failed", "error", err)
					return
				}
			}
			r.MarkReady()
		})
		if err != nil {
			oc.Logger().Warn("cannot schedule readiness", "error", err)
		}
	})
}
