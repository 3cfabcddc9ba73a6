package containerobjects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/containerobjects/internal/shell/docker"
	"github.com/artpar/containerobjects/internal/shell/store"
	"github.com/artpar/containerobjects/internal/shell/workers"
)

// =============================================================================
// Options
// =============================================================================

type options struct {
	docker         Docker
	config         *Config
	logger         *slog.Logger
	extensions     []Extension
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures NewEnvironment.
type Option func(*options)

// WithDocker uses d instead of connecting to the daemon. The environment
// does not close d.
func WithDocker(d Docker) Option {
	return func(o *options) { o.docker = d }
}

// WithConfig uses cfg instead of LoadConfig("").
func WithConfig(cfg *Config) Option {
	return func(o *options) { o.config = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithExtensions adds extensions after the built-in and registered ones.
func WithExtensions(exts ...Extension) Option {
	return func(o *options) { o.extensions = append(o.extensions, exts...) }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// =============================================================================
// Environment
// =============================================================================

// Environment owns everything container objects share: the Docker gateway,
// the network proxy, the scheduler, the registry and the extensions.
type Environment struct {
	session string
	config  *Config
	logger  *slog.Logger

	docker     Docker
	ownsDocker bool
	ledger     *store.SQLiteStore

	proxyURL   *url.URL
	dialer     proxy.Dialer
	httpClient *http.Client

	scheduler  *workers.Scheduler
	registry   *registry
	extensions *extensionSet
	manager    *Manager

	closed atomic.Bool
}

// NewEnvironment builds an environment. Without WithDocker it connects to the
// daemon named by the configuration, or the one of the process environment.
func NewEnvironment(ctx context.Context, opts ...Option) (*Environment, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.config
	if cfg == nil {
		loaded, err := LoadConfig("")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.normalize(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	env := &Environment{
		session:  uuid.NewString(),
		config:   cfg,
		registry: newRegistry(),
	}
	env.logger = logger.With("component", "environment", "session", env.session)

	proxyURL, dialer, client, err := newNetworkProxy(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	env.proxyURL, env.dialer, env.httpClient = proxyURL, dialer, client

	extensions, err := newExtensionSet(append(append(builtinExtensions(), globalExtensions()...), o.extensions...))
	if err != nil {
		return nil, err
	}
	env.extensions = extensions

	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := o.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	metrics, err := newLifecycleMetrics(mp.Meter(instrumentationName), tp.Tracer(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	gateway := o.docker
	if gateway == nil {
		dc, err := docker.NewClient(ctx, cfg.Docker.Host)
		if err != nil {
			return nil, err
		}
		gateway = dc
		env.ownsDocker = true
	}
	env.docker = gateway

	if cfg.Ledger.Path != "" {
		ledger, err := store.NewSQLiteStore(cfg.Ledger.Path)
		if err != nil {
			env.closeDocker()
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
		env.ledger = ledger
		env.docker = store.NewRecorder(gateway, ledger, env.logger)
	}

	env.scheduler = workers.NewScheduler(workers.SchedulerConfig{DefaultDelay: cfg.Readiness.CheckInterval}, env.logger)
	env.manager = newManager(env, metrics)

	if err := env.extensions.setup(ctx, env); err != nil {
		env.release()
		return nil, err
	}

	env.logger.Info("environment ready",
		"proxy", cfg.Proxy.Type,
		"extensions", len(env.extensions.extensions),
		"ledger", cfg.Ledger.Path != "",
	)
	return env, nil
}

// newNetworkProxy returns the proxy URL, dialer and HTTP client used to reach
// containers. The http type proxies HTTP requests only; raw connections are
// dialed directly.
func newNetworkProxy(cfg ProxyConfig) (*url.URL, proxy.Dialer, *http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	switch cfg.Type {
	case ProxyDirect:
		return nil, proxy.Direct, &http.Client{Transport: transport}, nil

	case ProxyHTTP:
		u := &url.URL{Scheme: "http", Host: cfg.Address()}
		transport.Proxy = http.ProxyURL(u)
		return u, proxy.Direct, &http.Client{Transport: transport}, nil

	case ProxySOCKS:
		u := &url.URL{Scheme: "socks5", Host: cfg.Address()}
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("socks proxy %s: %w", u.Host, err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		return u, dialer, &http.Client{Transport: transport}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown proxy type %q", cfg.Type)
	}
}

// Session is the id written to the labels of every Docker resource the
// environment creates.
func (e *Environment) Session() string { return e.session }

// ID returns the number that scopes the handles of this environment.
func (e *Environment) ID() uint64 { return e.registry.env }

func (e *Environment) Config() *Config { return e.config }

func (e *Environment) Manager() *Manager { return e.manager }

func (e *Environment) Docker() Docker { return e.docker }

func (e *Environment) Logger() *slog.Logger { return e.logger }

// HTTPClient returns a client that reaches containers through the network
// proxy.
func (e *Environment) HTTPClient() *http.Client { return e.httpClient }

// Dialer returns a dialer that reaches containers through the network proxy.
func (e *Environment) Dialer() proxy.Dialer { return e.dialer }

// ProxyURL returns the configured proxy, or nil for direct connections.
func (e *Environment) ProxyURL() *url.URL { return e.proxyURL }

// Capabilities lists what the extensions of the environment provide.
func (e *Environment) Capabilities() []Capability { return e.extensions.capabilities() }

// Closed reports whether Close was called.
func (e *Environment) Closed() bool { return e.closed.Load() }

// =============================================================================
// Shutdown
// =============================================================================

// Close destroys every registered object concurrently, tears down the
// extensions, stops the scheduler and releases the gateway. Later calls
// return nil.
func (e *Environment) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	handles := e.registry.handles(true)
	e.logger.Info("closing environment", "objects", len(handles))

	errs := make([]error, len(handles))
	var g errgroup.Group
	for i, h := range handles {
		g.Go(func() error {
			err := e.manager.Destroy(ctx, h)
			if err != nil && !errors.Is(err, ErrNotRegistered) {
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	errs = append(errs, e.extensions.teardown(ctx, e)...)
	errs = append(errs, e.release()...)

	err := errors.Join(errs...)
	if err != nil {
		e.logger.Warn("environment closed with errors", "error", err)
	}
	return err
}

// release stops the scheduler and closes what the environment opened.
func (e *Environment) release() []error {
	var errs []error
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	if err := e.closeDocker(); err != nil {
		errs = append(errs, fmt.Errorf("closing docker client: %w", err))
	}
	if e.ledger != nil {
		if err := e.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing ledger: %w", err))
		}
	}
	return errs
}

func (e *Environment) closeDocker() error {
	if !e.ownsDocker || e.docker == nil {
		return nil
	}
	return e.docker.Close()
}
