// Package engine is the orchestration core. It wires the job store, the
// dependency resolver, the dispatch index, the admission limiter, the
// mutation middleware chain and the extension registry, and exposes the
// job operations: Create, Get, List, Update, Cancel, Retry, Stats, Claim,
// Heartbeat and the backstop sweeps.
//
// This package exists to break the import cycle: the root automation
// package defines Entity and the sentinel errors (imported by job, ext,
// etc.) and so cannot import those packages back. The engine package sits
// above all subsystem packages and below the transports.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/ext"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	mw "github.com/evanramirez88/restaurant-consulting-site/automation/middleware"
	"github.com/evanramirez88/restaurant-consulting-site/automation/observability"
	"github.com/evanramirez88/restaurant-consulting-site/automation/queue"
	"github.com/evanramirez88/restaurant-consulting-site/automation/resolver"
)

const instrumentationName = "github.com/evanramirez88/restaurant-consulting-site/automation"

// Engine owns every piece of orchestration state: the per-job write locks,
// the dispatch index and the extension registry. Use Build to create one.
type Engine struct {
	o          *automation.Orchestrator
	config     automation.Config
	logger     *slog.Logger
	store      job.Store
	directory  clients.Directory
	resolver   *resolver.Resolver
	index      queue.Index
	limiter    *queue.Limiter
	extensions *ext.Registry
	chain      mw.Middleware
	mws        []mw.Middleware
	locks      *keyedMutex
	now        func() time.Time

	opTimeout time.Duration

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware appends middleware to the mutation chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithIndex sets the dispatch index. Defaults to an in-memory index.
func WithIndex(idx queue.Index) Option {
	return func(eng *Engine) {
		eng.index = idx
	}
}

// WithLimiter sets the per-client creation limiter. Nil disables
// throttling.
func WithLimiter(l *queue.Limiter) Option {
	return func(eng *Engine) {
		eng.limiter = l
	}
}

// WithDirectory overrides the client directory. By default the store is
// used when it implements clients.Directory.
func WithDirectory(d clients.Directory) Option {
	return func(eng *Engine) {
		eng.directory = d
	}
}

// WithOperationTimeout bounds every engine operation.
func WithOperationTimeout(d time.Duration) Option {
	return func(eng *Engine) {
		eng.opTimeout = d
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for both the metrics
// middleware and the observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an Orchestrator. The orchestrator's store
// must implement job.Store, and clients.Directory unless WithDirectory is
// given.
func Build(o *automation.Orchestrator, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	st := o.Store()
	if st == nil {
		return nil, automation.ErrNoStore
	}
	js, ok := st.(job.Store)
	if !ok {
		return nil, fmt.Errorf("automation: store does not implement job.Store")
	}

	eng := &Engine{
		o:          o,
		config:     o.Config(),
		logger:     logger,
		store:      js,
		resolver:   resolver.New(js),
		extensions: ext.NewRegistry(logger),
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
	if d, ok := st.(clients.Directory); ok {
		eng.directory = d
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.directory == nil {
		return nil, fmt.Errorf("automation: store does not implement clients.Directory")
	}
	if eng.index == nil {
		eng.index = queue.NewMemoryIndex()
	}

	var tracingMw, metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// recover → tracing → metrics → logging → deadline → user middleware.
	all := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Deadline(eng.opTimeout),
	}
	all = append(all, eng.mws...)
	eng.chain = mw.Chain(all...)

	o.SetExtensions(eng.extensions)
	return eng, nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Orchestrator returns the underlying Orchestrator.
func (eng *Engine) Orchestrator() *automation.Orchestrator { return eng.o }

// Store returns the job store.
func (eng *Engine) Store() job.Store { return eng.store }

// Directory returns the client directory.
func (eng *Engine) Directory() clients.Directory { return eng.directory }

// Index returns the dispatch index.
func (eng *Engine) Index() queue.Index { return eng.index }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Start rebuilds the dispatch index from the store and starts the
// orchestrator's runners.
func (eng *Engine) Start(ctx context.Context) error {
	if _, err := eng.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("rebuild dispatch index: %w", err)
	}
	return eng.o.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.o.Stop(ctx)
}

func (eng *Engine) clock() time.Time { return eng.now().UTC() }

// run passes an operation through the middleware chain.
func (eng *Engine) run(ctx context.Context, c mw.Call, fn mw.Handler) error {
	return eng.chain(ctx, c, fn)
}
