package automation

import (
	"context"
	"errors"
	"log/slog"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// Storer is the lifecycle surface of a backing store. Subsystem
// contracts (job.Store, clients.Directory) live in their own packages.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Runner is a background component started and stopped with the
// orchestrator: the sweep scheduler, an in-process worker pool.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is satisfied by ext.Registry.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Orchestrator holds the shared configuration, logger and store of an
// automation deployment, and drives the lifecycle of its background
// runners. engine.Build turns it into an operational Engine.
type Orchestrator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runners    []Runner

	started []Runner
}

// New creates an Orchestrator with the given options.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }

// Store returns the orchestrator's store.
func (o *Orchestrator) Store() Storer { return o.store }

// Config returns a copy of the orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.config }

// AddRunner registers a background component. Runners start in
// registration order and stop in reverse.
func (o *Orchestrator) AddRunner(r Runner) { o.runners = append(o.runners, r) }

// SetExtensions sets the extension emitter (called by engine.Build).
func (o *Orchestrator) SetExtensions(e extensionEmitter) { o.extensions = e }

// Start starts every registered runner. If one fails, the runners
// already started are stopped again.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.store == nil {
		return ErrNoStore
	}
	for _, r := range o.runners {
		if err := r.Start(ctx); err != nil {
			_ = o.stopRunners(ctx)
			return err
		}
		o.started = append(o.started, r)
	}
	return nil
}

// Stop stops the runners, emits shutdown to extensions and closes the
// store.
func (o *Orchestrator) Stop(ctx context.Context) error {
	err := o.stopRunners(ctx)
	if o.extensions != nil {
		o.extensions.EmitShutdown(ctx)
	}
	if o.store != nil {
		err = errors.Join(err, o.store.Close())
	}
	return err
}

func (o *Orchestrator) stopRunners(ctx context.Context) error {
	var errs error
	for i := len(o.started) - 1; i >= 0; i-- {
		if err := o.started[i].Stop(ctx); err != nil {
			o.logger.Error("runner stop error", slog.String("error", err.Error()))
			errs = errors.Join(errs, err)
		}
	}
	o.started = nil
	return errs
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if l == nil {
			return errors.New("automation: nil logger")
		}
		o.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store typically also
// implements job.Store and clients.Directory.
func WithStore(s Storer) Option {
	return func(o *Orchestrator) error {
		o.store = s
		return nil
	}
}

// WithConfig replaces the configuration.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) error {
		if c.MaxListLimit <= 0 || c.DefaultListLimit <= 0 || c.DefaultListLimit > c.MaxListLimit {
			return Validationf("list limits %d/%d", c.DefaultListLimit, c.MaxListLimit)
		}
		o.config = c
		return nil
	}
}

// WithRunner registers a background runner.
func WithRunner(r Runner) Option {
	return func(o *Orchestrator) error {
		o.AddRunner(r)
		return nil
	}
}
