// Package sweep runs the periodic backstops of the engine on a cron
// scheduler: the timeout sweep, activation of due pending jobs, the full
// reconcile pass that also repairs the dispatch index, and the system
// health check that raises operator alerts.
//
// Each backstop is an entry with an "@every" or five-field cron spec.
// A backstop still running when its next tick fires is skipped.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/alert"
	"github.com/evanramirez88/restaurant-consulting-site/automation/engine"
)

// Target is the engine surface the sweeps drive.
type Target interface {
	Reconcile(ctx context.Context) (engine.ReconcileReport, error)
	SweepTimeouts(ctx context.Context) (int, error)
	ActivateDue(ctx context.Context) (int, error)
	SystemHealth(ctx context.Context) (*engine.SystemHealth, error)
}

// Specs holds one schedule per backstop. An empty spec disables it.
type Specs struct {
	Reconcile string
	Timeout   string
	Activate  string
	Health    string
}

// SpecsFrom takes the schedules of an engine configuration.
func SpecsFrom(c automation.Config) Specs {
	return Specs{
		Reconcile: c.ReconcileSchedule,
		Timeout:   c.TimeoutSchedule,
		Activate:  c.ActivateSchedule,
		Health:    c.HealthSchedule,
	}
}

// DefaultSpecs returns the default schedules.
func DefaultSpecs() Specs { return SpecsFrom(automation.DefaultConfig()) }

// parser accepts standard 5-field cron and descriptors like "@every 30s".
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSpec parses a schedule expression.
func ParseSpec(expr string) (cronlib.Schedule, error) {
	return parser.Parse(expr)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithAlerts sends health warnings to sink. The default logs them.
func WithAlerts(sink alert.Sink) Option { return func(s *Scheduler) { s.alerts = sink } }

// WithRunTimeout bounds each backstop run. Zero means no bound.
func WithRunTimeout(d time.Duration) Option { return func(s *Scheduler) { s.runTimeout = d } }

// Scheduler runs the backstops. It implements automation.Runner.
type Scheduler struct {
	target     Target
	logger     *slog.Logger
	alerts     alert.Sink
	runTimeout time.Duration

	cron *cronlib.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Invalid specs fail here, not at Start.
func New(target Target, specs Specs, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		target:     target,
		logger:     slog.Default(),
		runTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.alerts == nil {
		s.alerts = alert.LogSink{Logger: s.logger}
	}
	log := cronLogger{s.logger}
	s.cron = cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithLogger(log),
		cronlib.WithChain(cronlib.Recover(log), cronlib.SkipIfStillRunning(log)),
	)

	entries := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"reconcile", specs.Reconcile, s.reconcile},
		{"timeout", specs.Timeout, s.timeouts},
		{"activate", specs.Activate, s.activate},
		{"health", specs.Health, s.health},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		sched, err := ParseSpec(e.spec)
		if err != nil {
			return nil, fmt.Errorf("automation/sweep: %s spec %q: %w", e.name, e.spec, err)
		}
		s.cron.Schedule(sched, s.job(e.name, e.fn))
	}
	return s, nil
}

// Entries returns the number of scheduled backstops.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Start starts the cron loop. Runs use a context derived from ctx's
// values that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("sweep scheduler started", slog.Int("entries", s.Entries()))
	return nil
}

// Stop stops scheduling and waits for running backstops, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		<-done.Done()
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.logger.Info("sweep scheduler stopped")
	return nil
}

// RunOnce runs every backstop once, synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) (engine.ReconcileReport, error) {
	return s.target.Reconcile(ctx)
}

func (s *Scheduler) job(name string, fn func(context.Context) error) cronlib.Job {
	return cronlib.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		if s.runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
			defer cancel()
		}
		if err := fn(ctx); err != nil {
			s.logger.Error("sweep failed",
				slog.String("sweep", name),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (s *Scheduler) reconcile(ctx context.Context) error {
	r, err := s.target.Reconcile(ctx)
	if r.TimedOut > 0 || r.Activated > 0 || r.Added > 0 || r.Removed > 0 {
		s.logger.Info("reconcile",
			slog.Int("indexed", r.Indexed),
			slog.Int("index_added", r.Added),
			slog.Int("index_removed", r.Removed),
			slog.Int("activated", r.Activated),
			slog.Int("timed_out", r.TimedOut),
		)
	}
	return err
}

// health raises one warning alert per condition the report flags.
func (s *Scheduler) health(ctx context.Context) error {
	h, err := s.target.SystemHealth(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, w := range h.Warnings {
		errs = errors.Join(errs, s.alerts.Send(ctx, alert.Alert{
			Severity:  alert.SeverityWarning,
			Category:  w.Category,
			Title:     "Job queue warning",
			Message:   w.Message,
			Metadata:  map[string]any{"count": w.Count, "queue_sizes": h.QueueSizes},
			CreatedAt: h.CheckedAt,
		}))
	}
	return errs
}

func (s *Scheduler) timeouts(ctx context.Context) error {
	n, err := s.target.SweepTimeouts(ctx)
	if n > 0 {
		s.logger.Info("timed out running jobs", slog.Int("count", n))
	}
	return err
}

func (s *Scheduler) activate(ctx context.Context) error {
	n, err := s.target.ActivateDue(ctx)
	if n > 0 {
		s.logger.Debug("activated due jobs", slog.Int("count", n))
	}
	return err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
