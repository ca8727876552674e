// Package advisor is the scheduling advisor. Recommend mines completed-job
// history and the scheduled load to propose the next run of each job type
// per client; Engine answers free-text decision requests through an
// ordered list of heuristic strategies.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Tunables of the recommendation heuristic.
const (
	DefaultHorizonHours = 24
	MaxHorizonHours     = 168
	MaxClients          = 50
	BusyThreshold       = 3
)

// DefaultJobTypes are recommended when the request names no job type.
var DefaultJobTypes = []job.Type{job.TypeHealthCheck, job.TypeMenuSync, job.TypeGoldenCopy}

var intervals = map[job.Type]time.Duration{
	job.TypeHealthCheck: 6 * time.Hour,
	job.TypeMenuSync:    24 * time.Hour,
	job.TypeGoldenCopy:  24 * time.Hour,
	job.TypeBackup:      12 * time.Hour,
}

// Interval returns the expected spacing between runs of t.
func Interval(t job.Type) time.Duration {
	if d, ok := intervals[t]; ok {
		return d
	}
	return 24 * time.Hour
}

// RecommendRequest selects what to plan. Zero values mean every client
// (up to MaxClients), the default job types and a 24 hour horizon.
type RecommendRequest struct {
	ClientID   uuid.UUID
	JobType    job.Type
	HoursAhead int
}

// Validate normalizes defaults and checks bounds.
func (r *RecommendRequest) Validate() error {
	if r.HoursAhead == 0 {
		r.HoursAhead = DefaultHorizonHours
	}
	if r.HoursAhead < 1 || r.HoursAhead > MaxHorizonHours {
		return automation.Validationf("hours_ahead must be between 1 and %d", MaxHorizonHours)
	}
	if r.JobType != "" && !r.JobType.Valid() {
		return automation.Validationf("unknown job type %q", r.JobType)
	}
	return nil
}

// Recommendation is one proposed run slot.
type Recommendation struct {
	JobType         job.Type  `json:"job_type"`
	ClientID        uuid.UUID `json:"client_id"`
	RecommendedTime time.Time `json:"recommended_time"`
	Reason          string    `json:"reason"`
	Priority        int       `json:"priority"`
	ConflictScore   float64   `json:"conflict_score"`
}

// Advisor produces schedule recommendations.
type Advisor struct {
	analytics job.Analytics
	directory clients.Directory
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Advisor or an Engine.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	now        func() time.Time
	strategies []Strategy
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithStrategy registers a decision strategy ahead of the defaults.
// Engine only.
func WithStrategy(s Strategy) Option {
	return func(o *options) { o.strategies = append(o.strategies, s) }
}

func resolve(opts []Option) options {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates an Advisor.
func New(analytics job.Analytics, directory clients.Directory, opts ...Option) *Advisor {
	o := resolve(opts)
	return &Advisor{analytics: analytics, directory: directory, logger: o.logger, now: o.now}
}

// Recommend returns recommendations ordered by priority descending, then
// conflict score ascending.
func (a *Advisor) Recommend(ctx context.Context, req RecommendRequest) ([]Recommendation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := a.now().UTC()
	end := now.Add(time.Duration(req.HoursAhead) * time.Hour)

	targets, err := a.clients(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	load, err := a.analytics.ScheduledPerHour(ctx, now, end)
	if err != nil {
		return nil, fmt.Errorf("automation/advisor: scheduled load: %w", err)
	}
	busy := busyHours(load)

	types := DefaultJobTypes
	if req.JobType != "" {
		types = []job.Type{req.JobType}
	}

	var out []Recommendation
	for _, c := range targets {
		last, err := a.analytics.LastCompleted(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("automation/advisor: last runs of %s: %w", c.ID, err)
		}
		for _, t := range types {
			lastRun, ran := last[t]
			out = append(out, plan(c.ID, t, lastRun, ran, now, busy))
		}
	}

	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].ConflictScore < out[k].ConflictScore
	})
	a.logger.Debug("schedule recommendations computed",
		slog.Int("clients", len(targets)),
		slog.Int("busy_hours", len(busy)),
		slog.Int("recommendations", len(out)),
	)
	return out, nil
}

func (a *Advisor) clients(ctx context.Context, clientID uuid.UUID) ([]*clients.Client, error) {
	if clientID != uuid.Nil {
		c, err := a.directory.GetClient(ctx, clientID)
		if err != nil {
			return nil, err
		}
		return []*clients.Client{c}, nil
	}
	cs, err := a.directory.ListClients(ctx, MaxClients)
	if err != nil {
		return nil, fmt.Errorf("automation/advisor: list clients: %w", err)
	}
	return cs, nil
}

func busyHours(load map[time.Time]int) map[time.Time]struct{} {
	busy := make(map[time.Time]struct{})
	for hour, n := range load {
		if n > BusyThreshold {
			busy[hour.UTC().Truncate(time.Hour)] = struct{}{}
		}
	}
	return busy
}

// plan derives the next run of one job type for one client.
func plan(clientID uuid.UUID, t job.Type, lastRun time.Time, ran bool, now time.Time, busy map[time.Time]struct{}) Recommendation {
	interval := Interval(t)

	var next time.Time
	switch {
	case !ran:
		next = now.Add(time.Hour)
	case lastRun.Add(interval).Before(now):
		next = now.Add(30 * time.Minute)
	default:
		next = lastRun.Add(interval)
	}
	for {
		if _, ok := busy[next.Truncate(time.Hour)]; !ok {
			break
		}
		next = next.Add(time.Hour)
	}

	near := 0
	for b := range busy {
		d := b.Sub(next)
		if d < 0 {
			d = -d
		}
		if d < time.Hour {
			near++
		}
	}

	priority := 1
	if ran && now.Sub(lastRun) > interval*3/2 {
		priority = 2
	}

	return Recommendation{
		JobType:         t,
		ClientID:        clientID,
		RecommendedTime: next,
		Reason:          "Optimal window based on historical patterns and current queue load",
		Priority:        priority,
		ConflictScore:   float64(near) / float64(max(len(busy), 1)),
	}
}
