package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// HistoryWindow is how far back the client history of a decision reaches.
const HistoryWindow = 30 * 24 * time.Hour

// Request is a free-text decision query.
type Request struct {
	Context     string           `json:"context"`
	ClientID    uuid.UUID        `json:"client_id,omitempty"`
	Constraints map[string]any   `json:"constraints,omitempty"`
	Options     []map[string]any `json:"options,omitempty"`
}

// Decision is the answer of one strategy.
type Decision struct {
	Category           string           `json:"category"`
	Decision           string           `json:"decision"`
	Confidence         float64          `json:"confidence"`
	Reasoning          string           `json:"reasoning"`
	Alternatives       []map[string]any `json:"alternatives"`
	RiskFactors        []string         `json:"risk_factors"`
	RecommendedActions []string         `json:"recommended_actions"`
}

// Context is what the engine knows about the request before a strategy
// runs. Client and History are set when the request names a known client.
type Context struct {
	Now     time.Time
	Client  *clients.Client
	History []job.TypeStatusCount
}

// FailureRate is the share of failed jobs among the finished ones in the
// client history.
func (c Context) FailureRate() float64 {
	var failed, finished int
	for _, h := range c.History {
		switch h.Status {
		case job.StatusFailed:
			failed += h.Count
			finished += h.Count
		case job.StatusCompleted:
			finished += h.Count
		}
	}
	if finished == 0 {
		return 0
	}
	return float64(failed) / float64(finished)
}

// Strategy answers one category of decision.
type Strategy interface {
	Category() string

	// Match reports whether the lower-cased context belongs to this
	// strategy.
	Match(context string) bool

	Decide(ctx context.Context, req Request, dc Context) (Decision, error)
}

// CategoryManual is reported when no strategy matches.
const CategoryManual = "manual_review"

// Engine routes decision requests to the first matching strategy.
type Engine struct {
	strategies []Strategy
	directory  clients.Directory
	analytics  job.Analytics
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates a decision engine with the scheduling,
// prioritization and automation strategies, in that order. Strategies
// given with WithStrategy are consulted first.
func NewEngine(directory clients.Directory, analytics job.Analytics, opts ...Option) *Engine {
	o := resolve(opts)
	e := &Engine{
		directory: directory,
		analytics: analytics,
		logger:    o.logger,
		now:       o.now,
	}
	e.strategies = append(e.strategies, o.strategies...)
	e.strategies = append(e.strategies,
		NewScheduling(analytics),
		Prioritization{},
		Automation{},
	)
	return e
}

// Strategies returns the strategies in routing order.
func (e *Engine) Strategies() []Strategy { return e.strategies }

// Decide answers req.
func (e *Engine) Decide(ctx context.Context, req Request) (Decision, error) {
	if strings.TrimSpace(req.Context) == "" {
		return Decision{}, automation.Validationf("context is required")
	}
	dc := Context{Now: e.now().UTC()}
	if req.ClientID != uuid.Nil {
		if err := e.enrich(ctx, req.ClientID, &dc); err != nil {
			return Decision{}, err
		}
	}

	lower := strings.ToLower(req.Context)
	for _, s := range e.strategies {
		if !s.Match(lower) {
			continue
		}
		d, err := s.Decide(ctx, req, dc)
		if err != nil {
			return Decision{}, fmt.Errorf("automation/advisor: %s decision: %w", s.Category(), err)
		}
		d.Category = s.Category()
		e.logger.Debug("decision made",
			slog.String("category", d.Category),
			slog.Float64("confidence", d.Confidence),
		)
		return d, nil
	}
	return manualReview(), nil
}

// enrich loads the client and its recent history. An unknown client is
// not an error; the decision is made without history.
func (e *Engine) enrich(ctx context.Context, clientID uuid.UUID, dc *Context) error {
	c, err := e.directory.GetClient(ctx, clientID)
	if clients.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	dc.Client = c
	hist, err := e.analytics.History(ctx, clientID, dc.Now.Add(-HistoryWindow))
	if err != nil {
		return fmt.Errorf("automation/advisor: client history: %w", err)
	}
	dc.History = hist
	return nil
}

func manualReview() Decision {
	return Decision{
		Category:           CategoryManual,
		Decision:           "Requires manual review",
		Confidence:         0.3,
		Reasoning:          "The context provided doesn't match known decision patterns. Manual review recommended.",
		Alternatives:       []map[string]any{},
		RiskFactors:        []string{"Insufficient context for automated decision"},
		RecommendedActions: []string{"Provide more specific context", "Consult with team"},
	}
}

// number reads a numeric field of a JSON-decoded document.
func number(m map[string]any, key string, def float64) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return def
}
