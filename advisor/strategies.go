package advisor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Scheduling picks the least loaded hour of the next 24.
type Scheduling struct {
	analytics job.Analytics
}

// NewScheduling creates a scheduling strategy over analytics.
func NewScheduling(analytics job.Analytics) *Scheduling { return &Scheduling{analytics: analytics} }

func (*Scheduling) Category() string { return "scheduling" }

func (*Scheduling) Match(c string) bool {
	return strings.Contains(c, "scheduling") || strings.Contains(c, "when")
}

func (s *Scheduling) Decide(ctx context.Context, _ Request, dc Context) (Decision, error) {
	load, err := s.analytics.ScheduledPerHour(ctx, dc.Now, dc.Now.Add(24*time.Hour))
	if err != nil {
		return Decision{}, err
	}
	start := dc.Now.Truncate(time.Hour)
	best, minLoad := start, math.MaxInt
	for h := range 24 {
		slot := start.Add(time.Duration(h) * time.Hour)
		if n := load[slot]; n < minLoad {
			best, minLoad = slot, n
		}
	}
	return Decision{
		Decision:   fmt.Sprintf("Schedule for %s UTC", best.Format("2006-01-02 15:04")),
		Confidence: 0.85,
		Reasoning:  fmt.Sprintf("Selected time slot has lowest queue load (%d jobs). Avoids peak hours.", minLoad),
		Alternatives: []map[string]any{
			{"time": best.Add(2 * time.Hour).Format(time.RFC3339), "load": minLoad + 1},
			{"time": best.Add(4 * time.Hour).Format(time.RFC3339), "load": minLoad + 2},
		},
		RiskFactors: []string{
			"Time zone differences may affect optimal execution",
			"Toast system maintenance windows not accounted for",
		},
		RecommendedActions: []string{
			"Verify client timezone preferences",
			"Check Toast status page for maintenance windows",
		},
	}, nil
}

// Prioritization ranks the request options by a weighted score of
// urgency, impact, effort and client value.
type Prioritization struct{}

func (Prioritization) Category() string { return "prioritization" }

func (Prioritization) Match(c string) bool {
	return strings.Contains(c, "prioritization") || strings.Contains(c, "priority")
}

// Score weighs one option. effort_inverse wins over effort; effort
// defaults to 5 on a 0..10 scale.
func (Prioritization) Score(opt map[string]any) float64 {
	effortInverse := number(opt, "effort_inverse", 10-number(opt, "effort", 5))
	return number(opt, "urgency", 0)*30 +
		number(opt, "impact", 0)*25 +
		effortInverse*20 +
		number(opt, "client_value", 0)*25
}

func (p Prioritization) Decide(_ context.Context, req Request, _ Context) (Decision, error) {
	if len(req.Options) == 0 {
		return Decision{
			Decision:           "Unable to prioritize without options",
			Confidence:         0.0,
			Reasoning:          "No options provided for prioritization",
			Alternatives:       []map[string]any{},
			RiskFactors:        []string{"No data to analyze"},
			RecommendedActions: []string{"Provide options to prioritize"},
		}, nil
	}

	type scored struct {
		opt   map[string]any
		score float64
	}
	ranked := make([]scored, len(req.Options))
	for i, opt := range req.Options {
		ranked[i] = scored{opt: opt, score: p.Score(opt)}
	}
	sort.SliceStable(ranked, func(i, k int) bool { return ranked[i].score > ranked[k].score })

	winner := ranked[0]
	name, ok := winner.opt["name"]
	if !ok {
		name = "Option 1"
	}
	alts := []map[string]any{}
	for _, s := range ranked[1:min(len(ranked), 3)] {
		alts = append(alts, map[string]any{"option": s.opt["name"], "score": s.score})
	}
	return Decision{
		Decision:     fmt.Sprintf("Prioritize: %v", name),
		Confidence:   0.75,
		Reasoning:    fmt.Sprintf("Highest weighted score (%g) based on urgency, impact, effort, and client value", winner.score),
		Alternatives: alts,
		RiskFactors: []string{
			"Scoring weights may not reflect current business priorities",
			"External factors not considered",
		},
		RecommendedActions: []string{
			"Review prioritization with team if uncertain",
			"Consider deadline constraints",
		},
	}, nil
}

// Automation decides whether a manual task pays back its automation
// effort within three months.
type Automation struct{}

// PaybackThresholdMonths is the longest payback still worth automating.
const PaybackThresholdMonths = 3

func (Automation) Category() string { return "automation" }

func (Automation) Match(c string) bool {
	return strings.Contains(c, "automation") || strings.Contains(c, "automate")
}

// Payback returns the months needed to recover the automation effort.
func (Automation) Payback(constraints map[string]any) float64 {
	frequency := number(constraints, "frequency_per_month", 1)
	manualMinutes := number(constraints, "manual_time_minutes", 30)
	effortHours := number(constraints, "automation_effort_hours", 8)

	saved := frequency * manualMinutes / 60
	if saved <= 0 {
		return math.Inf(1)
	}
	return effortHours / saved
}

func (a Automation) Decide(_ context.Context, req Request, dc Context) (Decision, error) {
	payback := a.Payback(req.Constraints)
	automate := payback <= PaybackThresholdMonths

	confidence := 0.60
	if payback <= 2 || payback > 6 {
		confidence = 0.80
	}

	d := Decision{
		Decision:   "Keep Manual",
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("Payback period: %.1f months. ROI too long to justify automation effort.", payback),
		Alternatives: []map[string]any{
			{"decision": "Partial automation", "description": "Automate repetitive subtasks only"},
			{"decision": "Template-based", "description": "Use templates instead of full automation"},
		},
		RiskFactors: []string{
			"Actual automation time may exceed estimates",
			"Task requirements may change",
			"Maintenance overhead not included",
		},
		RecommendedActions: []string{"Document manual process", "Track actual time savings after implementation"},
	}
	if automate {
		d.Decision = "Automate"
		d.Reasoning = fmt.Sprintf("Payback period: %.1f months. Good ROI within 3 months.", payback)
		d.RecommendedActions[0] = "Start with a prototype"
	}
	if rate := dc.FailureRate(); rate > 0.2 {
		d.RiskFactors = append(d.RiskFactors,
			fmt.Sprintf("Client has a %.0f%% job failure rate over the last 30 days", rate*100))
	}
	return d, nil
}
