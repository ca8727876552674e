package job

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
)

// Type is the closed enumeration of automation job kinds.
type Type string

const (
	TypeMenuBuild        Type = "menu_build"
	TypeMenuSync         Type = "menu_sync"
	TypeItemCreate       Type = "item_create"
	TypeItemUpdate       Type = "item_update"
	TypeModifierSync     Type = "modifier_sync"
	TypeHealthCheck      Type = "health_check"
	TypeGoldenCopy       Type = "golden_copy"
	TypeClassification   Type = "classification"
	TypeReportGeneration Type = "report_generation"
	TypeBackup           Type = "backup"
)

// Types lists every job type.
var Types = []Type{
	TypeMenuBuild, TypeMenuSync, TypeItemCreate, TypeItemUpdate, TypeModifierSync,
	TypeHealthCheck, TypeGoldenCopy, TypeClassification, TypeReportGeneration, TypeBackup,
}

// Valid reports whether t is one of Types.
func (t Type) Valid() bool { return slices.Contains(Types, t) }

// ParseType validates s as a job type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", automation.Validationf("unknown job_type %q", s)
	}
	return t, nil
}

// Priority orders dispatch tiers. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Tiers lists priorities in claim order.
var Tiers = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p names one of the four tiers.
func (p Priority) Valid() bool { return p >= PriorityLow && p <= PriorityCritical }

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return strconv.Itoa(int(p))
	}
}

// ParsePriority accepts a tier name or its integer value.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "0":
		return PriorityLow, nil
	case "normal", "1":
		return PriorityNormal, nil
	case "high", "2":
		return PriorityHigh, nil
	case "critical", "3":
		return PriorityCritical, nil
	}
	return 0, automation.Validationf("unknown priority %q", s)
}

// Job is one unit of scheduled work for a client.
type Job struct {
	automation.Entity

	ID              id.JobID       `json:"id"`
	ClientID        uuid.UUID      `json:"client_id"`
	ClientName      string         `json:"client_name,omitempty"`
	Type            Type           `json:"job_type"`
	Status          Status         `json:"status"`
	Priority        Priority       `json:"priority"`
	Config          map[string]any `json:"config"`
	Outcome         Outcome        `json:"-"`
	Progress        int            `json:"progress"`
	ProgressMessage string         `json:"progress_message,omitempty"`
	ScheduledAt     time.Time      `json:"scheduled_at"`
	QueuedAt        *time.Time     `json:"queued_at,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	HeartbeatAt     *time.Time     `json:"heartbeat_at,omitempty"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	RetryOnFailure  bool           `json:"retry_on_failure"`
	TimeoutSeconds  int            `json:"timeout_seconds"`
	DependsOn       []id.JobID     `json:"depends_on"`
	Metadata        map[string]any `json:"metadata"`

	// Version increments on every committed write. Stores reject a write
	// whose Version does not match the stored one.
	Version int64 `json:"version"`
}

// Timeout returns the declared execution budget.
func (j *Job) Timeout() time.Duration { return time.Duration(j.TimeoutSeconds) * time.Second }

// Overdue reports whether a running job has outlived its timeout at now.
func (j *Job) Overdue(now time.Time) bool {
	if j.Status != StatusRunning || j.StartedAt == nil || j.TimeoutSeconds <= 0 {
		return false
	}
	return now.After(j.StartedAt.Add(j.Timeout()))
}

// Claimed reports whether an execution backend has ever started the
// current attempt.
func (j *Job) Claimed() bool { return j.StartedAt != nil }

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Config = cloneDoc(j.Config)
	cp.Metadata = cloneDoc(j.Metadata)
	cp.DependsOn = slices.Clone(j.DependsOn)
	cp.QueuedAt = cloneTime(j.QueuedAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.HeartbeatAt = cloneTime(j.HeartbeatAt)
	if s, ok := j.Outcome.(Success); ok {
		cp.Outcome = Success{Result: cloneDoc(s.Result)}
	}
	return &cp
}

type jobAlias Job

type jobWire struct {
	*jobAlias
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// MarshalJSON flattens the outcome into "result" and "error".
func (j Job) MarshalJSON() ([]byte, error) {
	w := jobWire{jobAlias: (*jobAlias)(&j)}
	w.Result, w.Error = Flatten(j.Outcome)
	if w.DependsOn == nil {
		w.DependsOn = []id.JobID{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON rebuilds the outcome from "result" and "error".
func (j *Job) UnmarshalJSON(data []byte) error {
	w := jobWire{jobAlias: (*jobAlias)(j)}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	o, err := OutcomeFor(j.Status, w.Result, w.Error)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.Outcome = o
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDoc(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
