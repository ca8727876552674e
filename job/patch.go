package job

import (
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
)

// Patch is a field-level update. Nil fields are left untouched; a non-nil
// empty map clears a document.
type Patch struct {
	Status          *Status        `json:"status,omitempty"`
	Priority        *Priority      `json:"priority,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	ScheduledAt     *time.Time     `json:"scheduled_at,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Progress        *int           `json:"progress,omitempty"`
	ProgressMessage *string        `json:"progress_message,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	Error           *string        `json:"error,omitempty"`
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.Priority == nil && p.Config == nil && p.ScheduledAt == nil &&
		p.Metadata == nil && p.Progress == nil && p.ProgressMessage == nil &&
		p.Result == nil && p.Error == nil
}

// Validate checks p in isolation.
func (p Patch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return automation.Validationf("unknown status %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return automation.Validationf("priority must be 0-3, got %d", *p.Priority)
	}
	if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 100) {
		return automation.Validationf("progress must be 0-100, got %d", *p.Progress)
	}
	if p.Result != nil && (p.Status == nil || *p.Status != StatusCompleted) {
		return automation.Validationf("result requires status %s", StatusCompleted)
	}
	if p.Error != nil && (p.Status == nil || *p.Status != StatusFailed) {
		return automation.Validationf("error requires status %s", StatusFailed)
	}
	return nil
}

// Apply merges p into j. Field updates are checked against the status j
// had before the patch; the status change, if any, is applied last through
// Transition. Metadata merges key by key. Retry edges are never reachable
// from a patch.
func (p Patch) Apply(j *Job, now time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	fieldsChanged := p.Priority != nil || p.Config != nil || p.ScheduledAt != nil ||
		p.Metadata != nil || p.Progress != nil || p.ProgressMessage != nil
	if fieldsChanged && j.Status.Terminal() {
		return automation.ErrConflict
	}
	if (p.Progress != nil || p.ProgressMessage != nil) &&
		j.Status != StatusRunning && j.Status != StatusPaused {
		return automation.ErrConflict
	}
	if p.Priority != nil && *p.Priority != j.Priority {
		if j.Claimed() {
			return automation.ErrJobClaimed
		}
		j.Priority = *p.Priority
	}
	if p.Config != nil {
		j.Config = cloneDoc(p.Config)
	}
	if p.ScheduledAt != nil {
		j.ScheduledAt = p.ScheduledAt.UTC()
	}
	if p.Metadata != nil {
		if len(p.Metadata) == 0 {
			j.Metadata = map[string]any{}
		} else if j.Metadata == nil {
			j.Metadata = make(map[string]any, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			j.Metadata[k] = cloneValue(v)
		}
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.ProgressMessage != nil {
		j.ProgressMessage = *p.ProgressMessage
	}
	if p.Status != nil && *p.Status != j.Status {
		var outcome Outcome
		switch *p.Status {
		case StatusCompleted:
			outcome = Success{Result: cloneDoc(p.Result)}
		case StatusFailed:
			var msg string
			if p.Error != nil {
				msg = *p.Error
			}
			outcome = Failure{Error: msg}
		}
		return Transition(j, *p.Status, outcome, now)
	}
	j.Touch(now)
	return nil
}
