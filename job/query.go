package job

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Query filters and pages a job listing. Zero-valued filters match all.
type Query struct {
	Status   Status
	Type     Type
	ClientID uuid.UUID
	Priority *Priority
	// Since matches jobs created at or after it.
	Since time.Time

	// Limit of zero means no limit.
	Limit  int
	Offset int
}

// Matches reports whether j passes q's filters.
func (q Query) Matches(j *Job) bool {
	if q.Status != "" && j.Status != q.Status {
		return false
	}
	if q.Type != "" && j.Type != q.Type {
		return false
	}
	if q.ClientID != uuid.Nil && j.ClientID != q.ClientID {
		return false
	}
	if q.Priority != nil && j.Priority != *q.Priority {
		return false
	}
	if !q.Since.IsZero() && j.CreatedAt.Before(q.Since) {
		return false
	}
	return true
}

// Less orders jobs for listing: priority descending, then newest first.
func Less(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Stats summarizes the job table.
type Stats struct {
	TotalJobs          int            `json:"total_jobs"`
	Pending            int            `json:"pending"`
	Queued             int            `json:"queued"`
	Running            int            `json:"running"`
	CompletedToday     int            `json:"completed_today"`
	FailedToday        int            `json:"failed_today"`
	AvgDurationSeconds float64        `json:"avg_duration_seconds"`
	ByType             map[string]int `json:"by_type"`
	ByPriority         map[string]int `json:"by_priority"`
}

// Accumulator builds Stats one job at a time. Stores that cannot aggregate
// natively feed every job through it.
type Accumulator struct {
	dayStart time.Time
	stats    Stats
	total    float64
	n        int
}

// NewAccumulator counts "today" from dayStart.
func NewAccumulator(dayStart time.Time) *Accumulator {
	return &Accumulator{
		dayStart: dayStart,
		stats:    Stats{ByType: map[string]int{}, ByPriority: map[string]int{}},
	}
}

// Add folds j into the summary.
func (a *Accumulator) Add(j *Job) {
	s := &a.stats
	s.TotalJobs++
	switch j.Status {
	case StatusPending:
		s.Pending++
	case StatusQueued:
		s.Queued++
	case StatusRunning:
		s.Running++
	}
	if j.CompletedAt != nil && !j.CompletedAt.Before(a.dayStart) {
		switch j.Status {
		case StatusCompleted:
			s.CompletedToday++
		case StatusFailed:
			s.FailedToday++
		}
	}
	// Failed and cancelled runs count toward the average too.
	if j.StartedAt != nil && j.CompletedAt != nil {
		a.total += j.CompletedAt.Sub(*j.StartedAt).Seconds()
		a.n++
	}
	if j.Status == StatusPending || j.Status == StatusQueued || j.Status == StatusRunning {
		s.ByType[string(j.Type)]++
		s.ByPriority[PriorityKey(j.Priority)]++
	}
}

// Stats returns the summary so far.
func (a *Accumulator) Stats() *Stats {
	out := a.stats
	if a.n > 0 {
		out.AvgDurationSeconds = a.total / float64(a.n)
	}
	return &out
}

// PriorityKey is the by_priority map key of p.
func PriorityKey(p Priority) string {
	return strconv.Itoa(int(p))
}

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
