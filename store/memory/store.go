// Package memory is an in-memory job store and client directory. Safe for
// concurrent use. Intended for tests and single-process development.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps jobs and clients in maps. Every read and write copies the
// record so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	jobs    map[id.JobID]*job.Job
	clients map[uuid.UUID]*clients.Client
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[id.JobID]*job.Job),
		clients: make(map[uuid.UUID]*clients.Client),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Client directory
// ──────────────────────────────────────────────────

// PutClient adds or renames a client.
func (m *Store) PutClient(c *clients.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.clients[c.ID] = &cp
}

// GetClient returns a client by id.
func (m *Store) GetClient(_ context.Context, clientID uuid.UUID) (*clients.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	if !ok {
		return nil, automation.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

// ListClients returns up to limit clients ordered by name.
func (m *Store) ListClients(_ context.Context, limit int) ([]*clients.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*clients.Client, 0, len(m.clients))
	for _, c := range m.clients {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[k].Name) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// CreateJob persists a new job at version 1.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[j.ID]; exists {
		return automation.ErrJobAlreadyExists
	}
	j.Version = 1
	m.jobs[j.ID] = j.Clone()
	return nil
}

// GetJob retrieves a job by id.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, automation.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob writes j when its version matches the stored one.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[j.ID]
	if !ok {
		return automation.ErrJobNotFound
	}
	if cur.Version != j.Version {
		return automation.ErrVersionConflict
	}
	j.Version++
	m.jobs[j.ID] = j.Clone()
	return nil
}

// ListJobs returns jobs matching q, priority descending then newest first.
func (m *Store) ListJobs(_ context.Context, q job.Query) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if q.Matches(j) {
			result = append(result, j)
		}
	}
	sort.Slice(result, func(i, k int) bool { return job.Less(result[i], result[k]) })
	return page(result, q.Offset, q.Limit), nil
}

// ListQueued returns queued jobs ordered by queued_at ascending.
func (m *Store) ListQueued(_ context.Context) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusQueued {
			result = append(result, j)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return queuedAt(result[i]).Before(queuedAt(result[k]))
	})
	return page(result, 0, 0), nil
}

// ListDependents returns pending jobs that depend on jobID.
func (m *Store) ListDependents(_ context.Context, jobID id.JobID) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusPending && slices.Contains(j.DependsOn, jobID) {
			result = append(result, j.Clone())
		}
	}
	return result, nil
}

// JobStatuses returns the status of each existing id.
func (m *Store) JobStatuses(_ context.Context, ids []id.JobID) (map[id.JobID]job.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[id.JobID]job.Status, len(ids))
	for _, jid := range ids {
		if j, ok := m.jobs[jid]; ok {
			out[jid] = j.Status
		}
	}
	return out, nil
}

// Dependencies returns depends_on for each existing id.
func (m *Store) Dependencies(_ context.Context, ids []id.JobID) (map[id.JobID][]id.JobID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[id.JobID][]id.JobID, len(ids))
	for _, jid := range ids {
		if j, ok := m.jobs[jid]; ok {
			out[jid] = slices.Clone(j.DependsOn)
		}
	}
	return out, nil
}

// Stats summarizes every job.
func (m *Store) Stats(_ context.Context, dayStart time.Time) (*job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := job.NewAccumulator(dayStart)
	for _, j := range m.jobs {
		acc.Add(j)
	}
	return acc.Stats(), nil
}

// Load counts running, recently failed and long-queued jobs.
func (m *Store) Load(_ context.Context, failedSince, queuedBefore time.Time) (*job.Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := &job.Load{}
	for _, j := range m.jobs {
		switch j.Status {
		case job.StatusRunning:
			out.Running++
		case job.StatusFailed:
			if j.CompletedAt != nil && !j.CompletedAt.Before(failedSince) {
				out.FailedRecently++
			}
		case job.StatusQueued:
			if queuedAt(j).Before(queuedBefore) {
				out.StaleQueued++
			}
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Analytics
// ──────────────────────────────────────────────────

// ScheduledPerHour buckets scheduled_at within [from, to) by UTC hour.
func (m *Store) ScheduledPerHour(_ context.Context, from, to time.Time) (map[time.Time]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[time.Time]int)
	for _, j := range m.jobs {
		if j.ScheduledAt.Before(from) || !j.ScheduledAt.Before(to) {
			continue
		}
		out[j.ScheduledAt.UTC().Truncate(time.Hour)]++
	}
	return out, nil
}

// LastCompleted returns the latest completion per type for a client.
func (m *Store) LastCompleted(_ context.Context, clientID uuid.UUID) (map[job.Type]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[job.Type]time.Time)
	for _, j := range m.jobs {
		if j.ClientID != clientID || j.Status != job.StatusCompleted || j.CompletedAt == nil {
			continue
		}
		if last, ok := out[j.Type]; !ok || j.CompletedAt.After(last) {
			out[j.Type] = *j.CompletedAt
		}
	}
	return out, nil
}

// History counts a client's jobs created since, by type and status.
func (m *Store) History(_ context.Context, clientID uuid.UUID, since time.Time) ([]job.TypeStatusCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct {
		t job.Type
		s job.Status
	}
	counts := make(map[key]int)
	for _, j := range m.jobs {
		if j.ClientID == clientID && !j.CreatedAt.Before(since) {
			counts[key{j.Type, j.Status}]++
		}
	}
	out := make([]job.TypeStatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, job.TypeStatusCount{Type: k.t, Status: k.s, Count: n})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Type != out[k].Type {
			return out[i].Type < out[k].Type
		}
		return out[i].Status < out[k].Status
	})
	return out, nil
}

func queuedAt(j *job.Job) time.Time {
	if j.QueuedAt != nil {
		return *j.QueuedAt
	}
	return j.UpdatedAt
}

func page(jobs []*job.Job, offset, limit int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	out := make([]*job.Job, len(jobs))
	for i, j := range jobs {
		out[i] = j.Clone()
	}
	return out
}
