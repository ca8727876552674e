package queue

import (
	"container/list"
	"context"
	"sync"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Entry is one indexed job id.
type Entry struct {
	Tier  job.Priority
	JobID id.JobID
}

// Index is the dispatch index contract.
type Index interface {
	// Enqueue appends jobID to the tail of tier, removing it from any
	// other tier first.
	Enqueue(ctx context.Context, tier job.Priority, jobID id.JobID) error

	// Claim removes and returns the head of the highest non-empty tier.
	// ok is false when every tier is empty. A given id is returned to at
	// most one caller.
	Claim(ctx context.Context) (e Entry, ok bool, err error)

	// Remove drops jobID from whichever tier holds it.
	Remove(ctx context.Context, jobID id.JobID) error

	// Reset replaces the whole index with entries, in order.
	Reset(ctx context.Context, entries []Entry) error

	// Depth returns the length of each tier.
	Depth(ctx context.Context) (map[job.Priority]int, error)

	// Entries returns every indexed id in claim order.
	Entries(ctx context.Context) ([]Entry, error)
}

// JobLister is the slice of job.Store a rebuild needs.
type JobLister interface {
	ListQueued(ctx context.Context) ([]*job.Job, error)
}

// Rebuild resets idx to the queued jobs of s, ordered by queued_at. Jobs
// enqueued between the listing and the reset are lost, so Rebuild belongs
// at startup before any producer runs.
func Rebuild(ctx context.Context, idx Index, s JobLister) (int, error) {
	queued, err := s.ListQueued(ctx)
	if err != nil {
		return 0, err
	}
	entries := make([]Entry, len(queued))
	for i, j := range queued {
		entries[i] = Entry{Tier: j.Priority, JobID: j.ID}
	}
	if err := idx.Reset(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

var _ Index = (*MemoryIndex)(nil)

// MemoryIndex is an in-process Index. Safe for concurrent use.
type MemoryIndex struct {
	mu    sync.Mutex
	tiers map[job.Priority]*list.List
	elems map[id.JobID]*list.Element
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	m := &MemoryIndex{
		tiers: make(map[job.Priority]*list.List, len(job.Tiers)),
		elems: make(map[id.JobID]*list.Element),
	}
	for _, p := range job.Tiers {
		m.tiers[p] = list.New()
	}
	return m
}

func (m *MemoryIndex) Enqueue(_ context.Context, tier job.Priority, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueLocked(tier, jobID)
	return nil
}

func (m *MemoryIndex) enqueueLocked(tier job.Priority, jobID id.JobID) {
	m.removeLocked(jobID)
	q, ok := m.tiers[tier]
	if !ok {
		q = m.tiers[job.PriorityNormal]
		tier = job.PriorityNormal
	}
	m.elems[jobID] = q.PushBack(Entry{Tier: tier, JobID: jobID})
}

func (m *MemoryIndex) Claim(_ context.Context) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range job.Tiers {
		q := m.tiers[p]
		if front := q.Front(); front != nil {
			e := q.Remove(front).(Entry)
			delete(m.elems, e.JobID)
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func (m *MemoryIndex) Remove(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(jobID)
	return nil
}

func (m *MemoryIndex) removeLocked(jobID id.JobID) {
	el, ok := m.elems[jobID]
	if !ok {
		return
	}
	m.tiers[el.Value.(Entry).Tier].Remove(el)
	delete(m.elems, jobID)
}

func (m *MemoryIndex) Reset(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.tiers {
		q.Init()
	}
	clear(m.elems)
	for _, e := range entries {
		m.enqueueLocked(e.Tier, e.JobID)
	}
	return nil
}

func (m *MemoryIndex) Depth(_ context.Context) (map[job.Priority]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[job.Priority]int, len(m.tiers))
	for p, q := range m.tiers {
		out[p] = q.Len()
	}
	return out, nil
}

func (m *MemoryIndex) Entries(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.elems))
	for _, p := range job.Tiers {
		for el := m.tiers[p].Front(); el != nil; el = el.Next() {
			out = append(out, el.Value.(Entry))
		}
	}
	return out, nil
}
