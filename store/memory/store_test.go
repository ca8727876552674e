package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job store tests
// ──────────────────────────────────────────────────

func newJob(clientID uuid.UUID, typ job.Type, status job.Status, priority job.Priority) *job.Job {
	return &job.Job{
		Entity:     automation.NewEntity(),
		ID:         id.NewJobID(),
		ClientID:   clientID,
		Type:       typ,
		Status:     status,
		Priority:   priority,
		MaxRetries: 3,
		Config:     map[string]any{"location": "main"},
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(uuid.New(), job.TypeMenuSync, job.StatusQueued, job.PriorityNormal)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if j.Version != 1 {
		t.Errorf("version = %d, want 1", j.Version)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, automation.ErrJobAlreadyExists) {
		t.Errorf("expected ErrJobAlreadyExists, got %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Config["location"] = "mutated"
	again, _ := s.GetJob(ctx, j.ID)
	if again.Config["location"] != "main" {
		t.Error("store returned shared state")
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, automation.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestUpdateCompareAndSet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(uuid.New(), job.TypeBackup, job.StatusQueued, job.PriorityLow)
	_ = s.CreateJob(ctx, j)

	a, _ := s.GetJob(ctx, j.ID)
	b, _ := s.GetJob(ctx, j.ID)

	a.Progress = 10
	if err := s.UpdateJob(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.Version != 2 {
		t.Errorf("version = %d, want 2", a.Version)
	}
	b.Metadata = map[string]any{"k": "v"}
	if err := s.UpdateJob(ctx, b); !errors.Is(err, automation.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestListJobsOrderAndFilters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	clientA, clientB := uuid.New(), uuid.New()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(c uuid.UUID, p job.Priority, offset time.Duration, st job.Status) *job.Job {
		j := newJob(c, job.TypeMenuSync, st, p)
		j.CreatedAt = base.Add(offset)
		_ = s.CreateJob(ctx, j)
		return j
	}
	lowOld := mk(clientA, job.PriorityLow, 0, job.StatusQueued)
	highOld := mk(clientA, job.PriorityHigh, time.Minute, job.StatusPending)
	highNew := mk(clientB, job.PriorityHigh, 2*time.Minute, job.StatusQueued)

	all, _ := s.ListJobs(ctx, job.Query{})
	want := []id.JobID{highNew.ID, highOld.ID, lowOld.ID}
	for i, j := range all {
		if j.ID != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, j.ID, want[i])
		}
	}

	byClient, _ := s.ListJobs(ctx, job.Query{ClientID: clientA})
	if len(byClient) != 2 {
		t.Errorf("client filter returned %d", len(byClient))
	}
	queued, _ := s.ListJobs(ctx, job.Query{Status: job.StatusQueued, Limit: 1, Offset: 1})
	if len(queued) != 1 || queued[0].ID != lowOld.ID {
		t.Errorf("paged status filter = %v", queued)
	}
	since, _ := s.ListJobs(ctx, job.Query{Since: base.Add(90 * time.Second)})
	if len(since) != 1 || since[0].ID != highNew.ID {
		t.Errorf("since filter = %v", since)
	}
	high := job.PriorityHigh
	byPriority, _ := s.ListJobs(ctx, job.Query{Priority: &high})
	if len(byPriority) != 2 {
		t.Errorf("priority filter returned %d", len(byPriority))
	}
}

func TestListQueuedOrdersByQueuedAt(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	second := newJob(uuid.New(), job.TypeBackup, job.StatusQueued, job.PriorityLow)
	t2 := base.Add(time.Minute)
	second.QueuedAt = &t2
	first := newJob(uuid.New(), job.TypeBackup, job.StatusQueued, job.PriorityCritical)
	first.QueuedAt = &base
	pending := newJob(uuid.New(), job.TypeBackup, job.StatusPending, job.PriorityLow)
	for _, j := range []*job.Job{second, first, pending} {
		_ = s.CreateJob(ctx, j)
	}

	got, _ := s.ListQueued(ctx)
	if len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestDependencyQueries(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	parent := newJob(uuid.New(), job.TypeGoldenCopy, job.StatusRunning, job.PriorityNormal)
	child := newJob(uuid.New(), job.TypeMenuSync, job.StatusPending, job.PriorityNormal)
	child.DependsOn = []id.JobID{parent.ID}
	done := newJob(uuid.New(), job.TypeMenuSync, job.StatusCompleted, job.PriorityNormal)
	done.DependsOn = []id.JobID{parent.ID}
	for _, j := range []*job.Job{parent, child, done} {
		_ = s.CreateJob(ctx, j)
	}

	deps, _ := s.ListDependents(ctx, parent.ID)
	if len(deps) != 1 || deps[0].ID != child.ID {
		t.Errorf("dependents = %v", deps)
	}
	missing := id.NewJobID()
	statuses, _ := s.JobStatuses(ctx, []id.JobID{parent.ID, missing})
	if len(statuses) != 1 || statuses[parent.ID] != job.StatusRunning {
		t.Errorf("statuses = %v", statuses)
	}
	edges, _ := s.Dependencies(ctx, []id.JobID{child.ID})
	if len(edges[child.ID]) != 1 || edges[child.ID][0] != parent.ID {
		t.Errorf("dependencies = %v", edges)
	}
}

func TestConcurrentUpdatesOneWins(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := newJob(uuid.New(), job.TypeBackup, job.StatusQueued, job.PriorityLow)
	_ = s.CreateJob(ctx, j)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp, _ := s.GetJob(ctx, j.ID)
			// All readers load version 1 before anyone writes.
			cp.Version = 1
			if err := s.UpdateJob(ctx, cp); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

// ──────────────────────────────────────────────────
// Analytics and directory tests
// ──────────────────────────────────────────────────

func TestLoad(t *testing.T) {
	s := New()
	ctx := context.Background()
	cid := uuid.New()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	recent, old := now.Add(-10*time.Minute), now.Add(-2*time.Hour)

	running := newJob(cid, job.TypeMenuSync, job.StatusRunning, job.PriorityNormal)
	failedRecent := newJob(cid, job.TypeMenuSync, job.StatusFailed, job.PriorityNormal)
	failedRecent.CompletedAt = &recent
	failedOld := newJob(cid, job.TypeMenuSync, job.StatusFailed, job.PriorityNormal)
	failedOld.CompletedAt = &old
	stale := newJob(cid, job.TypeBackup, job.StatusQueued, job.PriorityLow)
	stale.QueuedAt = &old
	fresh := newJob(cid, job.TypeBackup, job.StatusQueued, job.PriorityLow)
	fresh.QueuedAt = &recent
	for _, j := range []*job.Job{running, failedRecent, failedOld, stale, fresh} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Load(ctx, now.Add(-time.Hour), now.Add(-30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if *got != (job.Load{Running: 1, FailedRecently: 1, StaleQueued: 1}) {
		t.Errorf("load = %+v", got)
	}
}

func TestAnalytics(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	cid := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{now.Add(10 * time.Minute), now.Add(20 * time.Minute), now.Add(2 * time.Hour), now.Add(-time.Hour)} {
		j := newJob(cid, job.TypeHealthCheck, job.StatusPending, job.PriorityNormal)
		j.ScheduledAt = at
		j.CreatedAt = now.Add(-time.Duration(i) * 24 * time.Hour)
		_ = s.CreateJob(ctx, j)
	}
	buckets, _ := s.ScheduledPerHour(ctx, now, now.Add(24*time.Hour))
	if buckets[now] != 2 || buckets[now.Add(2*time.Hour)] != 1 || len(buckets) != 2 {
		t.Errorf("buckets = %v", buckets)
	}

	early, late := now.Add(-48*time.Hour), now.Add(-6*time.Hour)
	for _, at := range []time.Time{early, late} {
		j := newJob(cid, job.TypeBackup, job.StatusCompleted, job.PriorityNormal)
		at := at
		j.CompletedAt = &at
		_ = s.CreateJob(ctx, j)
	}
	last, _ := s.LastCompleted(ctx, cid)
	if !last[job.TypeBackup].Equal(late) {
		t.Errorf("last backup = %v, want %v", last[job.TypeBackup], late)
	}
	if _, ok := last[job.TypeHealthCheck]; ok {
		t.Error("pending jobs must not count as completed")
	}

	hist, _ := s.History(ctx, cid, now.Add(-30*24*time.Hour))
	total := 0
	for _, row := range hist {
		total += row.Count
	}
	if total != 6 {
		t.Errorf("history total = %d, want 6", total)
	}
}

func TestClientDirectory(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	a := &clients.Client{ID: uuid.New(), Name: "Oyster Bar"}
	b := &clients.Client{ID: uuid.New(), Name: "bistro on main"}
	s.PutClient(a)
	s.PutClient(b)

	got, err := s.GetClient(ctx, a.ID)
	if err != nil || got.Name != "Oyster Bar" {
		t.Fatalf("GetClient = %v, %v", got, err)
	}
	if _, err := s.GetClient(ctx, uuid.New()); !errors.Is(err, automation.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
	list, _ := s.ListClients(ctx, 1)
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("ListClients = %v", list)
	}
}
