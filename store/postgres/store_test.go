//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/queue"
	"github.com/evanramirez88/restaurant-consulting-site/automation/store/postgres"
)

// setupTestStore starts a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("automation_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedClient(t *testing.T, s *postgres.Store, name string) uuid.UUID {
	t.Helper()
	cid := uuid.New()
	if err := s.PutClient(context.Background(), &clients.Client{ID: cid, Name: name}); err != nil {
		t.Fatalf("put client: %v", err)
	}
	return cid
}

func newJob(clientID uuid.UUID, typ job.Type, status job.Status, priority job.Priority) *job.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &job.Job{
		Entity:         automation.Entity{CreatedAt: now, UpdatedAt: now},
		ID:             id.NewJobID(),
		ClientID:       clientID,
		Type:           typ,
		Status:         status,
		Priority:       priority,
		ScheduledAt:    now,
		MaxRetries:     3,
		RetryOnFailure: true,
		TimeoutSeconds: 3600,
		Config:         map[string]any{"location": "main"},
		Metadata:       map[string]any{},
	}
}

func TestStore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	cid := seedClient(t, s, "Dockside Grill")

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("second migrate: %v", err)
		}
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		j := newJob(cid, job.TypeMenuSync, job.StatusQueued, job.PriorityHigh)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateJob(ctx, j); !errors.Is(err, automation.ErrJobAlreadyExists) {
			t.Errorf("expected ErrJobAlreadyExists, got %v", err)
		}
		got, err := s.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Version != 1 || got.Priority != job.PriorityHigh || got.Config["location"] != "main" {
			t.Errorf("unexpected job: %+v", got)
		}
		if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, automation.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("UnknownClient", func(t *testing.T) {
		j := newJob(uuid.New(), job.TypeBackup, job.StatusQueued, job.PriorityLow)
		if err := s.CreateJob(ctx, j); !errors.Is(err, automation.ErrClientNotFound) {
			t.Errorf("expected ErrClientNotFound, got %v", err)
		}
	})

	t.Run("UpdateCompareAndSet", func(t *testing.T) {
		j := newJob(cid, job.TypeBackup, job.StatusRunning, job.PriorityNormal)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		stale := j.Clone()

		j.Status = job.StatusCompleted
		j.Outcome = job.Success{Result: map[string]any{"items": float64(4)}}
		done := time.Now().UTC()
		j.CompletedAt = &done
		if err := s.UpdateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		if j.Version != 2 {
			t.Errorf("version = %d, want 2", j.Version)
		}
		if err := s.UpdateJob(ctx, stale); !errors.Is(err, automation.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict, got %v", err)
		}

		got, err := s.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.ResultOf()["items"] != float64(4) {
			t.Errorf("result = %v", got.ResultOf())
		}

		missing := newJob(cid, job.TypeBackup, job.StatusQueued, job.PriorityNormal)
		missing.Version = 1
		if err := s.UpdateJob(ctx, missing); !errors.Is(err, automation.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("ConcurrentUpdatesOneWins", func(t *testing.T) {
		j := newJob(cid, job.TypeItemUpdate, job.StatusRunning, job.PriorityNormal)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				cp := j.Clone()
				cp.Progress = p * 10
				if err := s.UpdateJob(ctx, cp); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("wins = %d, want 1", wins)
		}
	})

	t.Run("DependencyQueries", func(t *testing.T) {
		parent := newJob(cid, job.TypeMenuBuild, job.StatusRunning, job.PriorityNormal)
		child := newJob(cid, job.TypeHealthCheck, job.StatusPending, job.PriorityNormal)
		child.DependsOn = []id.JobID{parent.ID}
		for _, j := range []*job.Job{parent, child} {
			if err := s.CreateJob(ctx, j); err != nil {
				t.Fatal(err)
			}
		}
		deps, err := s.ListDependents(ctx, parent.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(deps) != 1 || deps[0].ID != child.ID {
			t.Errorf("dependents = %v", deps)
		}
		statuses, err := s.JobStatuses(ctx, []id.JobID{parent.ID, id.NewJobID()})
		if err != nil {
			t.Fatal(err)
		}
		if len(statuses) != 1 || statuses[parent.ID] != job.StatusRunning {
			t.Errorf("statuses = %v", statuses)
		}
		edges, err := s.Dependencies(ctx, []id.JobID{child.ID})
		if err != nil {
			t.Fatal(err)
		}
		if len(edges[child.ID]) != 1 || edges[child.ID][0] != parent.ID {
			t.Errorf("dependencies = %v", edges)
		}
	})
}

func TestListingAndStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	cid := seedClient(t, s, "Beacon Tavern")
	other := seedClient(t, s, "Anchor Diner")

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	var queued []*job.Job
	for i, p := range []job.Priority{job.PriorityLow, job.PriorityCritical, job.PriorityLow} {
		j := newJob(cid, job.TypeMenuSync, job.StatusQueued, p)
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		qa := base.Add(time.Duration(10-i) * time.Minute)
		j.QueuedAt = &qa
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		queued = append(queued, j)
	}
	done := newJob(other, job.TypeBackup, job.StatusCompleted, job.PriorityNormal)
	started := time.Now().UTC().Add(-10 * time.Second)
	finished := time.Now().UTC().Truncate(time.Microsecond)
	done.StartedAt, done.CompletedAt = &started, &finished
	done.Outcome = job.Success{}
	if err := s.CreateJob(ctx, done); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListJobs(ctx, job.Query{ClientID: cid})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].Priority != job.PriorityCritical || list[1].ID != queued[2].ID {
		t.Errorf("unexpected ordering: %v", list)
	}

	paged, err := s.ListJobs(ctx, job.Query{Status: job.StatusQueued, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 || paged[0].ID != queued[2].ID {
		t.Errorf("unexpected page: %v", paged)
	}

	fifo, err := s.ListQueued(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fifo) != 3 || fifo[0].ID != queued[2].ID || fifo[2].ID != queued[0].ID {
		t.Errorf("ListQueued not ordered by queued_at: %v", fifo)
	}

	stats, err := s.Stats(ctx, job.StartOfDay(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalJobs != 4 || stats.Queued != 3 || stats.CompletedToday != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByPriority["0"] != 2 || stats.ByType["menu_sync"] != 3 {
		t.Errorf("breakdown = %v %v", stats.ByPriority, stats.ByType)
	}
	if stats.AvgDurationSeconds < 9 || stats.AvgDurationSeconds > 11 {
		t.Errorf("avg duration = %v", stats.AvgDurationSeconds)
	}

	// The queued jobs entered the queue about fifty minutes ago.
	load, err := s.Load(ctx, time.Now().Add(-time.Hour), time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if *load != (job.Load{StaleQueued: 3}) {
		t.Errorf("load = %+v", load)
	}

	last, err := s.LastCompleted(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if !last[job.TypeBackup].Equal(finished) {
		t.Errorf("last completed = %v, want %v", last[job.TypeBackup], finished)
	}

	hist, err := s.History(ctx, cid, base.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Count != 3 || hist[0].Status != job.StatusQueued {
		t.Errorf("history = %v", hist)
	}

	hours, err := s.ScheduledPerHour(ctx, base.Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for h, n := range hours {
		if h.Location() != time.UTC || h.Minute() != 0 {
			t.Errorf("bucket %v is not a UTC hour", h)
		}
		total += n
	}
	if total != 4 {
		t.Errorf("scheduled total = %d, want 4", total)
	}

	cs, err := s.ListClients(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 1 || cs[0].Name != "Anchor Diner" {
		t.Errorf("clients = %v", cs)
	}
}

func TestIndex(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	idx := s.Index()

	a, b, c := id.NewJobID(), id.NewJobID(), id.NewJobID()
	for _, e := range []queue.Entry{{Tier: job.PriorityLow, JobID: a}, {Tier: job.PriorityHigh, JobID: b}, {Tier: job.PriorityLow, JobID: c}} {
		if err := idx.Enqueue(ctx, e.Tier, e.JobID); err != nil {
			t.Fatal(err)
		}
	}
	// Moving a to high puts it behind b.
	if err := idx.Enqueue(ctx, job.PriorityHigh, a); err != nil {
		t.Fatal(err)
	}

	depth, err := idx.Depth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if depth[job.PriorityHigh] != 2 || depth[job.PriorityLow] != 1 || depth[job.PriorityCritical] != 0 {
		t.Errorf("depth = %v", depth)
	}
	entries, err := idx.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].JobID != b || entries[1].JobID != a || entries[2] != (queue.Entry{Tier: job.PriorityLow, JobID: c}) {
		t.Errorf("entries = %v", entries)
	}

	for _, want := range []id.JobID{b, a, c} {
		e, ok, err := idx.Claim(ctx)
		if err != nil || !ok {
			t.Fatalf("claim: ok=%v err=%v", ok, err)
		}
		if e.JobID != want {
			t.Errorf("claimed %s, want %s", e.JobID, want)
		}
	}
	if _, ok, err := idx.Claim(ctx); ok || err != nil {
		t.Errorf("empty claim: ok=%v err=%v", ok, err)
	}

	if err := idx.Reset(ctx, []queue.Entry{{Tier: job.PriorityNormal, JobID: c}, {Tier: job.PriorityNormal, JobID: a}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove(ctx, c); err != nil {
		t.Fatal(err)
	}
	e, ok, err := idx.Claim(ctx)
	if err != nil || !ok || e.JobID != a {
		t.Errorf("claim after reset = %v %v %v", e, ok, err)
	}
}

func TestIndexConcurrentClaimAtMostOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	idx := s.Index()

	const n = 50
	for i := 0; i < n; i++ {
		if err := idx.Enqueue(ctx, job.Priority(i%4), id.NewJobID()); err != nil {
			t.Fatal(err)
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[id.JobID]int{}
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, ok, err := idx.Claim(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				seen[e.JobID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("claimed %d distinct ids, want %d", len(seen), n)
	}
	for jid, count := range seen {
		if count != 1 {
			t.Errorf("%s claimed %d times", jid, count)
		}
	}
}
