package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

func claimAll(t *testing.T, idx Index) []Entry {
	t.Helper()
	var out []Entry
	for {
		e, ok, err := idx.Claim(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func TestMemoryIndex_StrictPriorityAndFIFO(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	low1, normal1, normal2, crit1, high1 := id.NewJobID(), id.NewJobID(), id.NewJobID(), id.NewJobID(), id.NewJobID()
	_ = idx.Enqueue(ctx, job.PriorityLow, low1)
	_ = idx.Enqueue(ctx, job.PriorityNormal, normal1)
	_ = idx.Enqueue(ctx, job.PriorityNormal, normal2)
	_ = idx.Enqueue(ctx, job.PriorityCritical, crit1)
	_ = idx.Enqueue(ctx, job.PriorityHigh, high1)

	got := claimAll(t, idx)
	want := []id.JobID{crit1, high1, normal1, normal2, low1}
	if len(got) != len(want) {
		t.Fatalf("claimed %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].JobID != want[i] {
			t.Errorf("claim %d = %s, want %s", i, got[i].JobID, want[i])
		}
	}
}

func TestMemoryIndex_EnqueueMovesTier(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	j := id.NewJobID()

	_ = idx.Enqueue(ctx, job.PriorityLow, j)
	_ = idx.Enqueue(ctx, job.PriorityCritical, j)

	depth, _ := idx.Depth(ctx)
	if depth[job.PriorityLow] != 0 || depth[job.PriorityCritical] != 1 {
		t.Fatalf("depth = %v", depth)
	}
	got := claimAll(t, idx)
	if len(got) != 1 || got[0].Tier != job.PriorityCritical {
		t.Errorf("claimed %v", got)
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	a, b := id.NewJobID(), id.NewJobID()
	_ = idx.Enqueue(ctx, job.PriorityHigh, a)
	_ = idx.Enqueue(ctx, job.PriorityHigh, b)
	_ = idx.Remove(ctx, a)
	_ = idx.Remove(ctx, id.NewJobID())

	got := claimAll(t, idx)
	if len(got) != 1 || got[0].JobID != b {
		t.Errorf("claimed %v", got)
	}
}

func TestMemoryIndex_ConcurrentClaimAtMostOnce(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	const n = 500
	for range n {
		_ = idx.Enqueue(ctx, job.PriorityNormal, id.NewJobID())
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[id.JobID]int)
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, ok, _ := idx.Claim(ctx)
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
		t.Fatalf("claimed %d distinct ids, want %d", len(seen), n)
	}
	for jid, c := range seen {
		if c != 1 {
			t.Errorf("%s claimed %d times", jid, c)
		}
	}
}

type queuedLister []*job.Job

func (q queuedLister) ListQueued(context.Context) ([]*job.Job, error) { return q, nil }

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	stale := id.NewJobID()
	_ = idx.Enqueue(ctx, job.PriorityCritical, stale)

	first := &job.Job{ID: id.NewJobID(), Priority: job.PriorityNormal}
	second := &job.Job{ID: id.NewJobID(), Priority: job.PriorityNormal}
	urgent := &job.Job{ID: id.NewJobID(), Priority: job.PriorityHigh}

	n, err := Rebuild(ctx, idx, queuedLister{first, second, urgent})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("rebuilt %d entries", n)
	}
	got := claimAll(t, idx)
	want := []id.JobID{urgent.ID, first.ID, second.ID}
	for i := range want {
		if got[i].JobID != want[i] {
			t.Errorf("claim %d = %s, want %s", i, got[i].JobID, want[i])
		}
	}
}

func TestMemoryIndex_EntriesInClaimOrder(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	low, normal, crit := id.NewJobID(), id.NewJobID(), id.NewJobID()
	_ = idx.Enqueue(ctx, job.PriorityLow, low)
	_ = idx.Enqueue(ctx, job.PriorityNormal, normal)
	_ = idx.Enqueue(ctx, job.PriorityCritical, crit)

	got, err := idx.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{Tier: job.PriorityCritical, JobID: crit},
		{Tier: job.PriorityNormal, JobID: normal},
		{Tier: job.PriorityLow, JobID: low},
	}
	if len(got) != len(want) {
		t.Fatalf("entries = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %v, want %v", i, got[i], want[i])
		}
	}
	if depth, _ := idx.Depth(ctx); depth[job.PriorityNormal] != 1 {
		t.Error("Entries consumed the index")
	}
}
