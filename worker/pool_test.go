package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/backoff"
	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/engine"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/store/memory"
	"github.com/evanramirez88/restaurant-consulting-site/automation/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type setup struct {
	eng    *engine.Engine
	reg    *job.Registry
	client uuid.UUID
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := memory.New()
	cid := uuid.New()
	s.PutClient(&clients.Client{ID: cid, Name: "Old Salt Brewery"})
	o, err := automation.New(automation.WithStore(s), automation.WithLogger(testLogger()))
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.Build(o)
	if err != nil {
		t.Fatal(err)
	}
	return &setup{eng: eng, reg: job.NewRegistry(), client: cid}
}

func (s *setup) pool(t *testing.T, opts ...worker.PoolOption) *worker.Pool {
	t.Helper()
	opts = append([]worker.PoolOption{
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithHeartbeatInterval(10 * time.Millisecond),
		worker.WithAutoRetry(nil),
	}, opts...)
	p := worker.NewPool(s.eng, s.reg, testLogger(), opts...)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func (s *setup) create(t *testing.T, typ job.Type, mut func(*engine.CreateRequest)) *job.Job {
	t.Helper()
	req := engine.CreateRequest{ClientID: s.client, Type: typ}
	if mut != nil {
		mut(&req)
	}
	j, err := s.eng.Create(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func (s *setup) waitStatus(t *testing.T, jobID id.JobID, want job.Status) *job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		j, err := s.eng.Get(context.Background(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status == want {
			return j
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s status = %s, want %s", jobID, j.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPool_StartStop(t *testing.T) {
	s := newSetup(t)
	p := worker.NewPool(s.eng, s.reg, testLogger(), worker.WithPollInterval(10*time.Millisecond))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("double Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("double Stop: %v", err)
	}
}

func TestPool_CompletesWithResultAndProgress(t *testing.T) {
	s := newSetup(t)
	progressed := make(chan error, 1)
	s.reg.Register(job.TypeMenuSync, func(ctx context.Context, j *job.Job, r job.Reporter) (map[string]any, error) {
		progressed <- r.Report(ctx, 50, "items pushed")
		return map[string]any{"items": 12}, nil
	})
	s.pool(t)

	j := s.create(t, job.TypeMenuSync, nil)
	done := s.waitStatus(t, j.ID, job.StatusCompleted)

	if err := <-progressed; err != nil {
		t.Errorf("Report: %v", err)
	}
	if done.ResultOf()["items"] != 12 {
		t.Errorf("result = %v", done.ResultOf())
	}
	if done.ProgressMessage != "items pushed" {
		t.Errorf("progress message = %q", done.ProgressMessage)
	}
}

func TestPool_TypedDefinition(t *testing.T) {
	s := newSetup(t)
	type cfg struct {
		Location string `json:"location"`
	}
	var got atomic.Value
	job.RegisterDefinition(s.reg, job.NewDefinition(job.TypeHealthCheck,
		func(_ context.Context, c cfg, _ job.Reporter) (map[string]any, error) {
			got.Store(c.Location)
			return nil, nil
		}))
	s.pool(t)

	j := s.create(t, job.TypeHealthCheck, func(r *engine.CreateRequest) {
		r.Config = map[string]any{"location": "Wellfleet"}
	})
	s.waitStatus(t, j.ID, job.StatusCompleted)
	if got.Load() != "Wellfleet" {
		t.Errorf("config location = %v", got.Load())
	}
}

func TestPool_FailureAndMissingHandler(t *testing.T) {
	s := newSetup(t)
	s.reg.Register(job.TypeBackup, func(context.Context, *job.Job, job.Reporter) (map[string]any, error) {
		return nil, errors.New("disk full")
	})
	s.reg.Register(job.TypeGoldenCopy, func(context.Context, *job.Job, job.Reporter) (map[string]any, error) {
		panic("nil menu")
	})
	s.pool(t)

	tests := []struct {
		typ  job.Type
		want string
	}{
		{job.TypeBackup, "disk full"},
		{job.TypeGoldenCopy, "panic: nil menu"},
		{job.TypeClassification, `no handler registered for job type "classification"`},
	}
	for _, tt := range tests {
		j := s.create(t, tt.typ, nil)
		failed := s.waitStatus(t, j.ID, job.StatusFailed)
		if failed.ErrorMessage() != tt.want {
			t.Errorf("%s error = %q, want %q", tt.typ, failed.ErrorMessage(), tt.want)
		}
	}
}

func TestPool_AutoRetry(t *testing.T) {
	s := newSetup(t)
	var attempts atomic.Int32
	s.reg.Register(job.TypeMenuBuild, func(context.Context, *job.Job, job.Reporter) (map[string]any, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("toast session expired")
		}
		return map[string]any{"ok": true}, nil
	})
	s.pool(t, worker.WithAutoRetry(backoff.NewConstant(10*time.Millisecond)))

	one := 1
	j := s.create(t, job.TypeMenuBuild, func(r *engine.CreateRequest) { r.MaxRetries = &one })
	done := s.waitStatus(t, j.ID, job.StatusCompleted)
	if done.RetryCount != 1 || attempts.Load() != 2 {
		t.Fatalf("retry_count = %d attempts = %d", done.RetryCount, attempts.Load())
	}
}

func TestPool_AutoRetryRespectsOptOut(t *testing.T) {
	s := newSetup(t)
	var attempts atomic.Int32
	s.reg.Register(job.TypeMenuBuild, func(context.Context, *job.Job, job.Reporter) (map[string]any, error) {
		attempts.Add(1)
		return nil, errors.New("bad config")
	})
	s.pool(t, worker.WithAutoRetry(backoff.NewConstant(5*time.Millisecond)))

	off, three := false, 3
	j := s.create(t, job.TypeMenuBuild, func(r *engine.CreateRequest) {
		r.RetryOnFailure = &off
		r.MaxRetries = &three
	})
	s.waitStatus(t, j.ID, job.StatusFailed)
	time.Sleep(50 * time.Millisecond)
	if got, _ := s.eng.Get(context.Background(), j.ID); got.Status != job.StatusFailed || attempts.Load() != 1 {
		t.Fatalf("status = %s attempts = %d", got.Status, attempts.Load())
	}
}

func TestPool_CancelStopsHandler(t *testing.T) {
	s := newSetup(t)
	started := make(chan struct{})
	cause := make(chan error, 1)
	s.reg.Register(job.TypeReportGeneration, func(ctx context.Context, _ *job.Job, _ job.Reporter) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return nil, ctx.Err()
	})
	s.pool(t)

	j := s.create(t, job.TypeReportGeneration, nil)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not started")
	}
	if _, err := s.eng.Cancel(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-cause:
		if !errors.Is(err, worker.ErrCancelled) {
			t.Fatalf("cause = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not cancelled")
	}
	got, _ := s.eng.Get(context.Background(), j.ID)
	if got.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestPool_StopCancelsAfterDeadline(t *testing.T) {
	s := newSetup(t)
	started := make(chan struct{})
	s.reg.Register(job.TypeModifierSync, func(ctx context.Context, _ *job.Job, _ job.Reporter) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := worker.NewPool(s.eng, s.reg, testLogger(),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithHeartbeatInterval(0),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	j := s.create(t, job.TypeModifierSync, nil)
	<-started
	if p.Active() != 1 {
		t.Fatalf("active = %d", p.Active())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	failed := s.waitStatus(t, j.ID, job.StatusFailed)
	if !strings.Contains(failed.ErrorMessage(), "context canceled") {
		t.Errorf("error = %q", failed.ErrorMessage())
	}
}
