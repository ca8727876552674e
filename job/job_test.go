package job_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

func TestJobJSONFlattensOutcome(t *testing.T) {
	j := &job.Job{
		ID:       id.NewJobID(),
		ClientID: uuid.New(),
		Type:     job.TypeMenuSync,
		Status:   job.StatusCompleted,
		Priority: job.PriorityHigh,
		Outcome:  job.Success{Result: map[string]any{"synced": true}},
	}
	data, err := json.Marshal(j)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["job_type"] != "menu_sync" || raw["status"] != "completed" || raw["priority"] != float64(2) {
		t.Errorf("unexpected wire fields: %v", raw)
	}
	if _, ok := raw["error"]; ok {
		t.Error("error must be absent for a completed job")
	}

	var back job.Job
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.ResultOf()["synced"] != true || back.ID != j.ID {
		t.Errorf("round trip lost data: %+v", back)
	}
}

func TestJobJSONRejectsMismatchedOutcome(t *testing.T) {
	data := []byte(`{"id":"","status":"pending","result":{"x":1}}`)
	var j job.Job
	if err := json.Unmarshal(data, &j); err == nil {
		t.Fatal("expected error for result on a pending job")
	}
}

func TestCloneIsDeep(t *testing.T) {
	j := &job.Job{Config: map[string]any{"nested": map[string]any{"k": "v"}}, DependsOn: []id.JobID{id.NewJobID()}}
	cp := j.Clone()
	cp.Config["nested"].(map[string]any)["k"] = "changed"
	cp.DependsOn[0] = id.Nil
	if j.Config["nested"].(map[string]any)["k"] != "v" || j.DependsOn[0].IsNil() {
		t.Error("clone shares state with original")
	}
}

func TestOverdue(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := &job.Job{Status: job.StatusRunning, StartedAt: &started, TimeoutSeconds: 60}
	if j.Overdue(started.Add(59 * time.Second)) {
		t.Error("not yet overdue")
	}
	if !j.Overdue(started.Add(61 * time.Second)) {
		t.Error("expected overdue")
	}
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]job.Priority{"low": 0, "NORMAL": 1, "2": 2, "critical": 3} {
		got, err := job.ParsePriority(in)
		if err != nil || got != want {
			t.Errorf("ParsePriority(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := job.ParsePriority("urgent"); err == nil {
		t.Error("expected error")
	}
}

func TestAccumulator(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	start := day.Add(time.Hour)
	end := start.Add(90 * time.Second)
	failedAt := start.Add(30 * time.Second)
	yesterday := day.Add(-time.Hour)

	acc := job.NewAccumulator(day)
	acc.Add(&job.Job{Status: job.StatusPending, Type: job.TypeBackup, Priority: job.PriorityLow})
	acc.Add(&job.Job{Status: job.StatusQueued, Type: job.TypeBackup, Priority: job.PriorityHigh})
	acc.Add(&job.Job{Status: job.StatusCompleted, Type: job.TypeMenuSync, StartedAt: &start, CompletedAt: &end})
	acc.Add(&job.Job{Status: job.StatusFailed, Type: job.TypeMenuSync, CompletedAt: &yesterday})
	acc.Add(&job.Job{Status: job.StatusFailed, Type: job.TypeMenuSync, StartedAt: &start, CompletedAt: &failedAt})

	s := acc.Stats()
	if s.TotalJobs != 5 || s.Pending != 1 || s.Queued != 1 || s.CompletedToday != 1 || s.FailedToday != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
	// Failed runs count; the one without started_at does not.
	if s.AvgDurationSeconds != 60 {
		t.Errorf("avg = %v, want 60", s.AvgDurationSeconds)
	}
	if s.ByType["backup"] != 2 || s.ByType["menu_sync"] != 0 {
		t.Errorf("by_type = %v", s.ByType)
	}
	if s.ByPriority["0"] != 1 || s.ByPriority["2"] != 1 {
		t.Errorf("by_priority = %v", s.ByPriority)
	}
}
