package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanramirez88/restaurant-consulting-site/automation/alert"
	audithook "github.com/evanramirez88/restaurant-consulting-site/automation/audit_hook"
	"github.com/evanramirez88/restaurant-consulting-site/automation/backend"
	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/config"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/live"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE", "memory")
	t.Setenv("DISPATCH_INDEX", "memory")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestJobsList_Empty(t *testing.T) {
	memoryEnv(t)
	out, err := run(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "PRIORITY")
}

func TestJobsRetry_UnknownJob(t *testing.T) {
	memoryEnv(t)
	_, err := run(t, "jobs", "retry", "job_01h2xcejqtf2nbrexx3vqjhp41")
	assert.Error(t, err)

	_, err = run(t, "jobs", "cancel", "not-an-id")
	assert.Error(t, err)
}

func TestReconcile_Memory(t *testing.T) {
	memoryEnv(t)
	out, err := run(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, `"indexed": 0`)
}

func TestMigrateAndClientsAdd_RequirePostgres(t *testing.T) {
	memoryEnv(t)
	_, err := run(t, "migrate")
	assert.ErrorContains(t, err, "STORE=postgres")

	_, err = run(t, "clients", "add", "Harbor Lights Cafe")
	assert.ErrorContains(t, err, "STORE=postgres")
}

func TestLiveAuth(t *testing.T) {
	_, open := liveAuth(&config.Config{}).(live.NoopAuthenticator)
	assert.True(t, open)

	auth := liveAuth(&config.Config{LiveAPIKeys: map[string]string{"k1": "ops"}})
	ident, err := auth.Authenticate(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "ops", ident.Subject)
	assert.True(t, ident.Global)

	_, err = auth.Authenticate(context.Background(), "nope")
	assert.Error(t, err)
}

func TestNotifiers_LogOnlyWithoutNSQ(t *testing.T) {
	sink, rec, closeNotifiers, err := notifiers(&config.Config{}, slog.Default())
	require.NoError(t, err)
	defer closeNotifiers()
	assert.IsType(t, alert.LogSink{}, sink)
	assert.IsType(t, audithook.LogRecorder{}, rec)
}

func TestNotifiers_SharedNSQProducer(t *testing.T) {
	cfg := &config.Config{NSQDAddr: "127.0.0.1:4150", AlertTopic: "automation.alerts", AuditTopic: "automation.audit"}
	sink, rec, closeNotifiers, err := notifiers(cfg, slog.Default())
	require.NoError(t, err)
	defer closeNotifiers()
	assert.Len(t, sink, 2)
	assert.Len(t, rec, 2)
}

type reports struct{ last string }

func (r *reports) Report(_ context.Context, _ int, msg string) error {
	r.last = msg
	return nil
}

func TestHealthCheckHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","activeSessions":2}`))
	}))
	defer srv.Close()

	var rep reports
	h := healthCheckHandler(backend.New(srv.URL))
	result, err := h(context.Background(), &job.Job{Type: job.TypeHealthCheck}, &rep)
	require.NoError(t, err)
	assert.Equal(t, "healthy", result["status"])
	assert.Equal(t, 2, result["active_sessions"])
	assert.Equal(t, "browser service healthy", rep.last)
}
