package live

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeJobs map[id.JobID]*job.Job

func (f fakeJobs) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	j, ok := f[jobID]
	if !ok {
		return nil, automation.ErrJobNotFound
	}
	return j, nil
}

type harness struct {
	broker *stream.Broker
	srv    *Server
	http   *httptest.Server
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	broker := stream.NewBroker(testLogger())
	opts = append([]Option{WithLogger(testLogger()), WithClock(func() time.Time { return fixedNow })}, opts...)
	srv := NewServer(broker, opts...)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /automation/ws/{client_id}", srv.ServeWS)
	hs := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Drain(ctx)
		hs.Close()
	})
	return &harness{broker: broker, srv: srv, http: hs}
}

func (h *harness) url(target, query string) string {
	u := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/automation/ws/" + target
	if query != "" {
		u += "?" + query
	}
	return u
}

func (h *harness) dial(t *testing.T, target, query string) net.Conn {
	t.Helper()
	before := h.srv.Connections().Count()
	conn, _, _, err := ws.Dial(context.Background(), h.url(target, query))
	if err != nil {
		t.Fatalf("dial %s: %v", target, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	eventually(t, func() bool { return h.srv.Connections().Count() > before })
	return conn
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func readFrame(t *testing.T, conn net.Conn) *Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, _, err := wsutil.ReadServerData(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return &f
}

func send(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := wsutil.WriteClientText(conn, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func update(clientID uuid.UUID, jobID id.JobID, status job.Status, progress int) *stream.Event {
	return &stream.Event{
		ID:        id.NewEventID(),
		Type:      stream.EventJobUpdate,
		JobID:     jobID,
		ClientID:  clientID,
		Status:    status,
		Progress:  progress,
		Timestamp: fixedNow,
	}
}

func TestServer_GlobalReceivesEveryClient(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, GlobalTarget, "")

	jobID := id.NewJobID()
	h.broker.Publish(update(uuid.New(), jobID, job.StatusRunning, 40))

	f := readFrame(t, conn)
	if f.Type != FrameJobUpdate {
		t.Fatalf("type = %q, want job_update", f.Type)
	}
	if f.JobID != jobID.String() || f.Status != job.StatusRunning {
		t.Errorf("frame = %+v", f)
	}
	if f.Progress == nil || *f.Progress != 40 {
		t.Errorf("progress = %v, want 40", f.Progress)
	}
	if !f.Timestamp.Equal(fixedNow) {
		t.Errorf("timestamp = %v", f.Timestamp)
	}
}

func TestServer_ClientConnectionFiltersOtherClients(t *testing.T) {
	h := newHarness(t)
	mine, other := uuid.New(), uuid.New()
	conn := h.dial(t, mine.String(), "")

	otherJob, myJob := id.NewJobID(), id.NewJobID()
	h.broker.Publish(update(other, otherJob, job.StatusQueued, 0))
	h.broker.Publish(update(mine, myJob, job.StatusQueued, 0))

	f := readFrame(t, conn)
	if f.JobID != myJob.String() {
		t.Fatalf("first frame job = %s, want %s", f.JobID, myJob)
	}
}

func TestServer_EventsArriveInPublishOrder(t *testing.T) {
	h := newHarness(t)
	cid := uuid.New()
	conn := h.dial(t, cid.String(), "")

	jobID := id.NewJobID()
	for p := 0; p <= 100; p += 10 {
		h.broker.Publish(update(cid, jobID, job.StatusRunning, p))
	}
	for p := 0; p <= 100; p += 10 {
		f := readFrame(t, conn)
		if *f.Progress != p {
			t.Fatalf("progress = %d, want %d", *f.Progress, p)
		}
	}
}

func TestServer_PingPong(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, GlobalTarget, "")

	send(t, conn, map[string]string{"type": "ping"})
	f := readFrame(t, conn)
	if f.Type != FramePong {
		t.Fatalf("type = %q, want pong", f.Type)
	}
}

func TestServer_InvalidJSONKeepsConnectionOpen(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, GlobalTarget, "")

	if err := wsutil.WriteClientText(conn, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if f.Type != FrameError || f.Message != "Invalid JSON" {
		t.Fatalf("frame = %+v, want Invalid JSON error", f)
	}

	send(t, conn, map[string]string{"type": "ping"})
	if f := readFrame(t, conn); f.Type != FramePong {
		t.Fatalf("type = %q after error, want pong", f.Type)
	}
}

func TestServer_UnknownTypeIsAnError(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, GlobalTarget, "")

	send(t, conn, map[string]string{"type": "reboot"})
	if f := readFrame(t, conn); f.Type != FrameError {
		t.Fatalf("type = %q, want error", f.Type)
	}
}

func TestServer_SubscribeToJob(t *testing.T) {
	mine, other := uuid.New(), uuid.New()
	theirs := &job.Job{ID: id.NewJobID(), ClientID: other}
	h := newHarness(t, WithJobLookup(fakeJobs{theirs.ID: theirs}))
	conn := h.dial(t, mine.String(), "")

	send(t, conn, map[string]string{"type": "subscribe", "job_id": theirs.ID.String()})
	ack := readFrame(t, conn)
	if ack.Type != FrameSubscribed || ack.JobID != theirs.ID.String() {
		t.Fatalf("ack = %+v", ack)
	}

	h.broker.Publish(update(other, theirs.ID, job.StatusCompleted, 100))
	f := readFrame(t, conn)
	if f.JobID != theirs.ID.String() || f.Status != job.StatusCompleted {
		t.Fatalf("frame = %+v", f)
	}

	send(t, conn, map[string]string{"type": "unsubscribe", "job_id": theirs.ID.String()})
	if f := readFrame(t, conn); f.Type != FrameUnsubscribed {
		t.Fatalf("type = %q, want unsubscribed", f.Type)
	}
	h.broker.Publish(update(other, theirs.ID, job.StatusCompleted, 100))
	h.broker.Publish(update(mine, id.NewJobID(), job.StatusQueued, 0))
	if f := readFrame(t, conn); f.Status != job.StatusQueued {
		t.Fatalf("received %+v after unsubscribe", f)
	}
}

func TestServer_SubscribeErrors(t *testing.T) {
	mine, other := uuid.New(), uuid.New()
	theirs := &job.Job{ID: id.NewJobID(), ClientID: other}
	auth := NewAPIKeyAuthenticator(APIKeyEntry{
		Token:    "scoped",
		Identity: Identity{Subject: "kitchen-display", Clients: []uuid.UUID{mine}},
	})
	h := newHarness(t, WithAuth(auth), WithJobLookup(fakeJobs{theirs.ID: theirs}))
	conn := h.dial(t, mine.String(), "token=scoped")

	tests := []struct {
		jobID string
		want  string
	}{
		{"not-a-job", "Invalid job_id"},
		{id.NewJobID().String(), "Job not found"},
		{theirs.ID.String(), "Job belongs to another client"},
	}
	for _, tt := range tests {
		send(t, conn, map[string]string{"type": "subscribe", "job_id": tt.jobID})
		f := readFrame(t, conn)
		if f.Type != FrameError || f.Message != tt.want {
			t.Errorf("subscribe %q: frame = %+v, want %q", tt.jobID, f, tt.want)
		}
	}
}

func TestServer_MsgpackFormat(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, GlobalTarget, "format=msgpack")

	jobID := id.NewJobID()
	h.broker.Publish(update(uuid.New(), jobID, job.StatusFailed, 0))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, op, err := wsutil.ReadServerData(conn)
	if err != nil {
		t.Fatal(err)
	}
	if op != ws.OpBinary {
		t.Fatalf("opcode = %v, want binary", op)
	}
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.JobID != jobID.String() || f.Status != job.StatusFailed {
		t.Errorf("frame = %+v", f)
	}
}

func TestServer_RejectsBeforeUpgrade(t *testing.T) {
	cid := uuid.New()
	auth := NewAPIKeyAuthenticator(APIKeyEntry{
		Token:    "scoped",
		Identity: Identity{Subject: "pos", Clients: []uuid.UUID{cid}},
	})
	h := newHarness(t, WithAuth(auth))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"bad client id", "/automation/ws/not-a-uuid?token=scoped", http.StatusBadRequest},
		{"bad format", "/automation/ws/" + cid.String() + "?token=scoped&format=xml", http.StatusBadRequest},
		{"missing token", "/automation/ws/" + cid.String(), http.StatusUnauthorized},
		{"global without grant", "/automation/ws/global?token=scoped", http.StatusForbidden},
		{"other client", "/automation/ws/" + uuid.NewString() + "?token=scoped", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(h.http.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_IdleConnectionEvicted(t *testing.T) {
	h := newHarness(t, WithHeartbeatInterval(time.Hour), WithIdleTimeout(100*time.Millisecond))
	h.dial(t, GlobalTarget, "")

	eventually(t, func() bool { return h.srv.Connections().Count() == 0 })
	if got := h.srv.Stats().Evicted; got != 1 {
		t.Errorf("evicted = %d, want 1", got)
	}
	if n := h.broker.Topics().SubscriberCount(stream.GlobalTopic); n != 0 {
		t.Errorf("global subscribers = %d after eviction, want 0", n)
	}
}

func TestServer_PongsKeepConnectionAlive(t *testing.T) {
	h := newHarness(t, WithHeartbeatInterval(20*time.Millisecond), WithIdleTimeout(150*time.Millisecond))
	conn := h.dial(t, GlobalTarget, "")

	// ReadServerData answers server pings while it waits.
	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _, err := wsutil.ReadServerData(conn)
	if !isTimeout(err) {
		t.Fatalf("read err = %v, want client-side timeout", err)
	}
	if n := h.srv.Connections().Count(); n != 1 {
		t.Fatalf("connections = %d, want 1", n)
	}
}

func TestServer_EvictedSubscriberIsClosed(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, GlobalTarget, "")

	c := h.srv.Connections().All()[0]
	h.broker.RemoveSubscriber(c.ID)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := wsutil.ReadServerData(conn)
	if err == nil {
		t.Fatal("expected the connection to be closed")
	}
	eventually(t, func() bool { return h.srv.Connections().Count() == 0 })
}

func TestServer_Drain(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, GlobalTarget, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.srv.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := wsutil.ReadServerData(conn); err == nil {
		t.Fatal("expected close after drain")
	}
	if n := h.srv.Connections().Count(); n != 0 {
		t.Errorf("connections = %d after drain", n)
	}

	resp, err := http.Get(h.http.URL + "/automation/ws/global")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after drain = %d, want 503", resp.StatusCode)
	}
}
