package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/stream"
)

const maxInboundFrame = 64 << 10

// JobLookup resolves jobs for subscription checks. *engine.Engine
// satisfies it.
type JobLookup interface {
	Get(ctx context.Context, jobID id.JobID) (*job.Job, error)
}

// Server upgrades HTTP requests to WebSocket subscriptions on a stream
// broker. Every connection runs one reader and one writer goroutine; the
// writer is the only goroutine touching the socket for output, so frames
// reach the client in broker order.
type Server struct {
	broker *stream.Broker
	jobs   JobLookup
	auth   Authenticator
	logger *slog.Logger
	now    func() time.Time

	heartbeat    time.Duration
	idleTimeout  time.Duration
	writeTimeout time.Duration

	conns    *Registry
	wg       sync.WaitGroup
	draining atomic.Bool
	evicted  atomic.Int64
}

// NewServer creates a live server on top of a broker.
func NewServer(broker *stream.Broker, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		auth:         NoopAuthenticator{},
		logger:       slog.Default(),
		now:          time.Now,
		heartbeat:    DefaultHeartbeatInterval,
		idleTimeout:  DefaultIdleTimeout,
		writeTimeout: DefaultWriteTimeout,
		conns:        NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connections returns the connection registry.
func (s *Server) Connections() *Registry { return s.conns }

// Stats is a point-in-time view of the server.
type Stats struct {
	Connections int   `json:"connections"`
	Evicted     int64 `json:"evicted"`
}

// Stats returns connection statistics.
func (s *Server) Stats() Stats {
	return Stats{Connections: s.conns.Count(), Evicted: s.evicted.Load()}
}

// ServeWS handles GET /automation/ws/{client_id}. The client_id segment is
// a client uuid or "global".
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	target := r.PathValue("client_id")
	if target == "" {
		target = path.Base(r.URL.Path)
	}
	clientID, err := parseTarget(target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	codec, err := CodecFor(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	identity, err := s.auth.Authenticate(r.Context(), tokenFrom(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !identity.CanWatch(clientID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.serve(conn, clientID, identity, codec)
}

// ServeHTTP lets the server be mounted directly as a handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.ServeWS(w, r) }

func parseTarget(target string) (uuid.UUID, error) {
	if target == GlobalTarget {
		return uuid.Nil, nil
	}
	cid, err := uuid.Parse(target)
	if err != nil || cid == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid client id %q", target)
	}
	return cid, nil
}

func (s *Server) serve(conn net.Conn, clientID uuid.UUID, identity *Identity, codec Codec) {
	c := newConnection(conn, clientID, identity, codec, s.now())
	topic := stream.GlobalTopic
	if !c.Global() {
		topic = stream.ClientTopic(clientID)
	}
	sub := s.broker.Subscribe(c.ID, topic)
	s.conns.add(c)

	s.logger.Info("live connection opened",
		slog.String("conn_id", c.ID),
		slog.String("topic", topic),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(c, sub)
	}()

	err := s.readLoop(ctx, c)
	cancel()
	c.close()
	<-writerDone

	s.broker.RemoveSubscriber(c.ID)
	s.conns.remove(c.ID)

	if isTimeout(err) {
		s.evicted.Add(1)
		s.logger.Info("live connection evicted after idle timeout",
			slog.String("conn_id", c.ID),
			slog.Duration("idle_timeout", s.idleTimeout),
		)
		return
	}
	s.logger.Info("live connection closed", slog.String("conn_id", c.ID))
}

func (s *Server) readLoop(ctx context.Context, c *Connection) error {
	rd := &wsutil.Reader{
		Source:       c.conn,
		State:        ws.StateServerSide,
		MaxFrameSize: maxInboundFrame,
	}
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			return err
		}
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		c.touch(s.now())

		switch hdr.OpCode {
		case ws.OpClose:
			return io.EOF
		case ws.OpPing:
			payload, err := io.ReadAll(rd)
			if err != nil {
				return err
			}
			c.sendControl(ws.NewPongFrame(payload))
			continue
		case ws.OpPong:
			if err := rd.Discard(); err != nil {
				return err
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			return err
		}
		s.handle(ctx, c, data)
	}
}

func (s *Server) handle(ctx context.Context, c *Connection, data []byte) {
	now := s.now()
	f, err := c.Codec.Decode(data)
	if err != nil {
		c.reply(NewErrorFrame(invalidMessage(c.Codec), now))
		return
	}
	switch f.Type {
	case FramePing:
		c.reply(newPong(now))
	case FrameSubscribe:
		s.subscribe(ctx, c, f.JobID)
	case FrameUnsubscribe:
		s.unsubscribe(c, f.JobID)
	default:
		c.reply(NewErrorFrame(fmt.Sprintf("Unknown message type %q", f.Type), now))
	}
}

func (s *Server) subscribe(ctx context.Context, c *Connection, raw string) {
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		c.reply(NewErrorFrame("Invalid job_id", s.now()))
		return
	}
	if s.jobs != nil {
		lctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
		j, err := s.jobs.Get(lctx, jobID)
		cancel()
		switch {
		case errors.Is(err, automation.ErrJobNotFound):
			c.reply(NewErrorFrame("Job not found", s.now()))
			return
		case err != nil:
			s.logger.Warn("job lookup for subscription failed",
				slog.String("conn_id", c.ID),
				slog.String("job_id", raw),
				slog.String("error", err.Error()),
			)
			c.reply(NewErrorFrame("Job lookup failed", s.now()))
			return
		case !c.Identity.CanWatch(j.ClientID):
			c.reply(NewErrorFrame("Job belongs to another client", s.now()))
			return
		}
	}
	s.broker.SubscribeTo(c.ID, stream.JobTopic(jobID))
	c.addJob(jobID.String())
	c.reply(newAck(FrameSubscribed, jobID.String(), s.now()))
}

func (s *Server) unsubscribe(c *Connection, raw string) {
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		c.reply(NewErrorFrame("Invalid job_id", s.now()))
		return
	}
	if c.removeJob(jobID.String()) {
		s.broker.Unsubscribe(c.ID, stream.JobTopic(jobID))
	}
	c.reply(newAck(FrameUnsubscribed, jobID.String(), s.now()))
}

// writeLoop is the single writer of a connection. It exits on a write
// failure, a close frame, or when the broker drops the subscriber.
func (s *Server) writeLoop(c *Connection, sub *stream.Subscriber) {
	defer c.close()
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-c.done:
			return
		case evt, ok := <-sub.C():
			if !ok {
				_ = s.writeControl(c, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "")))
				return
			}
			err = s.writeData(c, NewUpdateFrame(evt))
			sub.AddCredits(1)
		case f := <-c.replies:
			err = s.writeData(c, f)
		case f := <-c.control:
			err = s.writeControl(c, f)
			if err == nil && f.Header.OpCode == ws.OpClose {
				return
			}
		case <-ticker.C:
			err = s.writeControl(c, ws.NewPingFrame(nil))
		}
		if err != nil {
			if isTimeout(err) {
				s.evicted.Add(1)
			}
			s.logger.Info("live write failed, dropping connection",
				slog.String("conn_id", c.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

func (s *Server) writeData(c *Connection, f *Frame) error {
	data, err := c.Codec.Encode(f)
	if err != nil {
		s.logger.Warn("frame encode failed",
			slog.String("conn_id", c.ID),
			slog.String("type", string(f.Type)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(c.conn, c.Codec.OpCode(), data)
}

func (s *Server) writeControl(c *Connection, f ws.Frame) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return ws.WriteFrame(c.conn, f)
}

// Drain stops accepting connections, asks every open connection to close
// and waits for them. Connections still open when ctx ends are closed
// forcibly.
func (s *Server) Drain(ctx context.Context) error {
	s.draining.Store(true)
	for _, c := range s.conns.All() {
		c.sendControl(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "server shutting down")))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range s.conns.All() {
			c.close()
		}
		return ctx.Err()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
