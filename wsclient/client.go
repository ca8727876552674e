// Package wsclient is a Go subscriber for the live job update stream.
//
//	c, err := wsclient.Dial(ctx, "wss://ops.example.com/automation/ws/global",
//	    wsclient.WithToken("lk_..."),
//	    wsclient.WithReconnect(backoff.NewJitter(time.Second, 30*time.Second), 0),
//	)
//	defer c.Close()
//
//	if err := c.Subscribe(ctx, jobID); err != nil { ... }
//	for f := range c.Updates() {
//	    fmt.Println(f.JobID, f.Status, *f.Progress)
//	}
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/evanramirez88/restaurant-consulting-site/automation/backoff"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/live"
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("wsclient: closed")

// ServerError is an error frame returned for a request.
type ServerError struct{ Message string }

func (e *ServerError) Error() string { return "wsclient: server error: " + e.Message }

// Client holds one live connection. Requests are serialized: the server
// answers frames in order, so the next non-update frame is the reply to
// the request in flight.
type Client struct {
	url    string
	token  string
	codec  live.Codec
	logger *slog.Logger

	reconnect      backoff.Strategy
	maxReconnects  int
	requestTimeout time.Duration

	mu     sync.Mutex // guards conn and writes
	conn   net.Conn
	closed atomic.Bool

	reqMu   sync.Mutex
	replies chan *live.Frame
	updates chan *live.Frame

	jobsMu sync.Mutex
	jobs   map[id.JobID]struct{}

	done chan struct{}
}

// Dial connects to a live endpoint and starts reading.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	c := &Client{
		url:            rawURL,
		codec:          live.JSONCodec{},
		logger:         slog.Default(),
		maxReconnects:  5,
		requestTimeout: 10 * time.Second,
		replies:        make(chan *live.Frame, 1),
		updates:        make(chan *live.Frame, 256),
		jobs:           make(map[id.JobID]struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return c, nil
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, err
	}
	if c.codec.Name() != live.CodecJSON {
		q := u.Query()
		q.Set("format", c.codec.Name())
		u.RawQuery = q.Encode()
	}
	d := ws.Dialer{}
	if c.token != "" {
		d.Header = ws.HandshakeHeaderHTTP(http.Header{"Authorization": []string{"Bearer " + c.token}})
	}
	conn, _, _, err := d.Dial(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Updates returns the job_update frames. The channel is closed when the
// client closes or gives up reconnecting. Updates are dropped when the
// caller falls behind by more than the buffer.
func (c *Client) Updates() <-chan *live.Frame { return c.updates }

// Done is closed once the client stops for good.
func (c *Client) Done() <-chan struct{} { return c.done }

// Subscribe adds one job's updates to the stream. Subscriptions are
// restored after a reconnect.
func (c *Client) Subscribe(ctx context.Context, jobID id.JobID) error {
	f, err := c.request(ctx, &live.Frame{Type: live.FrameSubscribe, JobID: jobID.String()})
	if err != nil {
		return err
	}
	if f.Type != live.FrameSubscribed {
		return fmt.Errorf("wsclient: unexpected %q reply to subscribe", f.Type)
	}
	c.jobsMu.Lock()
	c.jobs[jobID] = struct{}{}
	c.jobsMu.Unlock()
	return nil
}

// Unsubscribe removes a job subscription.
func (c *Client) Unsubscribe(ctx context.Context, jobID id.JobID) error {
	c.jobsMu.Lock()
	delete(c.jobs, jobID)
	c.jobsMu.Unlock()
	_, err := c.request(ctx, &live.Frame{Type: live.FrameUnsubscribe, JobID: jobID.String()})
	return err
}

// Ping performs an application-level ping and returns the round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	f, err := c.request(ctx, &live.Frame{Type: live.FramePing})
	if err != nil {
		return 0, err
	}
	if f.Type != live.FramePong {
		return 0, fmt.Errorf("wsclient: unexpected %q reply to ping", f.Type)
	}
	return time.Since(start), nil
}

func (c *Client) request(ctx context.Context, f *live.Frame) (*live.Frame, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	// Discard a reply left behind by a request that timed out.
	select {
	case <-c.replies:
	default:
	}

	f.Timestamp = time.Now().UTC()
	if err := c.write(f); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	select {
	case resp := <-c.replies:
		if resp.Type == live.FrameError {
			return nil, &ServerError{Message: resp.Message}
		}
		return resp, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) write(f *live.Frame) error {
	data, err := c.codec.Encode(f)
	if err != nil {
		return fmt.Errorf("wsclient: encode: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	return wsutil.WriteClientMessage(c.conn, c.codec.OpCode(), data)
}

// readLoop reads frames until the connection fails. Server pings are
// answered by wsutil.
func (c *Client) readLoop(conn net.Conn) {
	for {
		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if c.closed.Load() {
				close(c.updates)
				return
			}
			c.logger.Warn("live connection lost", slog.String("error", err.Error()))
			c.recover()
			return
		}
		f, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("undecodable live frame", slog.String("error", err.Error()))
			continue
		}
		if f.Type == live.FrameJobUpdate {
			select {
			case c.updates <- f:
			default:
				c.logger.Warn("update buffer full, dropping frame", slog.String("job_id", f.JobID))
			}
			continue
		}
		select {
		case c.replies <- f:
		default:
		}
	}
}

// recover redials with the reconnect strategy and restores job
// subscriptions. Without a strategy, or once attempts run out, the client
// shuts down. The goroutine that stops reading for good closes updates.
func (c *Client) recover() {
	if c.reconnect == nil {
		c.shutdown()
		close(c.updates)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer cancel()

	var conn net.Conn
	err := backoff.Retry(ctx, c.maxReconnects, c.reconnect, func(ctx context.Context) error {
		var err error
		conn, err = c.connect(ctx)
		if err != nil {
			c.logger.Info("live reconnect failed", slog.String("error", err.Error()))
		}
		return err
	})
	if err != nil {
		c.logger.Error("live reconnect abandoned", slog.String("error", err.Error()))
		c.shutdown()
		close(c.updates)
		return
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		close(c.updates)
		return
	}
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)
	c.logger.Info("live connection restored")

	c.jobsMu.Lock()
	jobs := make([]id.JobID, 0, len(c.jobs))
	for j := range c.jobs {
		jobs = append(jobs, j)
	}
	c.jobsMu.Unlock()
	for _, j := range jobs {
		if err := c.Subscribe(ctx, j); err != nil {
			c.logger.Warn("resubscribe failed",
				slog.String("job_id", j.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Client) shutdown() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// Close closes the connection and the updates channel.
func (c *Client) Close() error {
	if c.closed.Load() {
		return nil
	}
	c.mu.Lock()
	if c.conn != nil {
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = ws.WriteFrame(c.conn, ws.MaskFrameInPlace(ws.NewCloseFrame(body)))
	}
	c.mu.Unlock()
	c.shutdown()
	return nil
}
