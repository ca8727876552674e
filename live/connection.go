package live

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
)

// Connection is one live WebSocket subscriber.
type Connection struct {
	// ID doubles as the stream subscriber id.
	ID string

	// ClientID is the watched client; uuid.Nil for the global registration.
	ClientID uuid.UUID

	Identity    *Identity
	Codec       Codec
	ConnectedAt time.Time

	conn         net.Conn
	lastActivity atomic.Int64

	replies chan *Frame
	control chan ws.Frame
	done    chan struct{}
	once    sync.Once

	mu   sync.RWMutex
	jobs map[string]struct{}
}

func newConnection(conn net.Conn, clientID uuid.UUID, identity *Identity, codec Codec, now time.Time) *Connection {
	c := &Connection{
		ID:          id.NewSubscriberID().String(),
		ClientID:    clientID,
		Identity:    identity,
		Codec:       codec,
		ConnectedAt: now.UTC(),
		conn:        conn,
		replies:     make(chan *Frame, 16),
		control:     make(chan ws.Frame, 4),
		done:        make(chan struct{}),
		jobs:        make(map[string]struct{}),
	}
	c.touch(now)
	return c
}

// Global reports whether the connection watches every client.
func (c *Connection) Global() bool { return c.ClientID == uuid.Nil }

// LastActivity returns when the last inbound frame arrived.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load()).UTC()
}

func (c *Connection) touch(now time.Time) { c.lastActivity.Store(now.UnixNano()) }

// Jobs returns the individually subscribed job ids.
func (c *Connection) Jobs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.jobs))
	for j := range c.jobs {
		out = append(out, j)
	}
	return out
}

func (c *Connection) addJob(jobID string) {
	c.mu.Lock()
	c.jobs[jobID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeJob(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[jobID]; !ok {
		return false
	}
	delete(c.jobs, jobID)
	return true
}

// reply queues a frame for the writer. It gives up once the connection is
// closing.
func (c *Connection) reply(f *Frame) {
	select {
	case c.replies <- f:
	case <-c.done:
	}
}

func (c *Connection) sendControl(f ws.Frame) {
	select {
	case c.control <- f:
	case <-c.done:
	}
}

// close stops the writer and closes the socket, which also unblocks the
// reader. Idempotent.
func (c *Connection) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Registry tracks the open connections of a server.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

func (r *Registry) add(c *Connection) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

func (r *Registry) remove(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// Get returns a connection by id.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// All returns a snapshot of the open connections.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
