package live

import (
	"log/slog"
	"time"
)

// Defaults for the connection timers.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIdleTimeout       = 90 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithAuth sets the authenticator. If not set, NoopAuthenticator is used
// (development mode).
func WithAuth(auth Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// WithJobLookup enables existence and ownership checks on inbound job
// subscriptions.
func WithJobLookup(l JobLookup) Option {
	return func(s *Server) { s.jobs = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHeartbeatInterval sets how often the server pings each connection.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// WithIdleTimeout sets how long a connection may stay silent before it
// is evicted. It should exceed the heartbeat interval, since pongs count
// as traffic.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithWriteTimeout bounds every socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithClock overrides the frame timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}
