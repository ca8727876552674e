package wsclient

import (
	"log/slog"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation/backoff"
	"github.com/evanramirez88/restaurant-consulting-site/automation/live"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on the upgrade request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithMsgpack switches the connection to binary MessagePack frames.
func WithMsgpack() Option {
	return func(c *Client) { c.codec = live.MsgpackCodec{} }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnect enables reconnects after a lost connection, waiting
// s.Delay(n) before attempt n. maxAttempts <= 0 keeps trying until Close.
func WithReconnect(s backoff.Strategy, maxAttempts int) Option {
	return func(c *Client) {
		c.reconnect = s
		c.maxReconnects = maxAttempts
	}
}

// WithRequestTimeout bounds how long Subscribe, Unsubscribe and Ping wait
// for the reply.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}
