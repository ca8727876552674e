// Package backend talks to the browser service, the execution backend
// that drives Toast back-office sessions. The engine never depends on it;
// only the session endpoints of the HTTP API do.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
)

// DefaultURL is the in-cluster address of the browser service.
const DefaultURL = "http://browser-service:3000"

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

// Session is one browser session held by the service.
type Session struct {
	SessionID       string    `json:"session_id"`
	ClientID        string    `json:"client_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	IsAuthenticated bool      `json:"is_authenticated"`
	ToastGUID       string    `json:"toast_guid,omitempty"`
	CurrentPage     string    `json:"current_page,omitempty"`
}

// Health is the service's own health report.
type Health struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	MemoryUsage    any    `json:"memoryUsage,omitempty"`
}

// StatusError is a non-2xx answer that is not a server failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("automation/backend: unexpected status %d: %s", e.Code, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is kept.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.http.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(cl *Client) { cl.logger = l } }

// Client calls the browser service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: normalizeBaseURL(baseURL),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sessions lists the active browser sessions.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.doJSON(ctx, http.MethodGet, "/sessions", &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Session{}
	}
	return out, nil
}

// Terminate ends the browser session of a client.
func (c *Client) Terminate(ctx context.Context, clientID uuid.UUID) error {
	err := c.doJSON(ctx, http.MethodDelete, "/session/"+url.PathEscape(clientID.String()), nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%w: client %s", automation.ErrSessionNotFound, clientID)
	}
	return err
}

// Health fetches the service's health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.doJSON(ctx, http.MethodGet, "/health", &out)
	return out, err
}

// doJSON performs one request. Transport failures and 5xx answers are
// automation.ErrUnavailable; other non-2xx answers are *StatusError.
func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("automation/backend: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("browser service request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: browser service: %v", automation.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.logger.Error("browser service error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: browser service returned %s", automation.ErrUnavailable, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: browser service: decode %s: %v", automation.ErrUnavailable, path, err)
	}
	return nil
}

func normalizeBaseURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return DefaultURL
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		value = "http://" + value
	}
	return strings.TrimRight(value, "/")
}
