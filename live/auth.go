package live

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = errors.New("live: unauthorized")

// Identity is an authenticated subscriber.
type Identity struct {
	// Subject is the authenticated user or service.
	Subject string `json:"subject"`

	// Global grants the global registration and every client topic.
	Global bool `json:"global"`

	// Clients lists the client ids this identity may watch.
	Clients []uuid.UUID `json:"clients,omitempty"`
}

// CanWatch reports whether the identity may watch clientID. uuid.Nil
// stands for the global registration.
func (i *Identity) CanWatch(clientID uuid.UUID) bool {
	if i.Global {
		return true
	}
	if clientID == uuid.Nil {
		return false
	}
	return slices.Contains(i.Clients, clientID)
}

// Authenticator validates a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// APIKeyEntry maps a token to an identity.
type APIKeyEntry struct {
	Token    string
	Identity Identity
}

// APIKeyAuthenticator checks tokens against a static list.
type APIKeyAuthenticator struct {
	keys map[string]*Identity
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(entries ...APIKeyEntry) *APIKeyAuthenticator {
	keys := make(map[string]*Identity, len(entries))
	for _, e := range entries {
		ident := e.Identity
		keys[e.Token] = &ident
	}
	return &APIKeyAuthenticator{keys: keys}
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	ident, ok := a.keys[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return ident, nil
}

// NoopAuthenticator accepts every token with a global identity. Use for
// development only.
type NoopAuthenticator struct{}

func (NoopAuthenticator) Authenticate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{Subject: "anonymous", Global: true}, nil
}

// tokenFrom reads the token from the Authorization header, falling back
// to the token query parameter for browsers that cannot set headers on
// WebSocket requests.
func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return t
		}
		return h
	}
	return r.URL.Query().Get("token")
}
