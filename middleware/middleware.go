package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
)

// Call describes the engine operation being run.
type Call struct {
	Op       string
	JobID    id.JobID
	ClientID uuid.UUID
}

// Handler is the terminal function that performs the operation.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It must call next
// to continue the chain unless it short-circuits with an error.
type Middleware func(ctx context.Context, c Call, next Handler) error

// Chain composes middleware. The first middleware is the outermost:
// Chain(recover, logging) runs recover → logging → handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, c Call, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, c, prev)
			}
		}
		return h(ctx)
	}
}
