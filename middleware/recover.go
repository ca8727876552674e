package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover converts a panic inside the chain into an error, logging the
// stack.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c Call, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "engine operation panicked",
					slog.String("op", c.Op),
					slog.String("job_id", c.JobID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("automation/middleware: panic in %s: %v", c.Op, r)
			}
		}()
		return next(ctx)
	}
}
