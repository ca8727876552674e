package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging logs each operation at debug on success and warn on error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c Call, next Handler) error {
		start := time.Now()
		err := next(ctx)
		attrs := []any{
			slog.String("op", c.Op),
			slog.String("job_id", c.JobID.String()),
			slog.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			logger.WarnContext(ctx, "engine operation failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.DebugContext(ctx, "engine operation", attrs...)
		return nil
	}
}
