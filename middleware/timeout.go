package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
)

// Deadline bounds each operation by d. An operation cut short by the
// deadline returns an error wrapping automation.ErrTimeout.
func Deadline(d time.Duration) Middleware {
	return func(ctx context.Context, c Call, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		err := next(ctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s: %w", automation.ErrTimeout, c.Op, d, err)
		}
		return err
	}
}
