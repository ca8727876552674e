package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
)

// Metrics records operation metrics on the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records:
//   - automation.op.duration (Float64Histogram, seconds)
//   - automation.op.calls (Int64Counter)
//
// both with attributes op and outcome ("ok" or the error kind).
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, _ := meter.Float64Histogram(
		"automation.op.duration",
		metric.WithDescription("Duration of engine operations in seconds"),
		metric.WithUnit("s"),
	)
	calls, _ := meter.Int64Counter(
		"automation.op.calls",
		metric.WithDescription("Total number of engine operations"),
		metric.WithUnit("{call}"),
	)

	return func(ctx context.Context, c Call, next Handler) error {
		start := time.Now()
		err := next(ctx)

		outcome := "ok"
		if err != nil {
			outcome = automation.KindOf(err).String()
		}
		attrs := metric.WithAttributes(
			attribute.String("op", c.Op),
			attribute.String("outcome", outcome),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		calls.Add(ctx, 1, attrs)
		return err
	}
}
