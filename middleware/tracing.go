package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/evanramirez88/restaurant-consulting-site/automation"

// Tracing wraps each operation in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer wraps each operation in a span named
// "automation.<op>" carrying the job and client ids.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, c Call, next Handler) error {
		ctx, span := tracer.Start(ctx, "automation."+c.Op,
			trace.WithAttributes(
				attribute.String("automation.op", c.Op),
				attribute.String("automation.job.id", c.JobID.String()),
				attribute.String("automation.client.id", c.ClientID.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
