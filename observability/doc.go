// Package observability provides an OpenTelemetry metrics extension.
// MetricsExtension implements the lifecycle hooks and counts jobs created,
// queued, claimed, completed, failed, cancelled, retried and timed out.
//
// Per-operation spans and latency live in the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
