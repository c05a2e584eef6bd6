// Package observability bundles structured logging, Prometheus metrics,
// OpenTelemetry tracing setup, dependency health checks, and graceful
// shutdown.
package observability
