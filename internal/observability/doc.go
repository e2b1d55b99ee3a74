// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for ragline.
//
// Every component accepts nil for its *Metrics and falls back to
// slog.Default() when no logger is supplied, so wiring observability is
// optional in tests and library use.
package observability
