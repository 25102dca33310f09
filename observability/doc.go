// Package observability records conveyor lifecycle events as OpenTelemetry
// metrics. Register a MetricsExtension on an ext.Registry to count jobs
// started, completed, retried and killed, cron firings and shutdowns.
//
// For per-execution spans and durations, see layer.Trace and layer.Metrics.
package observability
