package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobKilled    = (*MetricsExtension)(nil)
	_ ext.CronFired    = (*MetricsExtension)(nil)
	_ ext.Shutdown     = (*MetricsExtension)(nil)
)

const instrumentationName = "github.com/xraph/conveyor/observability"

// MetricsExtension records system-wide lifecycle counters.
//
// Instruments (job counters carry job_name, retried also carries faulted):
//   - conveyor.job.started
//   - conveyor.job.completed
//   - conveyor.job.retried
//   - conveyor.job.killed
//   - conveyor.job.latency (histogram, seconds from start to ack)
//   - conveyor.cron.fired (carries cron_name)
//   - conveyor.monitor.shutdowns
type MetricsExtension struct {
	JobStarted   metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobKilled    metric.Int64Counter
	JobLatency   metric.Float64Histogram
	CronFired    metric.Int64Counter
	Shutdowns    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(instrumentationName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with an explicit meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// The OTel API returns noop instruments alongside any error.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback
		return c
	}
	latency, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"conveyor.job.latency",
		metric.WithDescription("Time from job start to ack in seconds"),
		metric.WithUnit("s"),
	)

	return &MetricsExtension{
		JobStarted:   counter("conveyor.job.started", "Jobs claimed and started"),
		JobCompleted: counter("conveyor.job.completed", "Jobs acked"),
		JobRetried:   counter("conveyor.job.retried", "Jobs released for another attempt"),
		JobKilled:    counter("conveyor.job.killed", "Jobs killed"),
		JobLatency:   latency,
		CronFired:    counter("conveyor.cron.fired", "Recurring entries fired"),
		Shutdowns:    counter("conveyor.monitor.shutdowns", "Monitor shutdowns"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(env *job.Envelope, extra ...attribute.KeyValue) metric.AddOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("job_name", env.Name)}, extra...)...)
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, env *job.Envelope) error {
	m.JobStarted.Add(ctx, 1, jobAttrs(env))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, env *job.Envelope, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(env))
	m.JobLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("job_name", env.Name)))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, env *job.Envelope, _ time.Time, fault error) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(env, attribute.Bool("faulted", fault != nil)))
	return nil
}

// OnJobKilled implements ext.JobKilled.
func (m *MetricsExtension) OnJobKilled(ctx context.Context, env *job.Envelope, _ string) error {
	m.JobKilled.Add(ctx, 1, jobAttrs(env))
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("cron_name", entryName)))
	return nil
}

// OnShutdown implements ext.Shutdown.
func (m *MetricsExtension) OnShutdown(ctx context.Context) error {
	m.Shutdowns.Add(ctx, 1)
	return nil
}
