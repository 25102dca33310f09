package layer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conveyor/job"
)

// Metrics returns a layer recording execution metrics on the global
// MeterProvider.
//
// Instruments:
//   - conveyor.job.duration (Float64Histogram): execution time in seconds
//   - conveyor.job.executions (Int64Counter): executions
//
// Both carry job_name and status ("ack", "retry", "kill" or "fault").
func Metrics() Layer {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter is Metrics with an explicit meter.
func MetricsWithMeter(meter metric.Meter) Layer {
	// The OTel API returns noop instruments alongside any error.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"conveyor.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"conveyor.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(next Handler) Handler {
		return func(ctx context.Context, env *job.Envelope, jc *job.Context) (job.Outcome, error) {
			start := time.Now()
			outcome, err := next(ctx, env, jc)

			attrs := metric.WithAttributes(
				attribute.String("job_name", env.Name),
				attribute.String("status", statusOf(outcome, err)),
			)
			duration.Record(ctx, time.Since(start).Seconds(), attrs)
			executions.Add(ctx, 1, attrs)

			return outcome, err
		}
	}
}
