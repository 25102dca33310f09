package layer

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor/job"
)

// instrumentationName is the scope name for conveyor tracing and metrics.
const instrumentationName = "github.com/xraph/conveyor"

// Trace returns a layer that logs the start and end of every execution and
// wraps it in a span from the global TracerProvider. Without a configured
// provider the span is a noop.
func Trace(logger *slog.Logger) Layer {
	return TraceWithTracer(logger, otel.Tracer(instrumentationName))
}

// TraceWithTracer is Trace with an explicit tracer.
func TraceWithTracer(logger *slog.Logger, tracer trace.Tracer) Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, env *job.Envelope, jc *job.Context) (job.Outcome, error) {
			ctx, span := tracer.Start(ctx, "conveyor.job.execute",
				trace.WithAttributes(
					attribute.String("conveyor.job.id", env.ID.String()),
					attribute.String("conveyor.job.name", env.Name),
					attribute.Int("conveyor.job.attempt", env.Attempts),
					attribute.Int("conveyor.job.max_attempts", env.MaxAttempts),
				),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			attrs := []any{
				slog.String("job_id", env.ID.String()),
				slog.String("job_name", env.Name),
				slog.Int("attempt", env.Attempts),
			}
			logger.DebugContext(ctx, "job started", attrs...)

			start := time.Now()
			outcome, err := next(ctx, env, jc)
			elapsed := time.Since(start)

			span.SetAttributes(attribute.String("conveyor.job.outcome", statusOf(outcome, err)))
			attrs = append(attrs, slog.Duration("duration", elapsed), slog.String("outcome", statusOf(outcome, err)))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				logger.WarnContext(ctx, "job faulted", append(attrs, slog.String("error", err.Error()))...)
			} else {
				span.SetStatus(codes.Ok, "")
				logger.InfoContext(ctx, "job finished", attrs...)
			}

			return outcome, err
		}
	}
}

// statusOf labels an execution result.
func statusOf(outcome job.Outcome, err error) string {
	if err != nil {
		return "fault"
	}
	return outcome.String()
}
