package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RezaEskandarii/jobcore/types"
)

const instrumentationName = "github.com/RezaEskandarii/jobcore"

// Tracing wraps the analysis in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, job *types.Job, next Handler) ([]byte, error) {
		ctx, span := tracer.Start(ctx, "jobcore.job.analyze",
			trace.WithAttributes(
				attribute.String("jobcore.job.id", job.ID.String()),
				attribute.Int("jobcore.job.attempt", job.AttemptCount),
				attribute.String("jobcore.job.worker", job.LeaseOwner),
				attribute.Int("jobcore.job.payload_bytes", len(job.Payload)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx, job.Payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return result, err
	}
}
