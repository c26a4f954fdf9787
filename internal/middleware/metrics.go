package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/RezaEskandarii/jobcore/types"
)

// Metrics records analysis duration and outcome with the global MeterProvider.
//
// Instruments:
//   - jobcore.analyze.duration (Float64Histogram, seconds), attribute status
//   - jobcore.analyze.executions (Int64Counter), attribute status
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

func MetricsWithMeter(meter metric.Meter) Middleware {
	// the API hands back noop instruments on error
	duration, _ := meter.Float64Histogram(
		"jobcore.analyze.duration",
		metric.WithDescription("Duration of analysis calls in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"jobcore.analyze.executions",
		metric.WithDescription("Number of analysis calls"),
		metric.WithUnit("{call}"),
	)

	return func(ctx context.Context, job *types.Job, next Handler) ([]byte, error) {
		start := time.Now()
		result, err := next(ctx, job.Payload)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(attribute.String("status", status))
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return result, err
	}
}
