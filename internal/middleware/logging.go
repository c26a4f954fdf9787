package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/jobcore/types"
)

func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, job *types.Job, next Handler) ([]byte, error) {
		logger.Debug("analysis started",
			slog.String("job_id", job.ID.String()),
			slog.Int("attempt", job.AttemptCount),
			slog.Int("payload_bytes", len(job.Payload)),
		)

		start := time.Now()
		result, err := next(ctx, job.Payload)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("analysis failed",
				slog.String("job_id", job.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("analysis finished",
				slog.String("job_id", job.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.Int("result_bytes", len(result)),
			)
		}
		return result, err
	}
}
