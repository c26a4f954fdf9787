package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/RezaEskandarii/jobcore/types"
)

// Recover turns a panic in the chain into an error so the job is failed
// instead of the worker dying.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, job *types.Job, next Handler) (result []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("analyzer panicked",
					slog.String("job_id", job.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				result = nil
				retErr = fmt.Errorf("panic while analyzing job %s: %v", job.ID, r)
			}
		}()
		return next(ctx, job.Payload)
	}
}
