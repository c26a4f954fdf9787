package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/RezaEskandarii/jobcore/types"
)

// Timeout bounds the rest of the chain to d. The handler runs on its own
// goroutine, so an analyzer that ignores its context still cannot hold the
// worker past the deadline; its late result is dropped.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, job *types.Job, next Handler) ([]byte, error) {
		if d <= 0 {
			return next(ctx, job.Payload)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type outcome struct {
			result []byte
			err    error
		}
		done := make(chan outcome, 1)
		go func() {
			result, err := next(ctx, job.Payload)
			done <- outcome{result, err}
		}()

		select {
		case out := <-done:
			return out.result, out.err
		case <-ctx.Done():
			return nil, fmt.Errorf("analysis of job %s stopped after %s: %w", job.ID, d, context.Cause(ctx))
		}
	}
}
