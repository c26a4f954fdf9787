package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/RezaEskandarii/jobcore/types"
)

// RateLimit waits for a token from limiter before each analysis. Share one
// limiter across the pool to cap calls to an external model API.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(ctx context.Context, job *types.Job, next Handler) ([]byte, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait for job %s: %w", job.ID, err)
		}
		return next(ctx, job.Payload)
	}
}
