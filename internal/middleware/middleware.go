// Package middleware provides composable wrappers around an analysis call.
// Middleware run synchronously around the handler and can change its
// context, result or error (timeouts, panics, logging, tracing, etc.).
//
//	// logging → recover → timeout → analyzer
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger), middleware.Timeout(time.Minute))
//	result, err := chain(ctx, job, analyzer.Analyze)
package middleware

import (
	"context"

	"github.com/RezaEskandarii/jobcore/types"
)

// Handler is the terminal call that analyzes a payload.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Middleware wraps a Handler. It receives the job being processed and must
// call next unless it deliberately short-circuits.
type Middleware func(ctx context.Context, job *types.Job, next Handler) ([]byte, error)

// Chain composes middleware; the first one is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, job *types.Job, next Handler) ([]byte, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context, payload []byte) ([]byte, error) {
				return mw(ctx, job, prev)
			}
		}
		return h(ctx, job.Payload)
	}
}
