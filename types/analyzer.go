package types

import "context"

// Analyzer is the external analysis capability invoked once per claimed job.
// Implementations must honour ctx cancellation; the worker pool bounds each
// call by the configured analysis timeout.
type Analyzer interface {
	Analyze(ctx context.Context, payload []byte) ([]byte, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, payload []byte) ([]byte, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}
