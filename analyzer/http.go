// Package analyzer provides types.Analyzer implementations backed by
// external services.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RezaEskandarii/jobcore/types"
)

const (
	maxResponseBytes = 16 << 20
	maxErrorBody     = 512
)

var _ types.Analyzer = (*HTTPAnalyzer)(nil)

type HTTPOption func(*HTTPAnalyzer)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(a *HTTPAnalyzer) { a.client = client }
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) HTTPOption {
	return func(a *HTTPAnalyzer) { a.header.Set(key, value) }
}

// HTTPAnalyzer POSTs the payload to an analysis service and returns the
// response body as the result. Any non-2xx status is an error.
type HTTPAnalyzer struct {
	endpoint    string
	contentType string
	client      *http.Client
	header      http.Header
}

func NewHTTPAnalyzer(endpoint string, opts ...HTTPOption) *HTTPAnalyzer {
	a := &HTTPAnalyzer{
		endpoint:    endpoint,
		contentType: "application/json",
		client:      &http.Client{Timeout: 10 * time.Minute},
		header:      http.Header{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	for key, values := range a.header {
		req.Header[key] = values
	}
	req.Header.Set("Content-Type", a.contentType)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analysis service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read analysis response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}
