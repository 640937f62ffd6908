// Package providers dispatches requests to upstream OpenAI-compatible
// vendors. Transport failures map onto sentinel errors so the caller can
// distinguish timeouts from connection failures; HTTP-level rejections come
// back as responses with their upstream status code.
package providers

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrUpstreamTimeout means the provider did not answer within its
	// deadline.
	ErrUpstreamTimeout = errors.New("upstream timed out")

	// ErrUpstreamUnavailable means the provider could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ChatRequest is a normalized request to a provider. Payload carries the
// caller's OpenAI-style body; Model is the provider-side identifier and
// overrides whatever the payload names.
type ChatRequest struct {
	Model   string
	Payload map[string]any
	Stream  bool
}

// Usage holds token counts extracted from an upstream response.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// Estimated marks counts reconstructed from content when the
	// upstream reported no usage.
	Estimated bool
}

// ChatResponse is a normalized provider response. Exactly one of Body or
// Stream is set: Stream is non-nil for streaming requests that got a 2xx,
// and the caller owns closing it.
type ChatResponse struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
	Stream     io.ReadCloser
	Latency    time.Duration
	Usage      Usage
}

// OK reports whether the upstream accepted the request.
func (r *ChatResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Provider is one upstream vendor endpoint.
type Provider interface {
	// ID returns the provider's database ID as a string.
	ID() string

	// Name returns the provider's display name.
	Name() string

	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ListModels returns the model identifiers the upstream currently
	// serves.
	ListModels(ctx context.Context) ([]string, error)

	// ValidateCredentials checks connectivity and authentication.
	ValidateCredentials(ctx context.Context) error

	// Close releases idle connections.
	Close() error
}
