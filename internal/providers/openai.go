package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"auditgate/internal/models"
	"auditgate/internal/utils"
)

// OpenAIProvider talks to any OpenAI-compatible endpoint: api.openai.com
// itself, Azure-style gateways, vLLM, and the various proxy vendors.
type OpenAIProvider struct {
	id           string
	name         string
	baseURL      string
	apiKey       string
	extraHeaders map[string]string
	client       *http.Client
	logger       *utils.Logger
}

// NewOpenAIProvider builds a provider from its database record and the
// decrypted credential.
func NewOpenAIProvider(rec *models.Provider, apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		id:           rec.ID.String(),
		name:         rec.Name,
		baseURL:      strings.TrimRight(rec.BaseURL, "/"),
		apiKey:       apiKey,
		extraHeaders: rec.ExtraHeaders.StringHeaders(),
		client: &http.Client{
			Timeout: rec.Timeout(),
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: utils.NewLogger("provider:" + rec.Name),
	}
}

func (p *OpenAIProvider) ID() string {
	return p.id
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.extraHeaders {
		req.Header.Set(k, v)
	}
}

// classifyTransportError maps a client error onto the sentinel taxonomy.
func classifyTransportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

// Chat sends a chat completion request, translating the model identifier
// and forcing usage reporting on streams.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	payload := make(map[string]any, len(req.Payload)+2)
	for k, v := range req.Payload {
		payload[k] = v
	}
	payload["model"] = req.Model
	payload["stream"] = req.Stream
	if req.Stream {
		// Ask for the usage chunk so streamed requests can be billed on
		// real counts.
		payload["stream_options"] = map[string]any{"include_usage": true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.applyHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	latency := time.Since(start)

	if req.Stream && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &ChatResponse{
			StatusCode: resp.StatusCode,
			Header:     pickResponseHeaders(resp),
			Stream:     resp.Body,
			Latency:    latency,
		}, nil
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	chatResp := &ChatResponse{
		StatusCode: resp.StatusCode,
		Header:     pickResponseHeaders(resp),
		Body:       respBody,
		Latency:    latency,
	}
	// Error bodies can still carry usage when the upstream billed tokens
	// before rejecting, e.g. a content filter that ran on the prompt.
	chatResp.Usage = extractUsage(respBody)

	return chatResp, nil
}

// pickResponseHeaders keeps the headers worth forwarding to the caller.
func pickResponseHeaders(resp *http.Response) map[string]string {
	headers := make(map[string]string)
	for _, name := range []string{"Content-Type", "X-Request-Id"} {
		if v := resp.Header.Get(name); v != "" {
			headers[name] = v
		}
	}
	return headers
}

// ListModels fetches the upstream's model catalog, for availability sync.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.applyHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model list failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	ids := make([]string, 0, len(listing.Data))
	for _, m := range listing.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// ValidateCredentials probes the models endpoint.
func (p *OpenAIProvider) ValidateCredentials(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	p.applyHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("validation failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	return nil
}

func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// extractUsage pulls token counts out of a non-streaming response body,
// accepting both current and legacy field names.
func extractUsage(body []byte) Usage {
	var response struct {
		Usage struct {
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
			TotalTokens      int `json:"total_tokens"`
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return Usage{}
	}

	usage := Usage{
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		TotalTokens:  response.Usage.TotalTokens,
	}
	if usage.InputTokens == 0 && response.Usage.PromptTokens > 0 {
		usage.InputTokens = response.Usage.PromptTokens
	}
	if usage.OutputTokens == 0 && response.Usage.CompletionTokens > 0 {
		usage.OutputTokens = response.Usage.CompletionTokens
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	return usage
}
