package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditgate/internal/auth"
	"auditgate/internal/ledger"
	"auditgate/internal/metrics"
	"auditgate/internal/models"
	"auditgate/internal/providers"
	"auditgate/internal/ratelimit"
)

const testKey = "sk-audit-0123456789abcdef0123456789abcdef"

type fakeProvider struct {
	mu      sync.Mutex
	resp    *providers.ChatResponse
	err     error
	lastReq providers.ChatRequest
}

func (p *fakeProvider) ID() string   { return "fake-provider" }
func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastReq = req
	return p.resp, p.err
}

func (p *fakeProvider) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (p *fakeProvider) ValidateCredentials(ctx context.Context) error    { return nil }
func (p *fakeProvider) Close() error                                     { return nil }

type fakeSource struct {
	provider providers.Provider
	err      error
}

func (s *fakeSource) ForModel(model *models.AIModel) (providers.Provider, error) {
	return s.provider, s.err
}

type fakeSink struct {
	mu      sync.Mutex
	records []*models.APIRequest
}

func (s *fakeSink) Record(ctx context.Context, record *models.APIRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *fakeSink) last(t *testing.T) *models.APIRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.records, "expected an audit record")
	return s.records[len(s.records)-1]
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// denyLimiter rejects every request on the minute window.
type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, quotaID uuid.UUID, limits ratelimit.Limits) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Window: "minute", RetryAfter: 30 * time.Second}, nil
}
func (denyLimiter) Reset(ctx context.Context, quotaID uuid.UUID) error { return nil }

type fixture struct {
	gw       *Gateway
	dir      *auth.InMemoryDirectory
	led      *ledger.MemoryLedger
	sink     *fakeSink
	provider *fakeProvider
	quota    *models.Quota
	model    *models.AIModel
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()

	quota := &models.Quota{
		ID:           uuid.New(),
		Name:         "research",
		UserID:       uuid.New(),
		ModelGroupID: uuid.New(),
		KeyHash:      auth.HashAPIKey(testKey),
		TotalQuota:   decimal.RequireFromString("10"),
		IsActive:     true,
	}
	user := &models.User{ID: quota.UserID, Name: "Ada", Email: "ada@example.com", IsActive: true}
	group := &models.ModelGroup{ID: quota.ModelGroupID, Name: "frontier", IsActive: true}
	model := &models.AIModel{
		ID:               uuid.New(),
		ProviderID:       uuid.New(),
		Name:             "gpt-4o",
		ExternalID:       "gpt-4o-2024-08-06",
		InputPricePer1M:  decimal.RequireFromString("2"),
		OutputPricePer1M: decimal.RequireFromString("5"),
		ModelType:        models.ModelTypeChat,
		IsActive:         true,
		IsAvailable:      true,
	}

	dir := auth.NewInMemoryDirectory()
	dir.AddQuota(quota, user, group, model)

	led := ledger.NewMemoryLedger(time.Minute)
	led.SetBalance(quota.ID, quota.TotalQuota, decimal.Zero)

	provider := &fakeProvider{
		resp: &providers.ChatResponse{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"choices":[]}`),
			Usage:      providers.Usage{InputTokens: 1000, OutputTokens: 500, TotalTokens: 1500},
			Latency:    12 * time.Millisecond,
		},
	}
	sink := &fakeSink{}

	gw := New(auth.NewResolver(dir), limiter, led, &fakeSource{provider: provider}, sink, metrics.New())

	return &fixture{gw: gw, dir: dir, led: led, sink: sink, provider: provider, quota: quota, model: model}
}

func chatRequest(model string) *Request {
	return &Request{
		APIKey:    testKey,
		Model:     model,
		Payload:   map[string]any{"model": model, "messages": []any{}},
		Method:    "POST",
		Endpoint:  "/v1/chat/completions",
		IPAddress: "10.0.0.1",
		UserAgent: "test-client",
	}
}

func TestHandleSuccess(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())

	result, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.Nil(t, gwErr)

	// 1000 in at $2/1M + 500 out at $5/1M.
	assert.Equal(t, "0.0045", result.Cost.Total.String())
	assert.Equal(t, 1500, result.Usage.TotalTokens)

	// The provider saw the upstream identifier, not the catalog name.
	assert.Equal(t, "gpt-4o-2024-08-06", f.provider.lastReq.Model)

	used, ok := f.led.Used(f.quota.ID)
	require.True(t, ok)
	assert.True(t, used.Equal(decimal.RequireFromString("0.0045")))

	rec := f.sink.last(t)
	assert.True(t, rec.Success)
	assert.Equal(t, http.StatusOK, rec.StatusCode)
	assert.Equal(t, f.quota.ID, rec.QuotaID)
	assert.Equal(t, "Ada", rec.UserName)
	assert.Equal(t, "gpt-4o", rec.ModelName)
	assert.Equal(t, "frontier", rec.ModelGroupName)
	assert.Equal(t, 1000, rec.InputTokens)
	assert.True(t, rec.TotalCost.Equal(decimal.RequireFromString("0.0045")))
}

func TestHandleUnknownKey(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())

	req := chatRequest("gpt-4o")
	req.APIKey = "sk-audit-wrong"

	_, gwErr := f.gw.Handle(context.Background(), req)
	require.NotNil(t, gwErr)
	assert.Equal(t, KindUnauthenticated, gwErr.Kind)
	assert.Equal(t, http.StatusUnauthorized, gwErr.Kind.HTTPStatus())

	rec := f.sink.last(t)
	assert.False(t, rec.Success)
	assert.Equal(t, "unauthenticated", rec.ErrorType)
	assert.Equal(t, uuid.Nil, rec.QuotaID)
}

func TestHandleDisabledQuota(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())
	f.quota.IsActive = false

	_, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindForbidden, gwErr.Kind)

	// Denied, but still audited, and nothing was ever committed.
	rec := f.sink.last(t)
	assert.False(t, rec.Success)
	assert.True(t, rec.TotalCost.IsZero())

	used, ok := f.led.Used(f.quota.ID)
	require.True(t, ok)
	assert.True(t, used.IsZero())
}

func TestHandleModelNotInGroup(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())

	_, gwErr := f.gw.Handle(context.Background(), chatRequest("claude-opus"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindForbidden, gwErr.Kind)
	assert.Contains(t, gwErr.Message, "claude-opus")
}

func TestHandleMissingModel(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())

	_, gwErr := f.gw.Handle(context.Background(), chatRequest(""))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindUpstreamRejected, gwErr.Kind)
}

func TestHandleRateLimited(t *testing.T) {
	f := newFixture(t, denyLimiter{})

	_, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindRateLimitExceeded, gwErr.Kind)
	assert.Equal(t, 30*time.Second, gwErr.RetryAfter)

	used, ok := f.led.Used(f.quota.ID)
	require.True(t, ok)
	assert.True(t, used.IsZero())

	rec := f.sink.last(t)
	assert.Equal(t, "rate_limit_exceeded", rec.ErrorType)
}

func TestHandleQuotaExceeded(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())
	f.led.SetBalance(f.quota.ID, decimal.RequireFromString("10"), decimal.RequireFromString("10"))

	_, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindQuotaExceeded, gwErr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, gwErr.Kind.HTTPStatus())

	rec := f.sink.last(t)
	assert.False(t, rec.Success)
	assert.Equal(t, "quota_exceeded", rec.ErrorType)
}

func TestHandleUpstreamTimeout(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())
	f.provider.resp = nil
	f.provider.err = fmt.Errorf("request to upstream: %w", providers.ErrUpstreamTimeout)

	_, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindUpstreamTimeout, gwErr.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, gwErr.Kind.HTTPStatus())

	// The reservation was released, no cost stuck.
	used, ok := f.led.Used(f.quota.ID)
	require.True(t, ok)
	assert.True(t, used.IsZero())
}

func TestHandleUpstreamConnectionFailure(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())
	f.provider.resp = nil
	f.provider.err = fmt.Errorf("request to upstream: %w", providers.ErrUpstreamUnavailable)

	_, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindUpstreamUnavailable, gwErr.Kind)
	assert.Equal(t, http.StatusBadGateway, gwErr.Kind.HTTPStatus())
}

func TestHandleUpstreamRejection(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())
	f.provider.resp = &providers.ChatResponse{
		StatusCode: http.StatusBadRequest,
		Body:       []byte(`{"error":{"message":"bad request"}}`),
	}

	_, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindUpstreamRejected, gwErr.Kind)

	used, ok := f.led.Used(f.quota.ID)
	require.True(t, ok)
	assert.True(t, used.IsZero())
}

func TestHandleUpstreamRejectionChargesReportedUsage(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())

	// A content filter can bill the prompt before rejecting; the error
	// body then reports usage and those tokens must be charged.
	f.provider.resp = &providers.ChatResponse{
		StatusCode: http.StatusBadRequest,
		Body:       []byte(`{"error":{"message":"content filtered"}}`),
		Usage:      providers.Usage{InputTokens: 1000, TotalTokens: 1000},
	}

	_, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindUpstreamRejected, gwErr.Kind)

	// 1000 input tokens at $2 per million.
	used, ok := f.led.Used(f.quota.ID)
	require.True(t, ok)
	assert.Equal(t, "0.002", used.String())

	require.Len(t, f.sink.records, 1)
	record := f.sink.records[0]
	assert.False(t, record.Success)
	assert.Equal(t, 1000, record.InputTokens)
	assert.Equal(t, "0.002", record.TotalCost.String())
}

func TestHandleUpstreamServerError(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())
	f.provider.resp = &providers.ChatResponse{StatusCode: http.StatusServiceUnavailable}

	_, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindUpstreamUnavailable, gwErr.Kind)
}

func TestHandleAllowsBoundedOverage(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())

	// Nearly exhausted: $0.000002 left, the reservation floor exactly fits.
	f.led.SetBalance(f.quota.ID, decimal.RequireFromString("10"), decimal.RequireFromString("9.999998"))

	// Real usage costs $0.000003: 1 input token at $2/1M rounds to
	// $0.000002, 1 output token at $5/1M rounds to $0.000001.
	f.provider.resp.Usage = providers.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}

	result, gwErr := f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.Nil(t, gwErr)
	assert.Equal(t, "0.000003", result.Cost.Total.String())

	used, ok := f.led.Used(f.quota.ID)
	require.True(t, ok)
	assert.Equal(t, "10.000001", used.String())

	rec := f.sink.last(t)
	assert.True(t, rec.Success)

	// The overage is settled; the next attempt is rejected up front.
	_, gwErr = f.gw.Handle(context.Background(), chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindQuotaExceeded, gwErr.Kind)
}

func TestHandleStreaming(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())
	f.provider.resp = &providers.ChatResponse{
		StatusCode: http.StatusOK,
		Stream:     io.NopCloser(strings.NewReader("data: [DONE]\n\n")),
	}

	req := chatRequest("gpt-4o")
	req.Stream = true

	result, gwErr := f.gw.Handle(context.Background(), req)
	require.Nil(t, gwErr)
	require.NotNil(t, result.Response.Stream)

	// Nothing settled until the stream finishes.
	assert.Equal(t, 0, f.sink.count())
	assert.True(t, f.provider.lastReq.Stream)

	usage := providers.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150}
	result.Finish(context.Background(), usage, http.StatusOK)

	used, ok := f.led.Used(f.quota.ID)
	require.True(t, ok)
	// 100 in at $2/1M + 50 out at $5/1M.
	assert.Equal(t, "0.00045", used.String())

	require.Equal(t, 1, f.sink.count())
	rec := f.sink.last(t)
	assert.True(t, rec.Success)
	assert.Equal(t, 150, rec.TotalTokens)

	// Finish is idempotent.
	result.Finish(context.Background(), usage, http.StatusOK)
	assert.Equal(t, 1, f.sink.count())
	used, _ = f.led.Used(f.quota.ID)
	assert.Equal(t, "0.00045", used.String())
}

func TestHandleDispatchFailureAfterDisconnect(t *testing.T) {
	f := newFixture(t, ratelimit.NewNoopLimiter())
	f.provider.resp = nil
	f.provider.err = fmt.Errorf("request to upstream: %w", errors.Join(providers.ErrUpstreamUnavailable, context.Canceled))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, gwErr := f.gw.Handle(ctx, chatRequest("gpt-4o"))
	require.NotNil(t, gwErr)

	// Even with the caller gone, the reservation is settled and the
	// attempt audited.
	used, ok := f.led.Used(f.quota.ID)
	require.True(t, ok)
	assert.True(t, used.IsZero())
	assert.Equal(t, 1, f.sink.count())
}
