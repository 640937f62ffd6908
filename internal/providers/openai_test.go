package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditgate/internal/models"
)

func testProviderRecord(baseURL string, timeoutSeconds int) *models.Provider {
	return &models.Provider{
		ID:             uuid.New(),
		Name:           "test-vendor",
		BaseURL:        baseURL,
		TimeoutSeconds: timeoutSeconds,
		ExtraHeaders:   models.JSONB{"X-Vendor-Tag": "auditgate"},
	}
}

func TestOpenAIProvider_Chat(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotTag string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotTag = r.Header.Get("X-Vendor-Tag")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{"message": {"content": "hi"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(testProviderRecord(server.URL, 5), "vendor-key")
	defer p.Close()

	resp, err := p.Chat(context.Background(), ChatRequest{
		Model: "gpt-4o-2024",
		Payload: map[string]any{
			"model":    "gpt-4o",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.Nil(t, resp.Stream)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.False(t, resp.Usage.Estimated)

	// The catalog's external ID replaces whatever the caller sent.
	assert.Equal(t, "gpt-4o-2024", gotBody["model"])
	assert.Equal(t, "Bearer vendor-key", gotAuth)
	assert.Equal(t, "auditgate", gotTag)
}

func TestOpenAIProvider_ChatUpstreamRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad request"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(testProviderRecord(server.URL, 5), "k")
	defer p.Close()

	resp, err := p.Chat(context.Background(), ChatRequest{Model: "m", Payload: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.Contains(t, string(resp.Body), "bad request")
}

func TestOpenAIProvider_ChatRejectionWithUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{
			"error": {"message": "content filtered"},
			"usage": {"prompt_tokens": 42, "completion_tokens": 0, "total_tokens": 42}
		}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(testProviderRecord(server.URL, 5), "k")
	defer p.Close()

	// Usage on an error body means the upstream billed the prompt; it must
	// survive into the response so the tokens get charged.
	resp, err := p.Chat(context.Background(), ChatRequest{Model: "m", Payload: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, 42, resp.Usage.InputTokens)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
}

func TestOpenAIProvider_ChatTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	rec := testProviderRecord(server.URL, 5)
	p := NewOpenAIProvider(rec, "k")
	p.client.Timeout = 20 * time.Millisecond
	defer p.Close()

	_, err := p.Chat(context.Background(), ChatRequest{Model: "m", Payload: map[string]any{}})
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
}

func TestOpenAIProvider_ChatConnectionRefused(t *testing.T) {
	// A server that is already closed refuses connections.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	p := NewOpenAIProvider(testProviderRecord(server.URL, 1), "k")
	defer p.Close()

	_, err := p.Chat(context.Background(), ChatRequest{Model: "m", Payload: map[string]any{}})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestOpenAIProvider_ChatStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		assert.NotNil(t, body["stream_options"])

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":8,\"completion_tokens\":2,\"total_tokens\":10}}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewOpenAIProvider(testProviderRecord(server.URL, 5), "k")
	defer p.Close()

	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:   "m",
		Payload: map[string]any{},
		Stream:  true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()

	reader := NewStreamReader(resp.Stream)
	var tally StreamTally
	var events int
	for {
		event, err := reader.Read()
		if errors.Is(err, io.EOF) {
			assert.True(t, event.Done)
			break
		}
		require.NoError(t, err)
		tally.Observe(event.Data)
		events++
	}

	assert.Equal(t, 3, events)
	usage := tally.Final(0)
	assert.Equal(t, 8, usage.InputTokens)
	assert.Equal(t, 2, usage.OutputTokens)
	assert.Equal(t, 10, usage.TotalTokens)
	assert.False(t, usage.Estimated)
}

func TestOpenAIProvider_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"data": [{"id": "gpt-4o"}, {"id": "gpt-4o-mini"}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(testProviderRecord(server.URL, 5), "k")
	defer p.Close()

	ids, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, ids)
}

func TestOpenAIProvider_ValidateCredentials(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data": []}`))
		}))
		defer server.Close()

		p := NewOpenAIProvider(testProviderRecord(server.URL, 5), "k")
		defer p.Close()
		assert.NoError(t, p.ValidateCredentials(context.Background()))
	})

	t.Run("bad key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		p := NewOpenAIProvider(testProviderRecord(server.URL, 5), "bad")
		defer p.Close()

		err := p.ValidateCredentials(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid API key")
	})
}

func TestExtractUsageLegacyFields(t *testing.T) {
	usage := extractUsage([]byte(`{"usage": {"prompt_tokens": 5, "completion_tokens": 7}}`))
	assert.Equal(t, 5, usage.InputTokens)
	assert.Equal(t, 7, usage.OutputTokens)
	assert.Equal(t, 12, usage.TotalTokens)

	usage = extractUsage([]byte(`not json`))
	assert.Zero(t, usage.TotalTokens)
}

func TestStreamTallyEstimateFallback(t *testing.T) {
	var tally StreamTally
	tally.Observe([]byte(`{"choices":[{"delta":{"content":"` + strings.Repeat("a", 40) + `"}}]}`))
	tally.Observe([]byte(`{"choices":[{"delta":{"content":"` + strings.Repeat("b", 24) + `"}}]}`))

	usage := tally.Final(100)
	assert.True(t, usage.Estimated)
	assert.Equal(t, 25, usage.InputTokens)
	assert.Equal(t, 16, usage.OutputTokens)
	assert.Equal(t, 41, usage.TotalTokens)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(0))
	assert.Equal(t, 1, EstimateTokens(2))
	assert.Equal(t, 25, EstimateTokens(100))
}
