package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"auditgate/internal/auth"
	"auditgate/internal/gateway"
	"auditgate/internal/providers"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// RequestHistory yields a caller's recent audit records, for the usage
// endpoint.
type RequestHistory interface {
	List(ctx context.Context, filters storage.RequestListFilters) (*storage.RequestListResult, error)
}

// ProxyHandler serves the OpenAI-compatible caller surface.
type ProxyHandler struct {
	gateway  *gateway.Gateway
	resolver *auth.Resolver
	history  RequestHistory
	logger   *utils.Logger
}

func NewProxyHandler(gw *gateway.Gateway, resolver *auth.Resolver, history RequestHistory) *ProxyHandler {
	return &ProxyHandler{
		gateway:  gw,
		resolver: resolver,
		history:  history,
		logger:   utils.NewLogger("proxy"),
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *ProxyHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	apiKey, _ := parseBearer(r.Header.Get("Authorization"))

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeGatewayError(w, &gateway.Error{Kind: gateway.KindUpstreamRejected, Message: "invalid JSON body"})
		return
	}

	modelName, _ := payload["model"].(string)
	isStreaming, _ := payload["stream"].(bool)

	result, gwErr := h.gateway.Handle(r.Context(), &gateway.Request{
		APIKey:    apiKey,
		Model:     modelName,
		Payload:   payload,
		Stream:    isStreaming,
		Method:    r.Method,
		Endpoint:  r.URL.Path,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if gwErr != nil {
		writeGatewayError(w, gwErr)
		return
	}

	if result.Response.Stream != nil {
		h.relayStream(w, r, result)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if ct, ok := result.Response.Header["Content-Type"]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(result.Response.StatusCode)
	_, _ = w.Write(result.Response.Body)
}

// relayStream forwards SSE events to the caller while tallying usage, then
// settles the balance with whatever the stream reported. A caller
// disconnect stops the relay but still settles with the tally so far.
func (h *ProxyHandler) relayStream(w http.ResponseWriter, r *http.Request, result *gateway.Result) {
	defer result.Response.Stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		result.Finish(r.Context(), providers.Usage{}, http.StatusInternalServerError)
		writeGatewayError(w, &gateway.Error{Kind: gateway.KindInternal, Message: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	reader := providers.NewStreamReader(result.Response.Stream)
	tally := &providers.StreamTally{}
	promptChars := promptLength(result.Response, r)

	var readErr error
	for {
		event, err := reader.Read()
		if event != nil && event.Done {
			_, _ = w.Write([]byte("data: [DONE]\n\n"))
			flusher.Flush()
			break
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Error("Stream read failed", "request_id", result.RequestID, "error", err)
				readErr = err
			}
			break
		}

		tally.Observe(event.Data)

		if _, err := w.Write([]byte("data: ")); err != nil {
			break
		}
		if _, err := w.Write(event.Data); err != nil {
			break
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			break
		}
		flusher.Flush()
	}

	usage := tally.Final(promptChars)
	if readErr != nil {
		// The caller got a 200 and a partial stream; the audit record
		// still marks the attempt as a failure.
		result.FinishWithError(r.Context(), usage, gateway.KindUpstreamUnavailable, "upstream stream truncated")
		return
	}
	result.Finish(r.Context(), usage, http.StatusOK)
}

// promptLength estimates the prompt size in characters for the usage
// fallback when the stream never reports token counts.
func promptLength(resp *providers.ChatResponse, r *http.Request) int {
	// The request body is gone by now; approximate from Content-Length
	// minus a rough envelope overhead.
	if n := r.ContentLength; n > 64 {
		return int(n - 64)
	}
	return 0
}

// resolveCaller authenticates the Bearer API key on a non-proxied endpoint.
// On failure the error response has already been written.
func (h *ProxyHandler) resolveCaller(w http.ResponseWriter, r *http.Request) (*auth.QuotaContext, bool) {
	apiKey, err := parseBearer(r.Header.Get("Authorization"))
	if err != nil {
		writeGatewayError(w, &gateway.Error{Kind: gateway.KindUnauthenticated, Message: "missing or invalid Authorization header"})
		return nil, false
	}

	qc, err := h.resolver.Resolve(r.Context(), apiKey)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrKeyNotFound):
			writeGatewayError(w, &gateway.Error{Kind: gateway.KindUnauthenticated, Message: "invalid API key"})
		case errors.Is(err, auth.ErrQuotaDisabled), errors.Is(err, auth.ErrUserDisabled), errors.Is(err, auth.ErrGroupDisabled):
			writeGatewayError(w, &gateway.Error{Kind: gateway.KindForbidden, Message: "access is disabled"})
		default:
			writeGatewayError(w, &gateway.Error{Kind: gateway.KindInternal, Message: "internal error"})
		}
		return nil, false
	}
	return qc, true
}

// ListModels handles GET /v1/models: the models reachable under the
// caller's key, in the OpenAI list shape.
func (h *ProxyHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	qc, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}

	entries := make([]modelEntry, 0, len(qc.Models))
	for name, m := range qc.Models {
		entries = append(entries, modelEntry{
			ID:      name,
			Object:  "model",
			Created: m.CreatedAt.Unix(),
			OwnedBy: "auditgate",
		})
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   entries,
	})
}

// Usage handles GET /v1/usage: the caller's quota balance plus a summary of
// their last ten requests.
func (h *ProxyHandler) Usage(w http.ResponseWriter, r *http.Request) {
	qc, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	listing, err := h.history.List(r.Context(), storage.RequestListFilters{
		QuotaID:  &qc.Quota.ID,
		Page:     1,
		PageSize: 10,
	})
	if err != nil {
		h.logger.Error("Failed to load recent requests", "quota_id", qc.Quota.ID, "error", err)
		writeGatewayError(w, &gateway.Error{Kind: gateway.KindInternal, Message: "internal error"})
		return
	}

	recentCost := decimal.Zero
	for _, rec := range listing.Requests {
		recentCost = recentCost.Add(rec.TotalCost)
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"quota": map[string]any{
			"name":            qc.Quota.Name,
			"total_quota":     qc.Quota.TotalQuota,
			"used_quota":      qc.Quota.UsedQuota,
			"remaining_quota": qc.Quota.Remaining(),
			"model_group":     qc.Group.Name,
		},
		"recent_requests": len(listing.Requests),
		"recent_cost":     recentCost,
	})
}

// parseBearer extracts the token from an Authorization: Bearer <token> header.
func parseBearer(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid Authorization header format")
	}
	if parts[1] == "" {
		return "", errors.New("empty bearer token")
	}
	return parts[1], nil
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

// writeGatewayError renders a classified failure as an OpenAI-style error
// body. Rate limit rejections carry a Retry-After header.
func writeGatewayError(w http.ResponseWriter, gwErr *gateway.Error) {
	if gwErr.RetryAfter > 0 {
		secs := int(gwErr.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gwErr.Kind.HTTPStatus())

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"type":    string(gwErr.Kind),
			"message": gwErr.Message,
		},
	})
}
