// Package gateway sequences a proxied request: resolve the API key, check
// rate limits, reserve balance, dispatch upstream, price the usage, commit
// the cost and record the attempt. Failures short-circuit, but the audit
// record is always written, and a taken reservation is always settled.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"auditgate/internal/auth"
	"auditgate/internal/ledger"
	"auditgate/internal/metrics"
	"auditgate/internal/models"
	"auditgate/internal/pricing"
	"auditgate/internal/providers"
	"auditgate/internal/ratelimit"
	"auditgate/internal/utils"
)

// KeyResolver authenticates an inbound API key.
type KeyResolver interface {
	Resolve(ctx context.Context, plaintextKey string) (*auth.QuotaContext, error)
}

// ProviderSource yields the upstream provider serving a model.
type ProviderSource interface {
	ForModel(model *models.AIModel) (providers.Provider, error)
}

// AuditSink accepts one audit record per attempt.
type AuditSink interface {
	Record(ctx context.Context, record *models.APIRequest) error
}

// Request is one inbound chat completion attempt.
type Request struct {
	APIKey  string
	Model   string
	Payload map[string]any
	Stream  bool

	Method    string
	Endpoint  string
	IPAddress string
	UserAgent string
}

// Gateway runs the per-request pipeline.
type Gateway struct {
	resolver KeyResolver
	limiter  ratelimit.Limiter
	ledger   ledger.Ledger
	source   ProviderSource
	sink     AuditSink
	metrics  *metrics.Metrics
	logger   *utils.Logger
}

// New wires the pipeline stages together.
func New(resolver KeyResolver, limiter ratelimit.Limiter, lgr ledger.Ledger, source ProviderSource, sink AuditSink, m *metrics.Metrics) *Gateway {
	return &Gateway{
		resolver: resolver,
		limiter:  limiter,
		ledger:   lgr,
		source:   source,
		sink:     sink,
		metrics:  m,
		logger:   utils.NewLogger("gateway"),
	}
}

// Result is a finished (or, for streaming, in-flight) attempt. Streaming
// callers must call Finish exactly once after relaying the stream; for
// non-streaming requests the gateway finishes internally before returning.
type Result struct {
	RequestID uuid.UUID
	Quota     *auth.QuotaContext
	Model     *models.AIModel
	Response  *providers.ChatResponse
	Usage     providers.Usage
	Cost      pricing.Cost

	gw *Gateway
	st *state

	mu       sync.Mutex
	finished bool
}

// state carries the pipeline's progress through the stages.
type state struct {
	requestID uuid.UUID
	start     time.Time
	req       *Request
	qc        *auth.QuotaContext
	model     *models.AIModel
	res       *ledger.Reservation

	// usage holds tokens the upstream billed even though the attempt
	// failed, so the fail path charges them instead of releasing at zero.
	usage providers.Usage
}

// Handle runs the pipeline for one request. On failure it returns a
// classified *Error; the audit record has already been written and any
// reservation settled.
func (g *Gateway) Handle(ctx context.Context, req *Request) (*Result, *Error) {
	st := &state{
		requestID: uuid.New(),
		start:     time.Now(),
		req:       req,
	}

	if req.Model == "" {
		return nil, g.fail(ctx, st, newError(KindUpstreamRejected, "missing required field: model"))
	}

	// Resolve.
	if req.APIKey == "" {
		return nil, g.fail(ctx, st, newError(KindUnauthenticated, "missing API key"))
	}
	qc, err := g.resolver.Resolve(ctx, req.APIKey)
	if err != nil {
		return nil, g.fail(ctx, st, classifyResolveError(err))
	}
	st.qc = qc

	model, ok := qc.Model(req.Model)
	if !ok {
		return nil, g.fail(ctx, st, newError(KindForbidden, fmt.Sprintf("model %q is not available for this key", req.Model)))
	}
	st.model = model

	// Rate check.
	decision, err := g.limiter.Allow(ctx, qc.Quota.ID, ratelimit.Limits{
		PerMinute: qc.Quota.RateLimitPerMinute,
		PerHour:   qc.Quota.RateLimitPerHour,
		PerDay:    qc.Quota.RateLimitPerDay,
	})
	if err != nil {
		return nil, g.fail(ctx, st, wrapError(KindInternal, "rate limit check failed", err))
	}
	if !decision.Allowed {
		gwErr := newError(KindRateLimitExceeded, fmt.Sprintf("rate limit exceeded for the %s window", decision.Window))
		gwErr.RetryAfter = decision.RetryAfter
		return nil, g.fail(ctx, st, gwErr)
	}

	// Reserve.
	floor := pricing.MinimumCharge(model.InputPricePer1M)
	reservation, err := g.ledger.Reserve(ctx, qc.Quota.ID, floor)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrQuotaExceeded):
			return nil, g.fail(ctx, st, newError(KindQuotaExceeded, "quota exceeded"))
		default:
			return nil, g.fail(ctx, st, wrapError(KindInternal, "balance reservation failed", err))
		}
	}
	st.res = reservation

	// Dispatch.
	provider, err := g.source.ForModel(model)
	if err != nil {
		return nil, g.fail(ctx, st, wrapError(KindInternal, "no provider available for model", err))
	}

	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Model:   model.UpstreamID(),
		Payload: req.Payload,
		Stream:  req.Stream,
	})
	if err != nil {
		return nil, g.fail(ctx, st, classifyDispatchError(err))
	}
	g.metrics.ObserveUpstreamLatency(resp.Latency)

	if !resp.OK() {
		st.usage = resp.Usage
		kind := KindUpstreamUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = KindUpstreamRejected
		}
		return nil, g.fail(ctx, st, newError(kind, fmt.Sprintf("upstream returned status %d", resp.StatusCode)))
	}

	result := &Result{
		RequestID: st.requestID,
		Quota:     qc,
		Model:     model,
		Response:  resp,
		gw:        g,
		st:        st,
	}

	if resp.Stream != nil {
		// The caller relays the stream and settles once usage is known.
		return result, nil
	}

	result.Finish(ctx, resp.Usage, resp.StatusCode)
	return result, nil
}

// Finish prices the usage, commits the reservation and records the attempt.
// Idempotent: only the first call settles. Streaming callers invoke it after
// the stream ends, with whatever usage the stream yielded.
func (r *Result) Finish(ctx context.Context, usage providers.Usage, statusCode int) {
	r.finish(ctx, usage, statusCode, true, "", "")
}

// FinishWithError settles a streaming attempt that broke mid-relay. Tokens
// the upstream already produced are still charged; the audit record carries
// the failure.
func (r *Result) FinishWithError(ctx context.Context, usage providers.Usage, kind Kind, message string) {
	r.finish(ctx, usage, kind.HTTPStatus(), false, string(kind), message)
}

func (r *Result) finish(ctx context.Context, usage providers.Usage, statusCode int, success bool, errorType, errorMessage string) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.mu.Unlock()

	g := r.gw
	st := r.st

	// Settlement must survive a caller disconnect.
	ctx = context.WithoutCancel(ctx)

	cost := pricing.Calculate(usage.InputTokens, usage.OutputTokens,
		st.model.InputPricePer1M, st.model.OutputPricePer1M)

	newUsed, err := g.ledger.Commit(ctx, st.res, cost.Total)
	if err != nil {
		// The reservation may have been swept; the cost is lost to the
		// ledger but the attempt is still audited.
		g.logger.Error("Failed to commit reservation",
			"request_id", st.requestID, "quota_id", st.qc.Quota.ID, "error", err)
	} else {
		g.logger.Debug("Committed usage",
			"request_id", st.requestID, "cost", cost.Total, "used_quota", newUsed)
	}

	r.Usage = usage
	r.Cost = cost

	if success {
		g.metrics.CountOutcome(metrics.OutcomeSuccess)
	} else {
		g.metrics.CountOutcome(Kind(errorType).Outcome())
	}
	g.record(ctx, st, cost, usage, statusCode, success, errorType, errorMessage)
}

// fail settles any reservation and records the attempt. A reservation
// normally releases at zero, but when the upstream reported usage on the
// failing response those tokens were consumed and their cost is committed.
func (g *Gateway) fail(ctx context.Context, st *state, gwErr *Error) *Error {
	ctx = context.WithoutCancel(ctx)

	cost := pricing.Zero()
	if st.res != nil {
		if st.usage.TotalTokens > 0 {
			cost = pricing.Calculate(st.usage.InputTokens, st.usage.OutputTokens,
				st.model.InputPricePer1M, st.model.OutputPricePer1M)
			if _, err := g.ledger.Commit(ctx, st.res, cost.Total); err != nil {
				g.logger.Error("Failed to commit partial usage",
					"request_id", st.requestID, "quota_id", st.qc.Quota.ID, "error", err)
			}
		} else if err := g.ledger.Release(ctx, st.res); err != nil && !errors.Is(err, ledger.ErrReservationSettled) {
			g.logger.Error("Failed to release reservation",
				"request_id", st.requestID, "error", err)
		}
	}

	g.metrics.CountOutcome(gwErr.Kind.Outcome())
	g.record(ctx, st, cost, st.usage, gwErr.Kind.HTTPStatus(), false, string(gwErr.Kind), gwErr.Message)
	return gwErr
}

// record writes the audit row for the attempt. Best effort: a failure here
// never changes the caller-visible outcome.
func (g *Gateway) record(ctx context.Context, st *state, cost pricing.Cost, usage providers.Usage, statusCode int, success bool, errorType, errorMessage string) {
	rec := &models.APIRequest{
		RequestID: st.requestID,
		Method:    st.req.Method,
		Endpoint:  st.req.Endpoint,
		IPAddress: st.req.IPAddress,
		UserAgent: st.req.UserAgent,

		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,

		InputCost:  cost.Input,
		OutputCost: cost.Output,
		TotalCost:  cost.Total,

		StatusCode: statusCode,
		DurationMS: int(time.Since(st.start).Milliseconds()),
		Success:    success,

		ErrorType:    errorType,
		ErrorMessage: errorMessage,
		CreatedAt:    time.Now(),
	}

	if st.qc != nil {
		rec.QuotaID = st.qc.Quota.ID
		rec.UserID = st.qc.User.ID
		rec.ModelGroupID = st.qc.Group.ID
		rec.UserName = st.qc.User.Name
		rec.ModelGroupName = st.qc.Group.Name
	}
	if st.model != nil {
		rec.ModelID = st.model.ID
		rec.ModelName = st.model.Name
	}

	if err := g.sink.Record(ctx, rec); err != nil {
		g.logger.Error("Failed to record audit entry",
			"request_id", st.requestID, "error", err)
	}
}

// classifyResolveError maps resolver failures onto the error taxonomy.
func classifyResolveError(err error) *Error {
	switch {
	case errors.Is(err, auth.ErrKeyNotFound):
		return newError(KindUnauthenticated, "invalid API key")
	case errors.Is(err, auth.ErrQuotaDisabled),
		errors.Is(err, auth.ErrUserDisabled),
		errors.Is(err, auth.ErrGroupDisabled):
		return newError(KindForbidden, "access is disabled")
	default:
		return wrapError(KindInternal, "authentication failed", err)
	}
}

// classifyDispatchError maps transport failures onto the error taxonomy.
func classifyDispatchError(err error) *Error {
	switch {
	case errors.Is(err, providers.ErrUpstreamTimeout):
		return wrapError(KindUpstreamTimeout, "upstream timed out", err)
	case errors.Is(err, providers.ErrUpstreamUnavailable):
		return wrapError(KindUpstreamUnavailable, "upstream unavailable", err)
	default:
		return wrapError(KindInternal, "dispatch failed", err)
	}
}
