package gateway

import (
	"net/http"
	"time"

	"auditgate/internal/metrics"
)

// Kind classifies a request failure. The kind decides the HTTP status, the
// metrics outcome label and the error_type stored on the audit record.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindRateLimitExceeded   Kind = "rate_limit_exceeded"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamRejected    Kind = "upstream_rejected"
	KindInternal            Kind = "internal"
)

// HTTPStatus maps a kind to the caller-facing status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimitExceeded, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamRejected:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Outcome maps a kind to its metrics label.
func (k Kind) Outcome() metrics.Outcome {
	switch k {
	case KindUnauthenticated:
		return metrics.OutcomeUnauthenticated
	case KindForbidden:
		return metrics.OutcomeForbidden
	case KindRateLimitExceeded:
		return metrics.OutcomeRateLimited
	case KindQuotaExceeded:
		return metrics.OutcomeQuotaExceeded
	case KindUpstreamTimeout:
		return metrics.OutcomeUpstreamTimeout
	case KindUpstreamUnavailable:
		return metrics.OutcomeUpstreamFailure
	case KindUpstreamRejected:
		return metrics.OutcomeUpstreamRejected
	default:
		return metrics.OutcomeInternalError
	}
}

// Error is a classified request failure. Message is safe to show to the
// caller; the wrapped error is for logs only.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfter is set on rate limit rejections.
	RetryAfter time.Duration

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}
