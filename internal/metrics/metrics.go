// Package metrics keeps lightweight operational counters and serves them
// as JSON. Counters are process-local; scrape them via GET /metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome labels a finished request for counting.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeUnauthenticated  Outcome = "unauthenticated"
	OutcomeForbidden        Outcome = "forbidden"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeQuotaExceeded    Outcome = "quota_exceeded"
	OutcomeUpstreamTimeout  Outcome = "upstream_timeout"
	OutcomeUpstreamFailure  Outcome = "upstream_failure"
	OutcomeUpstreamRejected Outcome = "upstream_rejected"
	OutcomeInternalError    Outcome = "internal_error"
)

// Metrics aggregates the gateway's counters.
type Metrics struct {
	mu       sync.RWMutex
	outcomes map[Outcome]*uint64

	// billedUnlogged counts requests whose cost was committed but whose
	// audit record could not be recorded. This number should stay at
	// zero; anything else means audit gaps.
	billedUnlogged uint64

	upstreamRequests  uint64
	upstreamLatencyMS uint64

	startedAt time.Time
}

// New creates a metrics registry.
func New() *Metrics {
	m := &Metrics{
		outcomes:  make(map[Outcome]*uint64),
		startedAt: time.Now(),
	}
	for _, o := range []Outcome{
		OutcomeSuccess, OutcomeUnauthenticated, OutcomeForbidden,
		OutcomeRateLimited, OutcomeQuotaExceeded, OutcomeUpstreamTimeout,
		OutcomeUpstreamFailure, OutcomeUpstreamRejected, OutcomeInternalError,
	} {
		var v uint64
		m.outcomes[o] = &v
	}
	return m
}

// CountOutcome records one finished request.
func (m *Metrics) CountOutcome(outcome Outcome) {
	m.mu.RLock()
	counter, ok := m.outcomes[outcome]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		counter, ok = m.outcomes[outcome]
		if !ok {
			var v uint64
			counter = &v
			m.outcomes[outcome] = counter
		}
		m.mu.Unlock()
	}
	atomic.AddUint64(counter, 1)
}

// CountBilledUnlogged records a committed cost whose audit record was lost.
func (m *Metrics) CountBilledUnlogged() {
	atomic.AddUint64(&m.billedUnlogged, 1)
}

// BilledUnlogged returns the current audit-gap count.
func (m *Metrics) BilledUnlogged() uint64 {
	return atomic.LoadUint64(&m.billedUnlogged)
}

// ObserveUpstreamLatency records one upstream round trip.
func (m *Metrics) ObserveUpstreamLatency(d time.Duration) {
	atomic.AddUint64(&m.upstreamRequests, 1)
	atomic.AddUint64(&m.upstreamLatencyMS, uint64(d.Milliseconds()))
}

// Snapshot is the JSON shape served at /metrics.
type Snapshot struct {
	UptimeSeconds      float64           `json:"uptime_seconds"`
	Requests           map[string]uint64 `json:"requests"`
	BilledUnlogged     uint64            `json:"billed_unlogged"`
	UpstreamRequests   uint64            `json:"upstream_requests"`
	AvgUpstreamLatency float64           `json:"avg_upstream_latency_ms"`
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds:  time.Since(m.startedAt).Seconds(),
		Requests:       make(map[string]uint64),
		BilledUnlogged: atomic.LoadUint64(&m.billedUnlogged),
	}

	m.mu.RLock()
	for outcome, counter := range m.outcomes {
		snap.Requests[string(outcome)] = atomic.LoadUint64(counter)
	}
	m.mu.RUnlock()

	snap.UpstreamRequests = atomic.LoadUint64(&m.upstreamRequests)
	if snap.UpstreamRequests > 0 {
		totalMS := atomic.LoadUint64(&m.upstreamLatencyMS)
		snap.AvgUpstreamLatency = float64(totalMS) / float64(snap.UpstreamRequests)
	}

	return snap
}

// Handler serves the snapshot as JSON.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot()) //nolint:errcheck
	})
}
