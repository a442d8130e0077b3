// Package metrics holds the Prometheus registry served at /metrics and the
// flat, atomic-increment per-model counters reported by /stats.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the Prometheus collectors served at /metrics.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestLatencyMs *prometheus.HistogramVec
	CostUSDTotal     *prometheus.CounterVec
	FallbacksTotal   prometheus.Counter
	PaymentFailures  *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
}

// New builds a Prometheus registry with ClawRouter's collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawrouter_requests_total",
			Help: "Total chat completion requests, by final model and outcome",
		}, []string{"model", "status"}),
		RequestLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clawrouter_request_latency_ms",
			Help:    "End-to-end request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"model"}),
		CostUSDTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawrouter_cost_usd_total",
			Help: "Estimated USD cost of successful upstream calls, by model",
		}, []string{"model"}),
		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clawrouter_fallbacks_total",
			Help: "Total requests where at least one fallback candidate was tried",
		}),
		PaymentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawrouter_payment_failures_total",
			Help: "Total payment_failed attempts (direct 402 or wrapped), by model",
		}, []string{"model"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clawrouter_rate_limited_total",
			Help: "Total requests rejected by the per-IP rate limiter",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestLatencyMs, m.CostUSDTotal, m.FallbacksTotal, m.PaymentFailures, m.RateLimitedTotal)
	return m
}

// Handler serves the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// modelCounters are the flat per-model counters /stats reports: attempts,
// successes, fallbacks-engaged, wrapped-payment-failures.
type modelCounters struct {
	attempts               int64
	successes              int64
	fallbacksEngaged       int64
	wrappedPaymentFailures int64
}

// Stats is a mutex-guarded map of atomic per-model counters. Counters are
// cumulative for the process lifetime; there is no rolling window.
type Stats struct {
	mu       sync.RWMutex
	counters map[string]*modelCounters
}

// NewStats builds an empty stats tracker.
func NewStats() *Stats {
	return &Stats{counters: make(map[string]*modelCounters)}
}

func (s *Stats) get(model string) *modelCounters {
	s.mu.RLock()
	c, ok := s.counters[model]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.counters[model]; ok {
		return c
	}
	c = &modelCounters{}
	s.counters[model] = c
	return c
}

// RecordAttempt increments the attempt counter for model.
func (s *Stats) RecordAttempt(model string) {
	atomic.AddInt64(&s.get(model).attempts, 1)
}

// RecordSuccess increments the success counter for model.
func (s *Stats) RecordSuccess(model string) {
	atomic.AddInt64(&s.get(model).successes, 1)
}

// RecordFallbackEngaged increments the fallback-engaged counter for the
// model that triggered the fallback (the one that failed, not the one that
// eventually succeeded).
func (s *Stats) RecordFallbackEngaged(model string) {
	atomic.AddInt64(&s.get(model).fallbacksEngaged, 1)
}

// RecordWrappedPaymentFailure increments the wrapped-payment-failure
// counter for model.
func (s *Stats) RecordWrappedPaymentFailure(model string) {
	atomic.AddInt64(&s.get(model).wrappedPaymentFailures, 1)
}

// ModelSnapshot is the /stats wire representation for one model.
type ModelSnapshot struct {
	Model                  string `json:"model"`
	Attempts               int64  `json:"attempts"`
	Successes              int64  `json:"successes"`
	FallbacksEngaged       int64  `json:"fallbacks_engaged"`
	WrappedPaymentFailures int64  `json:"wrapped_payment_failures"`
}

// Snapshot returns a stable, sorted-by-model snapshot of every model seen
// so far.
func (s *Stats) Snapshot() []ModelSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModelSnapshot, 0, len(s.counters))
	for model, c := range s.counters {
		out = append(out, ModelSnapshot{
			Model:                  model,
			Attempts:               atomic.LoadInt64(&c.attempts),
			Successes:              atomic.LoadInt64(&c.successes),
			FallbacksEngaged:       atomic.LoadInt64(&c.fallbacksEngaged),
			WrappedPaymentFailures: atomic.LoadInt64(&c.wrappedPaymentFailures),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
