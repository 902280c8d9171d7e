package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the CroLens server.
type Metrics struct {
	// Tool call metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	ToolErrorsTotal  *prometheus.CounterVec

	// Upstream RPC metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// KV cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Gateway metrics
	RateLimitHitsTotal *prometheus.CounterVec
	CreditsBilledTotal prometheus.Counter
	KeysProvisioned    prometheus.Counter

	// x402 metrics
	PaymentsCreditedTotal prometheus.Counter
	PaymentsRejectedTotal *prometheus.CounterVec

	// Price oracle metrics
	AnchorRefreshTotal  prometheus.Counter
	AnchorRefreshErrors prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crolens_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crolens_tool_call_duration_seconds",
				Help:    "Time taken to serve a tool call",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
			},
			[]string{"tool"},
		),
		ToolErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crolens_tool_errors_total",
				Help: "Tool failures by JSON-RPC error code",
			},
			[]string{"tool", "code"},
		),
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crolens_rpc_calls_total",
				Help: "Total upstream JSON-RPC calls",
			},
			[]string{"method"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crolens_rpc_call_duration_seconds",
				Help:    "Duration of upstream JSON-RPC calls",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crolens_rpc_errors_total",
				Help: "Upstream JSON-RPC failures",
			},
			[]string{"method", "kind"},
		),
		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crolens_cache_hits_total",
				Help: "KV cache hits by namespace",
			},
			[]string{"namespace"},
		),
		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crolens_cache_misses_total",
				Help: "KV cache misses by namespace",
			},
			[]string{"namespace"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crolens_rate_limit_hits_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limiter"},
		),
		CreditsBilledTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crolens_credits_billed_total",
				Help: "Credits consumed by billed tool calls",
			},
		),
		KeysProvisioned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crolens_api_keys_provisioned_total",
				Help: "API keys auto-created on first sighting",
			},
		),
		PaymentsCreditedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crolens_payments_credited_total",
				Help: "x402 payments verified and credited",
			},
		),
		PaymentsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crolens_payments_rejected_total",
				Help: "x402 payments rejected by reason",
			},
			[]string{"reason"},
		),
		AnchorRefreshTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crolens_anchor_refresh_total",
				Help: "Anchor price refresh runs",
			},
		),
		AnchorRefreshErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crolens_anchor_refresh_errors_total",
				Help: "Anchor price refresh failures",
			},
		),
	}
}

// ObserveToolCall records a completed tool invocation.
func (m *Metrics) ObserveToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveRPC records one upstream call.
func (m *Metrics) ObserveRPC(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RPCCallsTotal.WithLabelValues(method).Inc()
	m.RPCCallDuration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(method, "call").Inc()
	}
}

// ObserveCache records a cache outcome for a namespace ("rpc", "price").
func (m *Metrics) ObserveCache(namespace string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(namespace).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(namespace).Inc()
	}
}

// ObserveRateLimit records a rejected request for a limiter family.
func (m *Metrics) ObserveRateLimit(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limiter).Inc()
}
