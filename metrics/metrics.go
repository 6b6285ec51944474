// Package metrics wires a per-bridge Prometheus registry, following the
// CounterVec/HistogramVec-via-promauto idiom the pack's metrics recorder
// uses for LLM call accounting, adapted here to IPC and MCP call volume.
// Metrics are diagnostics-only: no bridge operation depends on this
// package succeeding or even being enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups the bridge's Prometheus collectors under one registry
// instance, rather than the global default registry, so that multiple
// bridge processes on one host (and tests) never collide on collector
// registration.
type Registry struct {
	reg *prometheus.Registry

	ipcRequestsTotal *prometheus.CounterVec
	ipcDuration      *prometheus.HistogramVec

	mcpCallsTotal *prometheus.CounterVec
	mcpDuration   *prometheus.HistogramVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	sseReconnectsTotal prometheus.Counter
}

// New constructs a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		ipcRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpbridge_ipc_requests_total",
			Help: "Total IPC requests handled by the bridge, by method and outcome.",
		}, []string{"method", "outcome"}),
		ipcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpbridge_ipc_request_duration_seconds",
			Help:    "IPC request handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		mcpCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpbridge_mcp_calls_total",
			Help: "Total MCP calls issued upstream, by method and outcome.",
		}, []string{"method", "outcome"}),
		mcpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpbridge_mcp_call_duration_seconds",
			Help:    "Upstream MCP call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpbridge_cache_hits_total",
			Help: "List cache hits by kind.",
		}, []string{"kind"}),
		cacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpbridge_cache_misses_total",
			Help: "List cache misses by kind.",
		}, []string{"kind"}),
		sseReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcpbridge_sse_reconnects_total",
			Help: "Total SSE stream reconnects performed by the HTTP transport.",
		}),
	}
}

// Gatherer exposes the underlying registry for an HTTP handler to serve.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) ObserveIPC(method, outcome string, d time.Duration) {
	r.ipcRequestsTotal.WithLabelValues(method, outcome).Inc()
	r.ipcDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (r *Registry) ObserveMCPCall(method, outcome string, d time.Duration) {
	r.mcpCallsTotal.WithLabelValues(method, outcome).Inc()
	r.mcpDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (r *Registry) ObserveCacheHit(kind string)  { r.cacheHitsTotal.WithLabelValues(kind).Inc() }
func (r *Registry) ObserveCacheMiss(kind string) { r.cacheMissesTotal.WithLabelValues(kind).Inc() }
func (r *Registry) ObserveSSEReconnect()         { r.sseReconnectsTotal.Inc() }
