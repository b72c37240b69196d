package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OverlapChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelmap_overlap_checks_total",
		Help: "Commits checked for overlaps, by outcome",
	}, []string{"outcome"})
	OverlapDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelmap_overlap_decisions_total",
		Help: "User decisions on overlap warnings",
	}, []string{"decision"})
	ResolveStrategyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelmap_resolve_strategy_total",
		Help: "Overlap fixes computed, by strategy",
	}, []string{"strategy"})
	GatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelmap_gateway_requests_total",
		Help: "Parcel backend requests, by operation and result",
	}, []string{"op", "result"})
	GatewayDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parcelmap_gateway_duration_ms",
		Help:    "Parcel backend request duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"op"})
	OperationDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parcelmap_operation_duration_ms",
		Help:    "Duration of profiled editor operations in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100},
	}, []string{"operation"})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parcelmap_active_edit_sessions",
		Help: "Draw or edit sessions currently open",
	})
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parcelmap_active_connections",
		Help: "Open websocket connections",
	})
)

func init() {
	prometheus.MustRegister(OverlapChecksTotal)
	prometheus.MustRegister(OverlapDecisionsTotal)
	prometheus.MustRegister(ResolveStrategyTotal)
	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(GatewayDurationMs)
	prometheus.MustRegister(OperationDurationMs)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(ActiveConnections)
}

// Handler exposes the registered metrics for scraping.
func Handler() http.Handler { return promhttp.Handler() }
