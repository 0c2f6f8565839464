package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(analysisLatencyMs, cacheRequestsTotal) }

var (
	analysisLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_calls_latency_ms",
			Help:    "Content analysis call latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		},
		[]string{"model", "success"},
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Tracks cache hits and misses for various caches.",
		},
		[]string{"cache", "result"},
	)
)

func ObserveAnalysis(model string, latencyMs int64, success bool) {
	analysisLatencyMs.WithLabelValues(norm(model), strconv.FormatBool(success)).Observe(float64(latencyMs))
}

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
