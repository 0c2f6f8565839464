package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(linkChecksTotal, linkRunDurationSeconds, linkRunsTotal) }

var (
	linkChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_checks_total",
			Help: "Checked resource URLs, labeled by outcome.",
		},
		[]string{"outcome"}, // healthy, broken, timeout
	)

	linkRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "link_health_run_duration_seconds",
			Help:    "Wall time of a full link health run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	linkRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_health_runs_total",
			Help: "Link health runs, labeled by result.",
		},
		[]string{"result"}, // ok, error, rejected
	)
)

func IncLinkCheck(outcome string) {
	linkChecksTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveLinkRun(seconds float64) {
	linkRunDurationSeconds.Observe(seconds)
}

func IncLinkRun(result string) {
	linkRunsTotal.WithLabelValues(norm(result)).Inc()
}
