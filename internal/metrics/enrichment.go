package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(enrichmentItemsTotal, enrichmentJobsTotal, enrichmentRetriesTotal) }

var (
	enrichmentItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_items_total",
			Help: "Enrichment queue items reaching a terminal state, labeled by outcome.",
		},
		[]string{"outcome"}, // completed, failed, skipped, discarded
	)

	enrichmentJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_jobs_total",
			Help: "Enrichment jobs reaching a terminal status.",
		},
		[]string{"status"},
	)

	enrichmentRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enrichment_retries_total",
			Help: "Analyzer calls retried after a failure.",
		},
	)
)

func IncEnrichmentItem(outcome string) {
	enrichmentItemsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncEnrichmentJob(status string) {
	enrichmentJobsTotal.WithLabelValues(norm(status)).Inc()
}

func IncEnrichmentRetry() {
	enrichmentRetriesTotal.Inc()
}
