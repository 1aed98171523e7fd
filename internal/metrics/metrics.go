// Package metrics holds the pipeline's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mealbridge/notification/internal/domain"
)

const namespace = "mealbridge"

var (
	admitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "admitted_total",
			Help:      "Notification admissions by type and outcome (queued, rate_limited, opted_out)",
		},
		[]string{"type", "outcome"},
	)

	dispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatched_total",
			Help:      "Dispatch attempts by outcome (sent, consolidated, failed, permanently_failed, deferred, dropped)",
		},
		[]string{"outcome"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "gateway_send_duration_seconds",
			Help:      "Time spent in the push gateway call",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Queue entries by status",
		},
		[]string{"status"},
	)
)

// RecordAdmission counts one admission decision.
func RecordAdmission(t domain.NotificationType, outcome string) {
	admitted.WithLabelValues(string(t), outcome).Inc()
}

// RecordDispatch counts one per-entry dispatch outcome.
func RecordDispatch(outcome string) {
	dispatched.WithLabelValues(outcome).Inc()
}

// RecordSendDuration records the latency of one gateway call.
func RecordSendDuration(d time.Duration) {
	sendDuration.Observe(d.Seconds())
}

// RecordQueueDepth refreshes the queue-size gauges.
func RecordQueueDepth(counts map[domain.Status]int64) {
	for _, s := range []domain.Status{
		domain.StatusPending, domain.StatusProcessing, domain.StatusConsolidated,
		domain.StatusSent, domain.StatusDropped, domain.StatusFailed,
		domain.StatusPermanentlyFailed,
	} {
		queueSize.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
