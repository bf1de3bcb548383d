// Package metrics provides Prometheus metrics for the conversion engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission outcomes.
const (
	OutcomeAccepted         = "accepted"
	OutcomeAlreadyQueued    = "already_queued"
	OutcomeAlreadyConverted = "already_converted"
	OutcomeNotFound         = "not_found"
	OutcomeRejected         = "rejected"
)

var (
	// ConversionRequestsTotal counts admission decisions by outcome.
	ConversionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelshelf_conversion_requests_total",
		Help: "Total conversion requests, by admission outcome.",
	}, []string{"outcome"})

	// ConversionJobsTotal counts jobs reaching a terminal state.
	// status is completed, failed or cancelled; stage is set for failures only.
	ConversionJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelshelf_conversion_jobs_total",
		Help: "Total conversion jobs finished, by terminal status and failure stage.",
	}, []string{"status", "stage"})

	// ConversionPending tracks the length of the pending queue.
	ConversionPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelshelf_conversion_pending",
		Help: "Current number of pending conversion jobs.",
	})

	// ConversionActive tracks jobs holding an active slot.
	ConversionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelshelf_conversion_active",
		Help: "Current number of active conversion jobs.",
	})

	// ConversionEncodeDuration tracks wall time of successful encodes.
	ConversionEncodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reelshelf_conversion_encode_duration_seconds",
		Help:    "Duration of successful conversion encodes.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
	})

	// CacheEvictionsTotal counts converted outputs removed by the eviction sweep.
	CacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelshelf_conversion_cache_evictions_total",
		Help: "Total converted outputs evicted from the cache, by reason.",
	}, []string{"reason"})
)

// RecordRequest increments the admission counter.
func RecordRequest(outcome string) {
	ConversionRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordJobFinished increments the terminal job counter.
// stage is ignored unless status is "failed".
func RecordJobFinished(status, stage string) {
	if status != "failed" {
		stage = "none"
	}
	if stage == "" {
		stage = "unknown"
	}
	ConversionJobsTotal.WithLabelValues(status, stage).Inc()
}

// SetQueueDepth sets the pending and active gauges.
func SetQueueDepth(pending, active int) {
	ConversionPending.Set(float64(pending))
	ConversionActive.Set(float64(active))
}

// ObserveEncodeDuration records how long a successful encode took.
func ObserveEncodeDuration(d time.Duration) {
	ConversionEncodeDuration.Observe(d.Seconds())
}

// RecordEviction increments the eviction counter. reason is "age" or "size".
func RecordEviction(reason string) {
	CacheEvictionsTotal.WithLabelValues(reason).Inc()
}
