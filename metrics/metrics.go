// Package metrics exposes the Prometheus collectors named in the
// observability requirements: counters for published/dropped frames and
// flushed batches, histograms for lane latency, and gauges for live
// track/region counts and circuit breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frames_published_total",
			Help: "Frames blurred and handed to the sink.",
		},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frames_dropped_total",
			Help: "Frames not published (sink, publish_error) or not verified (queue_full, shutdown), plus source idle timeouts (source_timeout), by reason.",
		},
		[]string{"reason"},
	)

	Lane1Latency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lane1_latency_ms",
			Help:    "Wall time from frame receipt to publish in Lane 1.",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 50, 75, 100},
		},
	)

	Lane2Latency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lane2_latency_ms",
			Help:    "Round trip time of one Lane 2 batch verification call.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2000, 5000},
		},
	)

	BatchesFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_flushed_total",
			Help: "Batches handed to the Inference Client, by flush trigger.",
		},
		[]string{"trigger"},
	)

	DetectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detections_total",
			Help: "Raw detections returned by the Inference Client.",
		},
	)

	ActiveTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_tracks",
			Help: "Live tracks in the Tracker Set.",
		},
	)

	ActiveRegions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_regions",
			Help: "Live regions in the Confidence Store.",
		},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Inference Client circuit breaker state: 0=closed, 1=half-open, 2=open.",
		},
	)
)
