package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_predictions_total",
			Help: "Total number of prediction requests by outcome",
		},
		[]string{"model", "outcome"},
	)

	PredictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detector_prediction_duration_seconds",
			Help:    "Time spent in the handler pipeline per request",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"model"},
	)

	QueueWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detector_queue_wait_seconds",
			Help:    "Time a request waited for a free worker",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	AuthenticityScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detector_authenticity_score",
			Help:    "Distribution of returned authenticity scores",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"model"},
	)

	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_verdicts_total",
			Help: "Total number of verdicts by status",
		},
		[]string{"model", "status"},
	)

	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detector_workers_busy",
			Help: "Number of handlers currently serving a request",
		},
	)
)

// Outcome labels for PredictionsTotal.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalidInput = "invalid_input"
	OutcomeUnavailable  = "unavailable"
	OutcomeError        = "error"
)
