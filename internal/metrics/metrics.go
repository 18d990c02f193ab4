// Package metrics provides Prometheus metrics for the lightmix engine:
// training and prediction throughput, confidence distributions, incremental
// updates, and feedback-ingest health. Everything is exposed via the
// standard promhttp endpoint wired up in the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Prediction metrics
	PredictionsTotal prometheus.Counter   // Prediction requests served
	PredictionRows   prometheus.Counter   // Individual rows predicted
	PredictLatency   prometheus.Histogram // End-to-end prediction latency in seconds
	ConfidenceScores prometheus.Histogram // Distribution of prediction confidence
	DecodeFailures   prometheus.Counter   // Target decode failures

	// Training metrics
	FitsTotal          prometheus.Counter   // Full training runs
	FitDuration        prometheus.Histogram // Training duration in seconds
	PartialFitsTotal   prometheus.Counter   // Incremental updates applied
	PartialFitFailures prometheus.Counter   // Incremental updates rejected or failed
	ModelAge           prometheus.Gauge     // Seconds since the active model was trained

	// Ingest metrics
	IngestRows       prometheus.Counter // Labeled feedback rows received
	IngestReconnects prometheus.Counter // Feedback stream reconnections

	// System metrics
	ErrorsTotal prometheus.Counter // Errors encountered
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry, which keeps tests
// isolated from the global Prometheus state.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of prediction requests served",
		}),
		PredictionRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_rows_total",
			Help: "Total number of individual rows predicted",
		}),
		PredictLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_latency_seconds",
			Help:    "End-to-end prediction latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		ConfidenceScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_confidence",
			Help:    "Distribution of prediction confidence scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "decode_failures_total",
			Help: "Total number of target decode failures",
		}),
		FitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fits_total",
			Help: "Total number of full training runs",
		}),
		FitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fit_duration_seconds",
			Help:    "Training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		PartialFitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "partial_fits_total",
			Help: "Total number of incremental updates applied",
		}),
		PartialFitFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "partial_fit_failures_total",
			Help: "Total number of incremental updates rejected or failed",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Seconds since the active model was trained",
		}),
		IngestRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_rows_total",
			Help: "Total number of labeled feedback rows received",
		}),
		IngestReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_reconnects_total",
			Help: "Total number of feedback stream reconnections",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
