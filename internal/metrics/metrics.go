// Package metrics provides Prometheus metrics for the anomaly
// detection service: ingestion throughput, model lifecycle, feedback
// corrections, and loop health, exposed on the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the detection engine.
type Metrics struct {
	// Ingestion metrics
	RecordsIngested    prometheus.Counter // Total telemetry records read from the source
	MalformedRecords   prometheus.Counter // Records dropped for missing required fields
	TrainingBufferSize prometheus.Gauge   // Current training buffer population

	// Model lifecycle metrics
	FitsTotal      prometheus.Counter   // Successful model fits, initial and retrains
	RetrainsTotal  prometheus.Counter   // Retrains triggered by feedback pressure
	FitDuration    prometheus.Histogram // Model fit duration in seconds
	Predictions    prometheus.Counter   // Vectors scored
	OutliersTotal  prometheus.Counter   // Vectors the model labeled outlier
	FalsePositives prometheus.Counter   // Outlier calls overruled by ground truth

	// Detection output metrics
	AnomaliesDetected *prometheus.CounterVec // Confirmed anomalies by severity

	// Loop metrics
	CyclesTotal prometheus.Counter // Ingestion cycles completed
	CycleErrors prometheus.Counter // Cycles that ended in the error backoff
	NoDataCount prometheus.Counter // Cycles that found no new records
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry, keeping test
// instances isolated from the global state.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		RecordsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_records_ingested_total",
			Help: "Total telemetry records read from the source",
		}),
		MalformedRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_records_malformed_total",
			Help: "Records dropped for missing required fields",
		}),
		TrainingBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "training_buffer_size",
			Help: "Current training buffer population",
		}),
		FitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_fits_total",
			Help: "Successful model fits, initial training and retrains",
		}),
		RetrainsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_retrains_total",
			Help: "Retrains triggered by feedback pressure",
		}),
		FitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_fit_duration_seconds",
			Help:    "Model fit duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_predictions_total",
			Help: "Total vectors scored by the model",
		}),
		OutliersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_outliers_total",
			Help: "Total vectors the model labeled outlier",
		}),
		FalsePositives: factory.NewCounter(prometheus.CounterOpts{
			Name: "feedback_false_positives_total",
			Help: "Outlier calls overruled by the ground-truth flag",
		}),
		AnomaliesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anomalies_detected_total",
			Help: "Confirmed anomalies by severity tier",
		}, []string{"severity"}),
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingestion_cycles_total",
			Help: "Ingestion cycles completed",
		}),
		CycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingestion_cycle_errors_total",
			Help: "Cycles that ended in the error backoff",
		}),
		NoDataCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingestion_no_data_cycles_total",
			Help: "Cycles that found no new records",
		}),
	}
}

// AnomalyObserved records one confirmed anomaly under its severity tier.
func (m *Metrics) AnomalyObserved(severity string) {
	m.AnomaliesDetected.WithLabelValues(severity).Inc()
}
