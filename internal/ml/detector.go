// Package ml implements the outlier-scoring model: a standardizing
// scaler wrapped around an isolation forest, with an explicit
// trained/untrained lifecycle.
package ml

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Dyrun/Anomaly-Detection/internal/features"
)

// MinTrainingSamples is the smallest sample a fit will accept. Below
// this the boundary estimate is too unstable to be worth replacing an
// existing model with.
const MinTrainingSamples = 120

var (
	// ErrInsufficientData means a fit was refused and prior state kept.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrNotTrained means scoring was requested before any successful
	// fit. Callers skip and retry later; this is not fatal.
	ErrNotTrained = errors.New("model not trained")
)

// Label classifies one scored vector.
type Label int8

const (
	Inlier  Label = 1
	Outlier Label = -1
)

// MetricsInterface defines the metrics hooks the detector reports to.
type MetricsInterface interface {
	FitsInc()
	FitDurationObserve(float64)
	PredictionsInc()
	OutliersInc()
}

// Config holds the model hyperparameters.
type Config struct {
	Contamination float64 // expected outlier fraction in normal data
	Estimators    int     // ensemble size
	Seed          int64   // fixed for reproducibility
}

// DefaultConfig mirrors the tuning the detector ships with.
func DefaultConfig() Config {
	return Config{Contamination: 0.05, Estimators: 100, Seed: 42}
}

// Detector is the outlier-scoring model. Not safe for concurrent use;
// the ingestion loop is its sole owner.
type Detector struct {
	cfg     Config
	scaler  Scaler
	forest  *Forest
	trained bool
	metrics MetricsInterface
}

func NewDetector(cfg Config, metrics MetricsInterface) *Detector {
	if cfg.Contamination <= 0 {
		cfg.Contamination = 0.05
	}
	if cfg.Estimators <= 0 {
		cfg.Estimators = 100
	}
	return &Detector{cfg: cfg, metrics: metrics}
}

// Trained reports whether a fit has succeeded at least once.
func (d *Detector) Trained() bool {
	return d.trained
}

// Fit learns the normal-behavior boundary from an unlabeled sample.
// Scaler parameters are recomputed from this batch in full; nothing is
// merged with a prior fit. With fewer than MinTrainingSamples vectors
// the fit is refused and existing state is left untouched.
func (d *Detector) Fit(vectors []features.Vector) error {
	if len(vectors) < MinTrainingSamples {
		return ErrInsufficientData
	}

	start := time.Now()
	d.scaler.Fit(vectors)
	scaled := d.scaler.Transform(vectors)

	forest := NewForest(d.cfg.Estimators, d.cfg.Contamination, d.cfg.Seed)
	forest.Fit(scaled)
	d.forest = forest
	d.trained = true

	if d.metrics != nil {
		d.metrics.FitsInc()
		d.metrics.FitDurationObserve(time.Since(start).Seconds())
	}
	log.Info().Int("samples", len(vectors)).
		Dur("took", time.Since(start)).
		Msg("model trained")
	return nil
}

// Score classifies each vector as inlier or outlier using the existing
// scaler parameters. Fails with ErrNotTrained before the first fit
// rather than silently returning nothing.
func (d *Detector) Score(vectors []features.Vector) ([]Label, error) {
	if !d.trained {
		return nil, ErrNotTrained
	}

	scaled := d.scaler.Transform(vectors)
	labels := make([]Label, len(scaled))
	for i, v := range scaled {
		if d.forest.IsOutlier(v) {
			labels[i] = Outlier
			if d.metrics != nil {
				d.metrics.OutliersInc()
			}
		} else {
			labels[i] = Inlier
		}
		if d.metrics != nil {
			d.metrics.PredictionsInc()
		}
	}
	return labels, nil
}
