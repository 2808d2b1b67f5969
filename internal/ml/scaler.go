package ml

import (
	"math"

	"github.com/Dyrun/Anomaly-Detection/internal/features"
)

// Scaler standardizes feature vectors to zero mean and unit variance
// per feature. Fit is a full replacement of the parameters, never an
// incremental merge: each refit reflects the entire current training
// buffer, including points folded back by feedback.
type Scaler struct {
	mean  features.Vector
	scale features.Vector
}

// Fit recomputes center and scale from the sample. A feature with zero
// variance gets scale 1 so it passes through centered.
func (s *Scaler) Fit(vectors []features.Vector) {
	n := float64(len(vectors))

	var sum features.Vector
	for _, v := range vectors {
		for i := range v {
			sum[i] += v[i]
		}
	}
	for i := range sum {
		s.mean[i] = sum[i] / n
	}

	var sq features.Vector
	for _, v := range vectors {
		for i := range v {
			d := v[i] - s.mean[i]
			sq[i] += d * d
		}
	}
	for i := range sq {
		std := math.Sqrt(sq[i] / n)
		if std == 0 {
			std = 1
		}
		s.scale[i] = std
	}
}

// Transform applies the fitted parameters to a batch. Must be called
// with parameters from an earlier Fit; inference never refits.
func (s *Scaler) Transform(vectors []features.Vector) []features.Vector {
	out := make([]features.Vector, len(vectors))
	for j, v := range vectors {
		for i := range v {
			out[j][i] = (v[i] - s.mean[i]) / s.scale[i]
		}
	}
	return out
}
