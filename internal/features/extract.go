// Package features maps telemetry records to the fixed-order numeric
// vectors the detector consumes.
package features

import (
	"fmt"

	"github.com/Dyrun/Anomaly-Detection/internal/telemetry"
)

// Dim is the feature vector dimensionality.
const Dim = 4

// Vector is the ordered feature tuple [altitude, airspeed, pitch,
// vibration] derived from one telemetry record.
type Vector [Dim]float64

// MissingFieldError reports a telemetry record lacking a sensor field
// required for feature extraction. A record with wrong dimensionality
// must never reach training or scoring, so this propagates to the
// ingestion boundary instead of being swallowed here.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("telemetry record missing required field %q", e.Field)
}

// Extract derives the feature vector for a record. Field order is part
// of the model contract and must not change between fits.
func Extract(r telemetry.Record) (Vector, error) {
	fields := []struct {
		name  string
		value *float64
	}{
		{"altitude", r.Altitude},
		{"airspeed", r.Airspeed},
		{"pitch", r.Pitch},
		{"vibration", r.Vibration},
	}

	var v Vector
	for i, f := range fields {
		if f.value == nil {
			return Vector{}, &MissingFieldError{Field: f.name}
		}
		v[i] = *f.value
	}
	return v, nil
}

// ExtractAll extracts vectors for a batch, failing on the first record
// with a missing field.
func ExtractAll(records []telemetry.Record) ([]Vector, error) {
	vectors := make([]Vector, len(records))
	for i, r := range records {
		v, err := Extract(r)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}
