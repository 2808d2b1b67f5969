// Package telemetry defines the flight telemetry domain types and the
// line-delimited JSON source they are read from.
package telemetry

import "time"

// Record is one sensor sample from the platform. Optional fields use
// pointers so a missing JSON key can be told apart from a zero value.
type Record struct {
	Timestamp     float64  `json:"timestamp"`
	Altitude      *float64 `json:"altitude,omitempty"`
	Airspeed      *float64 `json:"airspeed,omitempty"`
	Pitch         *float64 `json:"pitch,omitempty"`
	Vibration     *float64 `json:"vibration,omitempty"`
	EngineFailure *bool    `json:"engineFailure,omitempty"`
	TrainingPhase *bool    `json:"trainingPhase,omitempty"`
}

// InTrainingPhase reports whether the record builds the normal-behavior
// baseline. Records that don't say default to training.
func (r Record) InTrainingPhase() bool {
	return r.TrainingPhase == nil || *r.TrainingPhase
}

// FailureConfirmed reports the ground-truth engine failure flag. An
// absent flag counts as confirmed: without an oracle saying otherwise,
// a flagged record stays an anomaly.
func (r Record) FailureConfirmed() bool {
	return r.EngineFailure == nil || *r.EngineFailure
}

// Anomaly is a confirmed outlier ready for persistence. Immutable once
// built.
type Anomaly struct {
	Timestamp     float64   `json:"timestamp"`
	Altitude      float64   `json:"altitude"`
	Airspeed      float64   `json:"airspeed"`
	Pitch         float64   `json:"pitch"`
	Vibration     float64   `json:"vibration"`
	EngineFailure bool      `json:"engineFailure"`
	DetectedAt    time.Time `json:"detected_at"`
	Severity      Severity  `json:"severity"`
}

// NewAnomaly builds an Anomaly from a record the model flagged,
// stamping detection time and vibration-derived severity. The caller
// must have validated the sensor fields via feature extraction first.
func NewAnomaly(r Record, detectedAt time.Time) Anomaly {
	return Anomaly{
		Timestamp:     r.Timestamp,
		Altitude:      *r.Altitude,
		Airspeed:      *r.Airspeed,
		Pitch:         *r.Pitch,
		Vibration:     *r.Vibration,
		EngineFailure: r.FailureConfirmed(),
		DetectedAt:    detectedAt,
		Severity:      SeverityFor(*r.Vibration),
	}
}
