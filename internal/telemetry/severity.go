package telemetry

// Severity is a qualitative tier for a confirmed anomaly.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFor maps a vibration reading in g to a severity tier.
// Thresholds are evaluated high to low and are non-overlapping.
func SeverityFor(vibration float64) Severity {
	switch {
	case vibration > 8.0:
		return SeverityCritical
	case vibration > 6.0:
		return SeverityHigh
	case vibration > 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
