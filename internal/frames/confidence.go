package frames

// ConfidenceLevel is the discrete depth-quality code reported by the sensor.
type ConfidenceLevel uint8

const (
	ConfidenceLow    ConfidenceLevel = 0
	ConfidenceMedium ConfidenceLevel = 1
	ConfidenceHigh   ConfidenceLevel = 2
)

// String returns the level name.
func (l ConfidenceLevel) String() string {
	switch l {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MapConfidence maps a raw confidence code to a score in [0, 1]:
// low → 0, medium → 0.5, high → 1. Unknown codes map to 0.
func MapConfidence(code uint8) float32 {
	switch ConfidenceLevel(code) {
	case ConfidenceLow:
		return 0
	case ConfidenceMedium:
		return 0.5
	case ConfidenceHigh:
		return 1
	default:
		return 0
	}
}
