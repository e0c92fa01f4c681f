package factstore

import "math"

// Default certainty factor bounds.
const (
	DefaultCFMin = -1.0
	DefaultCFMax = 1.0
)

// CombineCertainty merges two certainty factors for the same conclusion
// (MYCIN combination).
func CombineCertainty(a, b float64) float64 {
	switch {
	case a >= 0 && b >= 0:
		return a + b - a*b
	case a < 0 && b < 0:
		return a + b + a*b
	default:
		den := 1 - math.Min(math.Abs(a), math.Abs(b))
		if den == 0 {
			return 0
		}
		return (a + b) / den
	}
}
