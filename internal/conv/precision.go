package conv

import "math"

// maxPrecision bounds the precision search per spec.md §4.3 ("smallest
// k in [0,6]").
const maxPrecision = 6

// PrecisionFromScale returns the smallest k in [0,6] such that
// scale * 10^k is (within floating-point tolerance) an integer. A scale
// with |scale| >= 1 is always treated as k=0, matching the teacher-style
// "clean integers stay integers" contract (spec.md §4.3, §8 precision
// invariant).
func PrecisionFromScale(scale float64) int {
	if scale == 0 {
		return 0
	}
	if math.Abs(scale) >= 1 {
		return 0
	}
	for k := 0; k <= maxPrecision; k++ {
		scaled := scale * math.Pow(10, float64(k))
		if math.Abs(scaled-math.Round(scaled)) < 1e-9 {
			return k
		}
	}
	return maxPrecision
}

// RoundToPrecision rounds v to k decimal places.
func RoundToPrecision(v float64, k int) float64 {
	factor := math.Pow(10, float64(k))
	return math.Round(v*factor) / factor
}

// RoundForScale rounds v to the precision implied by scale.
func RoundForScale(v, scale float64) float64 {
	return RoundToPrecision(v, PrecisionFromScale(scale))
}

// isIntegral reports whether v has no fractional part, i.e. whether it must be emitted as a JSON integer rather than
// a JSON float (spec.md §4.3: "clean integer results MUST be emitted as
// JSON integers, never 92.0").
func isIntegral(v float64) bool {
	return v == math.Trunc(v) && !math.IsInf(v, 0)
}

// ToJSONNumber converts a rounded physical value into a JSON-ready
// interface{}: an int64 when the value is integral, otherwise a float64.
func ToJSONNumber(v float64) interface{} {
	if isIntegral(v) {
		return int64(v)
	}
	return v
}
