package dsp

import "math"

const degToRad = math.Pi / 180.0

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad / degToRad }

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * degToRad }

// WrapPhase maps an angle in radians into (-π, π].
func WrapPhase(rad float64) float64 {
	if math.IsNaN(rad) || math.IsInf(rad, 0) {
		return rad
	}
	w := math.Mod(rad, 2*math.Pi)
	if w <= -math.Pi {
		w += 2 * math.Pi
	} else if w > math.Pi {
		w -= 2 * math.Pi
	}
	return w
}

// PhaseError returns the absolute difference between two angles modulo 2π, in [0, π].
func PhaseError(got, want float64) float64 {
	return math.Abs(WrapPhase(got - want))
}
