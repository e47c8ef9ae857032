package dsp

import (
	"math"
	"math/cmplx"
)

// Alignment is the result of a single open-loop delay and phase correction.
type Alignment struct {
	Corrected []complex128 // first input, rolled by Delay and rotated by Phase
	Delay     int          // circular lag in [0, N)
	Phase     float64      // radians in (-π, π]
}

// EstimateDelay returns the circular lag d in [0, N) such that rolling a by d
// samples best aligns it with b. It uses Conjugated correlation.
func EstimateDelay(a, b []complex128) (int, error) {
	return EstimateDelayMode(a, b, Conjugated)
}

// EstimateDelayMode is EstimateDelay with an explicit correlation mode.
func EstimateDelayMode(a, b []complex128, mode CorrelationMode) (int, error) {
	p, err := Correlate(a, b, mode)
	if err != nil {
		return 0, err
	}
	n := commonLen(a, b)
	// k and k-n describe the same circular shift.
	return wrapLag(p.PeakLag(), n), nil
}

// ApplyDelayCorrection circularly rolls signal by lag samples: out[(i+lag) mod N] = signal[i].
// Samples leaving one end reappear at the other. The input is not modified.
func ApplyDelayCorrection(signal []complex128, lag int) []complex128 {
	n := len(signal)
	out := make([]complex128, n)
	if n == 0 {
		return out
	}
	shift := wrapLag(lag, n)
	copy(out[shift:], signal[:n-shift])
	copy(out[:shift], signal[n-shift:])
	return out
}

// EstimatePhaseDifference returns angle(mean(b)) - angle(mean(a)), wrapped into (-π, π].
// The angle of a zero centroid is taken as 0.
//
// Averaging before taking the angle is a coarse estimator: with noise it carries a
// bias of around a degree, and it degrades when the symbol stream has no DC component.
func EstimatePhaseDifference(a, b []complex128) (float64, error) {
	n := commonLen(a, b)
	if n == 0 {
		return 0, ErrEmptyInput
	}
	phaseA := cmplx.Phase(Mean(a[:n]))
	phaseB := cmplx.Phase(Mean(b[:n]))
	return WrapPhase(phaseB - phaseA), nil
}

// ApplyPhaseCorrection multiplies every sample by cos(phase) + i·sin(phase).
func ApplyPhaseCorrection(signal []complex128, phase float64) []complex128 {
	rot := complex(math.Cos(phase), math.Sin(phase))
	out := make([]complex128, len(signal))
	for i, v := range signal {
		out[i] = v * rot
	}
	return out
}

// Align estimates the delay of a relative to b, rolls a, estimates the phase
// from the rolled pair and rotates a. Inputs of different length are truncated
// to the shorter one.
func Align(a, b []complex128) (Alignment, error) {
	return AlignMode(a, b, Conjugated)
}

// AlignMode is Align with an explicit correlation mode.
func AlignMode(a, b []complex128, mode CorrelationMode) (Alignment, error) {
	n := commonLen(a, b)
	if n == 0 {
		return Alignment{}, ErrEmptyInput
	}
	a, b = a[:n], b[:n]

	delay, err := EstimateDelayMode(a, b, mode)
	if err != nil {
		return Alignment{}, err
	}
	rolled := ApplyDelayCorrection(a, delay)

	phase, err := EstimatePhaseDifference(rolled, b)
	if err != nil {
		return Alignment{}, err
	}
	return Alignment{
		Corrected: ApplyPhaseCorrection(rolled, phase),
		Delay:     delay,
		Phase:     phase,
	}, nil
}

// wrapLag reduces lag into [0, n). n must be positive.
func wrapLag(lag, n int) int {
	lag %= n
	if lag < 0 {
		lag += n
	}
	return lag
}
