package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Mean returns the arithmetic mean (centroid) of s, or 0 for an empty slice.
func Mean(s []complex128) complex128 {
	if len(s) == 0 {
		return 0
	}
	var sum complex128
	for _, v := range s {
		sum += v
	}
	return sum / complex(float64(len(s)), 0)
}

// Power returns the mean squared magnitude of s, or 0 for an empty slice.
func Power(s []complex128) float64 {
	if len(s) == 0 {
		return 0
	}
	mags := make([]float64, len(s))
	for i, v := range s {
		mags[i] = real(v)*real(v) + imag(v)*imag(v)
	}
	return floats.Sum(mags) / float64(len(s))
}

// SNR returns Power(signal) / Power(noise) as a linear ratio. A silent noise
// sequence yields +Inf.
func SNR(signal, noise []complex128) float64 {
	np := Power(noise)
	if np == 0 {
		return math.Inf(1)
	}
	return Power(signal) / np
}

// DB converts a linear power ratio to decibels.
func DB(ratio float64) float64 {
	if ratio <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(ratio)
}
