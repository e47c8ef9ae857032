package dsp

import (
	"math"
	"math/cmplx"
)

// CorrelationMode selects how the second operand enters the cross-correlation.
type CorrelationMode int

const (
	// Conjugated correlates a against conj(b) and picks the peak by magnitude.
	// The peak location does not depend on the phase offset between a and b.
	Conjugated CorrelationMode = iota
	// Plain correlates a against b without conjugation and picks the peak by
	// real part. For real-valued inputs it matches Conjugated.
	Plain
)

func (m CorrelationMode) String() string {
	switch m {
	case Conjugated:
		return "conjugated"
	case Plain:
		return "plain"
	default:
		return "unknown"
	}
}

// Profile is a full linear cross-correlation. Values[i] holds the correlation
// at lag i+MinLag.
type Profile struct {
	Values []complex128
	MinLag int
	Mode   CorrelationMode
}

// Lag returns the lag of index i.
func (p Profile) Lag(i int) int { return i + p.MinLag }

// score is the quantity maximised when locating the peak.
func (p Profile) score(v complex128) float64 {
	if p.Mode == Plain {
		return real(v)
	}
	return cmplx.Abs(v)
}

// PeakLag returns the lag with the highest score. Ties go to the smallest |lag|,
// then to the first occurrence, so a flat profile yields 0.
func (p Profile) PeakLag() int {
	if len(p.Values) == 0 {
		return 0
	}
	best := -math.MaxFloat64
	bestLag := 0
	for i, v := range p.Values {
		s := p.score(v)
		lag := p.Lag(i)
		if s > best || (s == best && absInt(lag) < absInt(bestLag)) {
			best = s
			bestLag = lag
		}
	}
	return bestLag
}

// Correlate mean-centres a and b and computes their full cross-correlation
//
//	c(k) = Σ_n a[n] · op(b[n+k]),  k = -(N-1) … N-1
//
// where op is conj for Conjugated and the identity for Plain. A peak at k means
// b lags a by k samples. Inputs of different length are truncated to the shorter one.
func Correlate(a, b []complex128, mode CorrelationMode) (Profile, error) {
	n := commonLen(a, b)
	if n == 0 {
		return Profile{}, ErrEmptyInput
	}
	x := centre(a[:n])
	y := centre(b[:n])
	if mode == Conjugated {
		for i := range y {
			y[i] = cmplx.Conj(y[i])
		}
	}

	values := make([]complex128, 2*n-1)
	for idx := range values {
		k := idx - (n - 1)
		lo, hi := 0, n
		if k < 0 {
			lo = -k
		} else {
			hi = n - k
		}
		var acc complex128
		for i := lo; i < hi; i++ {
			acc += x[i] * y[i+k]
		}
		values[idx] = acc
	}
	return Profile{Values: values, MinLag: -(n - 1), Mode: mode}, nil
}

// centre returns a copy of s with its arithmetic mean removed.
func centre(s []complex128) []complex128 {
	m := Mean(s)
	out := make([]complex128, len(s))
	for i, v := range s {
		out[i] = v - m
	}
	return out
}

func commonLen(a, b []complex128) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return n
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
