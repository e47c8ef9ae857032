package dsp

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// fullScale is the amplitude of an NRZ "1" symbol; spectra are reported relative to it.
const fullScale = 1.0

// FFTShift returns a copy of data rotated so that DC sits in the middle.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	out := make([]complex128, n)
	if n == 0 {
		return out
	}
	half := n / 2
	copy(out, data[half:])
	copy(out[n-half:], data[:half])
	return out
}

// PowerSpectrum applies a Hamming window, transforms the samples, normalises by the
// window sum and returns the DC-centred spectrum together with its magnitude in dBFS.
func PowerSpectrum(samples []complex128) ([]complex128, []float64) {
	if len(samples) == 0 {
		return []complex128{}, []float64{}
	}
	win := Hamming(len(samples))
	coeffs := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, ApplyWindow(samples, win))
	return finishSpectrum(coeffs, floats.Sum(win))
}

func finishSpectrum(coeffs []complex128, windowSum float64) ([]complex128, []float64) {
	for i := range coeffs {
		coeffs[i] /= complex(windowSum, 0)
	}
	shifted := FFTShift(coeffs)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v)
		if mag == 0 {
			dbfs[i] = -math.Inf(1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag/fullScale)
	}
	return shifted, dbfs
}

// CachedSpectrum keeps the window and FFT plan for one transform size so that
// repeated snapshots of equally sized captures do not rebuild them.
type CachedSpectrum struct {
	mu        sync.Mutex
	size      int
	window    []float64
	windowSum float64
	fft       *fourier.CmplxFFT
}

// NewCachedSpectrum prepares resources for transforms of the given size.
func NewCachedSpectrum(size int) *CachedSpectrum {
	c := &CachedSpectrum{}
	c.resize(size)
	return c
}

// Size returns the cached transform size.
func (c *CachedSpectrum) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// PowerSpectrum behaves like the package-level PowerSpectrum. When the sample
// count differs from the cached size, the cache is rebuilt for the new size.
func (c *CachedSpectrum) PowerSpectrum(samples []complex128) ([]complex128, []float64) {
	if len(samples) == 0 {
		return []complex128{}, []float64{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(samples) != c.size {
		c.resize(len(samples))
	}
	coeffs := c.fft.Coefficients(nil, ApplyWindow(samples, c.window))
	return finishSpectrum(coeffs, c.windowSum)
}

func (c *CachedSpectrum) resize(size int) {
	if size < 1 {
		size = 1
	}
	c.size = size
	c.window = Hamming(size)
	c.windowSum = floats.Sum(c.window)
	c.fft = fourier.NewCmplxFFT(size)
}
