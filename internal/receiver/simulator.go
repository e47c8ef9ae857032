package receiver

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rjboer/iqalign/internal/dsp"
)

const (
	defaultSymbols  = 200
	defaultMaxDelay = 100
)

// Config describes the simulated pair of receivers.
type Config struct {
	Symbols    int     // NRZ symbols per capture; 0 means 200
	NoisePower float64 // AWGN power added to each receiver; 0 is noiseless
	Delay      int     // circular delay of receiver 2, in samples
	PhaseDeg   float64 // phase rotation of receiver 2, in degrees
	// Randomize draws a fresh delay in [1, MaxDelay) and phase in [0°, 90°) for every capture,
	// ignoring Delay and PhaseDeg.
	Randomize bool
	MaxDelay  int   // 0 means 100; capped at Symbols
	Seed      int64 // 0 seeds from the clock
}

// DefaultConfig mirrors the classic exercise: 200 symbols, 1% noise power, random delay and phase.
func DefaultConfig() Config {
	return Config{
		Symbols:    defaultSymbols,
		NoisePower: 0.01,
		Randomize:  true,
		MaxDelay:   defaultMaxDelay,
	}
}

// Validate reports configuration values the simulator cannot honour.
func (c Config) Validate() error {
	if c.Symbols < 0 {
		return fmt.Errorf("symbols must be non-negative, got %d", c.Symbols)
	}
	if c.NoisePower < 0 || math.IsNaN(c.NoisePower) || math.IsInf(c.NoisePower, 0) {
		return fmt.Errorf("noise power must be a finite non-negative number, got %v", c.NoisePower)
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("max delay must be non-negative, got %d", c.MaxDelay)
	}
	return nil
}

// Simulator synthesises two receivers sampling one NRZ stream. Receiver 2 sees the
// stream rotated by a phase and circularly delayed; both receivers add independent AWGN.
type Simulator struct {
	mu    sync.Mutex
	cfg   Config
	rng   *rand.Rand
	truth Truth
}

// NewSimulator builds a simulator. Captures are reproducible for a fixed non-zero seed.
func NewSimulator(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Symbols == 0 {
		cfg.Symbols = defaultSymbols
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}, nil
}

// Config returns the effective configuration.
func (s *Simulator) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Truth returns the delay and phase injected into the most recent capture.
func (s *Simulator) Truth() Truth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truth
}

// Capture draws a new NRZ stream, delay/phase (when randomised) and noise.
func (s *Simulator) Capture(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.cfg.Symbols
	bits := make([]complex128, n)
	for i := range bits {
		bits[i] = complex(float64(s.rng.Intn(2)), 0)
	}

	truth := Truth{Delay: s.cfg.Delay, PhaseRad: dsp.Radians(s.cfg.PhaseDeg)}
	if s.cfg.Randomize {
		truth = s.drawTruth(n)
	}
	s.truth = truth

	noise1 := s.awgn(n)
	noise2 := s.awgn(n)

	rotated := dsp.ApplyPhaseCorrection(bits, truth.PhaseRad)
	delayed := dsp.ApplyDelayCorrection(rotated, truth.Delay)

	r1 := make([]complex128, n)
	r2 := make([]complex128, n)
	for i := 0; i < n; i++ {
		r1[i] = bits[i] + noise1[i]
		r2[i] = delayed[i] + noise2[i]
	}
	return Capture{R1: r1, R2: r2, Noise1: noise1, Noise2: noise2}, nil
}

func (s *Simulator) drawTruth(n int) Truth {
	maxDelay := s.cfg.MaxDelay
	if maxDelay > n {
		maxDelay = n
	}
	delay := 0
	if maxDelay > 1 {
		delay = 1 + s.rng.Intn(maxDelay-1)
	}
	return Truth{Delay: delay, PhaseRad: math.Pi / 2 * s.rng.Float64()}
}

// awgn returns circular complex Gaussian noise with power cfg.NoisePower.
func (s *Simulator) awgn(n int) []complex128 {
	out := make([]complex128, n)
	if s.cfg.NoisePower == 0 {
		return out
	}
	scale := math.Sqrt(s.cfg.NoisePower / 2)
	for i := range out {
		out[i] = complex(s.rng.NormFloat64()*scale, s.rng.NormFloat64()*scale)
	}
	return out
}
