package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rjboer/iqalign/internal/dsp"
	"github.com/rjboer/iqalign/internal/logging"
	"github.com/rjboer/iqalign/internal/receiver"
	"github.com/rjboer/iqalign/internal/telemetry"
)

// spectrumFloorDB replaces -Inf bins so snapshots stay JSON encodable.
const spectrumFloorDB = -200.0

// Config captures application level configuration.
type Config struct {
	Trials int // captures to align; 0 means 1
	Mode   dsp.CorrelationMode
	// ConstellationEvery reports an IQ snapshot every n trials; 0 means only the last trial.
	ConstellationEvery int
	// Interval pauses between trials so live viewers can follow along.
	Interval time.Duration
}

// Aligner runs repeated capture-and-align trials against a receiver source.
type Aligner struct {
	source   receiver.Source
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config
	spectrum *dsp.CachedSpectrum

	delayHits   int
	truthTrials int
	phaseErrs   []float64
	snr1, snr2  []float64
}

// NewAligner builds an aligner. A nil reporter discards telemetry.
func NewAligner(source receiver.Source, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Aligner {
	if logger == nil {
		logger = logging.Default()
	}
	if reporter == nil {
		reporter = telemetry.MultiReporter(nil)
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 1
	}
	return &Aligner{
		source:   source,
		reporter: reporter,
		logger:   logger.With(logging.F("subsystem", "aligner")),
		cfg:      cfg,
		spectrum: dsp.NewCachedSpectrum(1),
	}
}

// Run performs the configured number of trials and returns their summary.
// It stops early when ctx is canceled and returns ctx's error.
func (a *Aligner) Run(ctx context.Context) (telemetry.Summary, error) {
	a.reset()
	a.logger.Info("starting alignment run", logging.F("trials", a.cfg.Trials), logging.F("mode", a.cfg.Mode.String()))

	for trial := 1; trial <= a.cfg.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			return a.summary(), err
		}
		if err := a.Step(ctx, trial); err != nil {
			return a.summary(), err
		}
		if a.cfg.Interval > 0 && trial < a.cfg.Trials {
			select {
			case <-ctx.Done():
				return a.summary(), ctx.Err()
			case <-time.After(a.cfg.Interval):
			}
		}
	}

	s := a.summary()
	a.reporter.ReportSummary(s)
	return s, nil
}

// Step captures once, aligns the second receiver onto the first and reports the result.
func (a *Aligner) Step(ctx context.Context, trial int) error {
	capture, err := a.source.Capture(ctx)
	if err != nil {
		return fmt.Errorf("trial %d: capture: %w", trial, err)
	}
	result, err := dsp.AlignMode(capture.R1, capture.R2, a.cfg.Mode)
	if err != nil {
		return fmt.Errorf("trial %d: align: %w", trial, err)
	}

	sample := telemetry.Sample{
		Timestamp:        time.Now(),
		Trial:            trial,
		Symbols:          len(result.Corrected),
		Mode:             a.cfg.Mode.String(),
		DelayEstimate:    result.Delay,
		PhaseEstimateDeg: dsp.Degrees(result.Phase),
		SNR1DB:           snrDB(capture.R1, capture.Noise1),
		SNR2DB:           snrDB(capture.R2, capture.Noise2),
	}
	a.snr1 = append(a.snr1, sample.SNR1DB)
	a.snr2 = append(a.snr2, sample.SNR2DB)

	if ts, ok := a.source.(receiver.TruthSource); ok {
		truth := ts.Truth()
		n := len(result.Corrected)
		errDeg := dsp.Degrees(dsp.PhaseError(result.Phase, truth.PhaseRad))
		sample.HasTruth = true
		sample.TrueDelay = truth.Delay
		sample.TruePhaseDeg = dsp.Degrees(truth.PhaseRad)
		sample.DelayCorrect = n > 0 && result.Delay == ((truth.Delay%n)+n)%n
		sample.PhaseErrorDeg = errDeg

		a.truthTrials++
		if sample.DelayCorrect {
			a.delayHits++
		}
		a.phaseErrs = append(a.phaseErrs, errDeg)
	}

	a.reporter.Report(sample)
	if a.wantConstellation(trial) {
		a.reporter.ReportConstellation(a.constellation(trial, capture, result))
	}
	return nil
}

func (a *Aligner) wantConstellation(trial int) bool {
	if a.cfg.ConstellationEvery > 0 {
		return trial%a.cfg.ConstellationEvery == 0 || trial == a.cfg.Trials
	}
	return trial == a.cfg.Trials
}

func (a *Aligner) constellation(trial int, c receiver.Capture, result dsp.Alignment) telemetry.Constellation {
	_, db := a.spectrum.PowerSpectrum(result.Corrected)
	for i, v := range db {
		if math.IsInf(v, -1) || math.IsNaN(v) || v < spectrumFloorDB {
			db[i] = spectrumFloorDB
		}
	}
	return telemetry.Constellation{
		Trial:        trial,
		Raw1:         toPoints(c.R1),
		Raw2:         toPoints(c.R2),
		Corrected:    toPoints(result.Corrected),
		SpectrumDBFS: db,
	}
}

func (a *Aligner) reset() {
	a.delayHits = 0
	a.truthTrials = 0
	a.phaseErrs = a.phaseErrs[:0]
	a.snr1 = a.snr1[:0]
	a.snr2 = a.snr2[:0]
}

func (a *Aligner) summary() telemetry.Summary {
	s := telemetry.Summary{
		Trials:     len(a.snr1),
		MeanSNR1DB: meanOrZero(a.snr1),
		MeanSNR2DB: meanOrZero(a.snr2),
	}
	if a.truthTrials == 0 {
		return s
	}
	abs := make([]float64, len(a.phaseErrs))
	for i, e := range a.phaseErrs {
		abs[i] = math.Abs(e)
	}
	s.HasTruth = true
	s.DelayHits = a.delayHits
	s.DelayHitRate = float64(a.delayHits) / float64(a.truthTrials)
	s.MeanAbsPhaseErrDeg = stat.Mean(abs, nil)
	if len(a.phaseErrs) > 1 {
		s.StdPhaseErrDeg = stat.StdDev(a.phaseErrs, nil)
	}
	return s
}

// snrDB is 0 when the noise is unknown or zero, so samples stay JSON encodable.
func snrDB(received, noise []complex128) float64 {
	if len(noise) == 0 || len(noise) != len(received) {
		return 0
	}
	signal := make([]complex128, len(received))
	for i := range received {
		signal[i] = received[i] - noise[i]
	}
	db := dsp.DB(dsp.SNR(signal, noise))
	if math.IsInf(db, 0) || math.IsNaN(db) {
		return 0
	}
	return db
}

func meanOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func toPoints(s []complex128) []telemetry.IQPoint {
	out := make([]telemetry.IQPoint, len(s))
	for i, v := range s {
		out[i] = telemetry.IQPoint{I: real(v), Q: imag(v)}
	}
	return out
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
