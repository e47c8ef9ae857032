package app

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/rjboer/iqalign/internal/dsp"
	"github.com/rjboer/iqalign/internal/logging"
	"github.com/rjboer/iqalign/internal/receiver"
	"github.com/rjboer/iqalign/internal/telemetry"
)

type recordingReporter struct {
	samples        []telemetry.Sample
	constellations []telemetry.Constellation
	summaries      []telemetry.Summary
}

func (r *recordingReporter) Report(s telemetry.Sample) { r.samples = append(r.samples, s) }
func (r *recordingReporter) ReportConstellation(c telemetry.Constellation) {
	r.constellations = append(r.constellations, c)
}
func (r *recordingReporter) ReportSummary(s telemetry.Summary) { r.summaries = append(r.summaries, s) }

type fixedSource struct {
	capture receiver.Capture
	err     error
}

func (f fixedSource) Capture(context.Context) (receiver.Capture, error) {
	return f.capture, f.err
}

func newSimulator(t *testing.T, cfg receiver.Config) *receiver.Simulator {
	t.Helper()
	sim, err := receiver.NewSimulator(cfg)
	if err != nil {
		t.Fatalf("new simulator: %v", err)
	}
	return sim
}

func TestAlignerNoiselessExact(t *testing.T) {
	sim := newSimulator(t, receiver.Config{Symbols: 200, Delay: 17, PhaseDeg: 40, Seed: 1})
	reporter := &recordingReporter{}
	aligner := NewAligner(sim, reporter, logging.Discard(), Config{Trials: 3})

	summary, err := aligner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Trials != 3 || summary.DelayHits != 3 || summary.DelayHitRate != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.MeanAbsPhaseErrDeg > 1e-6 {
		t.Fatalf("expected exact phase, mean error %.9f°", summary.MeanAbsPhaseErrDeg)
	}
	if summary.MeanSNR1DB != 0 || summary.MeanSNR2DB != 0 {
		t.Fatalf("noiseless SNR should be reported as 0, got %+v", summary)
	}

	for _, s := range reporter.samples {
		if s.DelayEstimate != 17 || math.Abs(s.PhaseEstimateDeg-40) > 1e-6 {
			t.Fatalf("trial %d: got delay %d phase %.6f°", s.Trial, s.DelayEstimate, s.PhaseEstimateDeg)
		}
	}

	if len(reporter.constellations) != 1 || reporter.constellations[0].Trial != 3 {
		t.Fatalf("expected a single constellation for the last trial, got %d", len(reporter.constellations))
	}
	c := reporter.constellations[0]
	for i := range c.Corrected {
		if math.Abs(c.Corrected[i].I-c.Raw2[i].I) > 1e-9 || math.Abs(c.Corrected[i].Q-c.Raw2[i].Q) > 1e-9 {
			t.Fatalf("corrected receiver 1 should match receiver 2 at %d: %+v vs %+v", i, c.Corrected[i], c.Raw2[i])
		}
	}
	for _, v := range c.SpectrumDBFS {
		if math.IsInf(v, 0) || math.IsNaN(v) || v < spectrumFloorDB {
			t.Fatalf("spectrum bin %v not clamped", v)
		}
	}
	if len(reporter.summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(reporter.summaries))
	}
}

func TestAlignerRobustToNoise(t *testing.T) {
	cfg := receiver.DefaultConfig()
	cfg.Seed = 7
	sim := newSimulator(t, cfg)
	aligner := NewAligner(sim, nil, logging.Discard(), Config{Trials: 50})

	summary, err := aligner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.DelayHitRate < 0.95 {
		t.Fatalf("delay hit rate too low: %.2f", summary.DelayHitRate)
	}
	if summary.MeanAbsPhaseErrDeg > 5 {
		t.Fatalf("mean phase error too large: %.2f°", summary.MeanAbsPhaseErrDeg)
	}
	if summary.MeanSNR1DB < 10 || summary.MeanSNR2DB < 10 {
		t.Fatalf("unexpected SNR: %.1f / %.1f dB", summary.MeanSNR1DB, summary.MeanSNR2DB)
	}
}

func TestAlignerPlainModeOnRealSignal(t *testing.T) {
	sim := newSimulator(t, receiver.Config{Symbols: 128, Delay: 9, Seed: 3})
	reporter := &recordingReporter{}
	aligner := NewAligner(sim, reporter, logging.Discard(), Config{Trials: 1, Mode: dsp.Plain})

	if _, err := aligner.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	s := reporter.samples[0]
	if s.Mode != "plain" || s.DelayEstimate != 9 || !s.DelayCorrect {
		t.Fatalf("unexpected sample %+v", s)
	}
}

func TestAlignerWithoutTruth(t *testing.T) {
	a := []complex128{1, 0, 1, 1, 0, 0, 1, 0}
	b := dsp.ApplyDelayCorrection(a, 3)
	for i := range b {
		b[i] *= cmplx.Rect(1, 0.5)
	}
	reporter := &recordingReporter{}
	aligner := NewAligner(fixedSource{capture: receiver.Capture{R1: a, R2: b}}, reporter, logging.Discard(), Config{Trials: 2, ConstellationEvery: 1})

	summary, err := aligner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.HasTruth || summary.DelayHits != 0 || summary.Trials != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(reporter.constellations) != 2 {
		t.Fatalf("expected a constellation per trial, got %d", len(reporter.constellations))
	}
	s := reporter.samples[0]
	if s.HasTruth || s.DelayEstimate != 3 || math.Abs(s.PhaseEstimateDeg-dsp.Degrees(0.5)) > 1e-9 {
		t.Fatalf("unexpected sample %+v", s)
	}
}

func TestAlignerEmptyCapture(t *testing.T) {
	aligner := NewAligner(fixedSource{}, nil, logging.Discard(), Config{Trials: 1})
	if _, err := aligner.Run(context.Background()); !errors.Is(err, dsp.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestAlignerCaptureError(t *testing.T) {
	boom := errors.New("boom")
	aligner := NewAligner(fixedSource{err: boom}, nil, logging.Discard(), Config{Trials: 1})
	if _, err := aligner.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped capture error, got %v", err)
	}
}

func TestAlignerCanceled(t *testing.T) {
	sim := newSimulator(t, receiver.Config{Symbols: 64, Delay: 3, Seed: 1})
	reporter := &recordingReporter{}
	aligner := NewAligner(sim, reporter, logging.Discard(), Config{Trials: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := aligner.Run(ctx)
	if !IsCanceled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if summary.Trials != 0 || len(reporter.samples) != 0 || len(reporter.summaries) != 0 {
		t.Fatalf("canceled run should not report: %+v", summary)
	}
}
