package telemetry

import "time"

// Sample is the outcome of aligning one capture.
type Sample struct {
	Timestamp        time.Time `json:"timestamp"`
	Trial            int       `json:"trial"`
	Symbols          int       `json:"symbols"`
	Mode             string    `json:"mode"`
	DelayEstimate    int       `json:"delayEstimate"`
	PhaseEstimateDeg float64   `json:"phaseEstimateDeg"`
	SNR1DB           float64   `json:"snr1Db"`
	SNR2DB           float64   `json:"snr2Db"`

	// Ground truth is only known for simulated captures.
	HasTruth      bool    `json:"hasTruth"`
	TrueDelay     int     `json:"trueDelay,omitempty"`
	TruePhaseDeg  float64 `json:"truePhaseDeg,omitempty"`
	DelayCorrect  bool    `json:"delayCorrect,omitempty"`
	PhaseErrorDeg float64 `json:"phaseErrorDeg,omitempty"`
}

// IQPoint is one sample on the constellation plot.
type IQPoint struct {
	I float64 `json:"i"`
	Q float64 `json:"q"`
}

// Constellation carries the IQ scatter before and after correction plus the
// spectrum of the corrected first receiver.
type Constellation struct {
	Trial        int       `json:"trial"`
	Raw1         []IQPoint `json:"raw1"`
	Raw2         []IQPoint `json:"raw2"`
	Corrected    []IQPoint `json:"corrected"`
	SpectrumDBFS []float64 `json:"spectrumDbfs"`
}

// Summary aggregates a run of trials.
type Summary struct {
	Trials             int     `json:"trials"`
	DelayHits          int     `json:"delayHits"`
	DelayHitRate       float64 `json:"delayHitRate"`
	MeanAbsPhaseErrDeg float64 `json:"meanAbsPhaseErrDeg"`
	StdPhaseErrDeg     float64 `json:"stdPhaseErrDeg"`
	MeanSNR1DB         float64 `json:"meanSnr1Db"`
	MeanSNR2DB         float64 `json:"meanSnr2Db"`
	HasTruth           bool    `json:"hasTruth"`
}

// Event is pushed to live subscribers.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const (
	EventSample        = "sample"
	EventConstellation = "constellation"
	EventSummary       = "summary"
)

// Reporter receives alignment telemetry.
type Reporter interface {
	Report(sample Sample)
	ReportConstellation(c Constellation)
	ReportSummary(s Summary)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

func (m MultiReporter) Report(sample Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(sample)
		}
	}
}

func (m MultiReporter) ReportConstellation(c Constellation) {
	for _, r := range m {
		if r != nil {
			r.ReportConstellation(c)
		}
	}
}

func (m MultiReporter) ReportSummary(s Summary) {
	for _, r := range m {
		if r != nil {
			r.ReportSummary(s)
		}
	}
}
