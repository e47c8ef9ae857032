package telemetry

import (
	"github.com/rjboer/iqalign/internal/logging"
)

// ConsoleReporter narrates each alignment through the logger.
type ConsoleReporter struct {
	logger logging.Logger
}

// NewConsoleReporter builds a console reporter with the provided logger.
func NewConsoleReporter(logger logging.Logger) ConsoleReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return ConsoleReporter{logger: logger.With(logging.F("subsystem", "telemetry"))}
}

func (r ConsoleReporter) Report(s Sample) {
	if s.HasTruth {
		r.logger.Info("simulated parameters",
			logging.F("trial", s.Trial),
			logging.F("symbols", s.Symbols),
			logging.F("true_delay", s.TrueDelay),
			logging.F("true_phase_deg", s.TruePhaseDeg),
		)
	}
	r.logger.Info("signal-to-noise ratio",
		logging.F("trial", s.Trial),
		logging.F("snr1_db", s.SNR1DB),
		logging.F("snr2_db", s.SNR2DB),
	)
	fields := []logging.Field{
		logging.F("trial", s.Trial),
		logging.F("mode", s.Mode),
		logging.F("lag", s.DelayEstimate),
		logging.F("phase_deg", s.PhaseEstimateDeg),
	}
	if s.HasTruth {
		fields = append(fields,
			logging.F("delay_correct", s.DelayCorrect),
			logging.F("phase_error_deg", s.PhaseErrorDeg),
		)
	}
	r.logger.Info("alignment estimate", fields...)
	if s.HasTruth && !s.DelayCorrect {
		r.logger.Warn("delay estimate missed", logging.F("trial", s.Trial), logging.F("lag", s.DelayEstimate), logging.F("true_delay", s.TrueDelay))
	}
}

// ReportConstellation only notes the sizes; plots are served by the web hub.
func (r ConsoleReporter) ReportConstellation(c Constellation) {
	r.logger.Debug("constellation snapshot",
		logging.F("trial", c.Trial),
		logging.F("points", len(c.Corrected)),
		logging.F("spectrum_bins", len(c.SpectrumDBFS)),
	)
}

func (r ConsoleReporter) ReportSummary(s Summary) {
	fields := []logging.Field{
		logging.F("trials", s.Trials),
		logging.F("mean_snr1_db", s.MeanSNR1DB),
		logging.F("mean_snr2_db", s.MeanSNR2DB),
	}
	if s.HasTruth {
		fields = append(fields,
			logging.F("delay_hits", s.DelayHits),
			logging.F("delay_hit_rate", s.DelayHitRate),
			logging.F("mean_abs_phase_err_deg", s.MeanAbsPhaseErrDeg),
			logging.F("std_phase_err_deg", s.StdPhaseErrDeg),
		)
	}
	r.logger.Info("run summary", fields...)
}
