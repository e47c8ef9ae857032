package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rjboer/iqalign/internal/app"
	"github.com/rjboer/iqalign/internal/dsp"
	"github.com/rjboer/iqalign/internal/logging"
	"github.com/rjboer/iqalign/internal/mdns"
	"github.com/rjboer/iqalign/internal/receiver"
	"github.com/rjboer/iqalign/internal/telemetry"
)

func main() {
	configPath := envString(os.LookupEnv, "IQA_CONFIG", "config.json")

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		log.Fatalf("save config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logging.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("run failed", logging.F("error", err))
		os.Exit(1)
	}
}

// run aligns cfg.trials simulated captures. With a web address it keeps serving
// the telemetry UI after the run until ctx is canceled.
func run(ctx context.Context, cfg cliConfig, logger logging.Logger) error {
	mode, err := parseMode(cfg.mode)
	if err != nil {
		return err
	}
	sim, err := receiver.NewSimulator(simConfig(cfg))
	if err != nil {
		return fmt.Errorf("simulator: %w", err)
	}

	reporters := telemetry.MultiReporter{telemetry.NewConsoleReporter(logger)}
	var serveErr chan error
	if cfg.webAddr != "" {
		hub := telemetry.NewHub(cfg.historyLimit, logger)
		reporters = append(reporters, hub)

		serveErr = make(chan error, 1)
		server := telemetry.NewWebServer(cfg.webAddr, hub, logger)
		go func() { serveErr <- server.Start(ctx) }()

		if cfg.mdnsName != "" {
			adv, err := advertise(ctx, cfg, logger)
			if err != nil {
				logger.Warn("mdns advertisement disabled", logging.F("error", err))
			} else {
				defer adv.Shutdown()
			}
		}
	}

	aligner := app.NewAligner(sim, reporters, logger, app.Config{
		Trials:             cfg.trials,
		Mode:               mode,
		ConstellationEvery: cfg.constellationEvery,
		Interval:           cfg.interval,
	})
	if _, err := aligner.Run(ctx); err != nil {
		if app.IsCanceled(err) {
			logger.Info("run interrupted")
			return nil
		}
		return err
	}

	if serveErr == nil {
		return nil
	}
	logger.Info("run finished, serving telemetry (Ctrl+C to stop)", logging.F("addr", cfg.webAddr))
	return <-serveErr
}

func advertise(ctx context.Context, cfg cliConfig, logger logging.Logger) (*mdns.Advertisement, error) {
	port, err := portFromAddr(cfg.webAddr)
	if err != nil {
		return nil, err
	}
	txt := []string{"path=/", "mode=" + cfg.mode}
	return mdns.Advertise(ctx, cfg.mdnsName, port, txt, logger)
}

type cliConfig struct {
	symbols            int
	noisePower         float64
	delay              int
	phaseDeg           float64
	randomize          bool
	maxDelay           int
	seed               int64
	trials             int
	mode               string
	constellationEvery int
	interval           time.Duration
	historyLimit       int
	webAddr            string
	mdnsName           string
	logLevel           string
	logFormat          string
}

type persistentConfig struct {
	Symbols            int     `json:"symbols"`
	NoisePower         float64 `json:"noise_power"`
	Delay              int     `json:"delay"`
	PhaseDeg           float64 `json:"phase_deg"`
	Randomize          bool    `json:"randomize"`
	MaxDelay           int     `json:"max_delay"`
	Seed               int64   `json:"seed"`
	Trials             int     `json:"trials"`
	Mode               string  `json:"mode"`
	ConstellationEvery int     `json:"constellation_every"`
	Interval           string  `json:"interval"`
	HistoryLimit       int     `json:"history_limit"`
	WebAddr            string  `json:"web_addr"`
	MDNSName           string  `json:"mdns_name"`
	LogLevel           string  `json:"log_level"`
	LogFormat          string  `json:"log_format"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	defaultInterval, err := time.ParseDuration(defaults.Interval)
	if defaults.Interval == "" || err != nil {
		defaultInterval = 0
	}

	cfg := cliConfig{}
	fs := flag.NewFlagSet("iqalign", flag.ContinueOnError)
	fs.IntVar(&cfg.symbols, "symbols", envInt(lookup, "IQA_SYMBOLS", defaults.Symbols), "NRZ symbols per capture")
	fs.Float64Var(&cfg.noisePower, "noise-power", envFloat(lookup, "IQA_NOISE_POWER", defaults.NoisePower), "AWGN power per receiver (0 disables noise)")
	fs.IntVar(&cfg.delay, "delay", envInt(lookup, "IQA_DELAY", defaults.Delay), "Fixed delay of receiver 2 in samples (ignored with -randomize)")
	fs.Float64Var(&cfg.phaseDeg, "phase-deg", envFloat(lookup, "IQA_PHASE_DEG", defaults.PhaseDeg), "Fixed phase of receiver 2 in degrees (ignored with -randomize)")
	fs.BoolVar(&cfg.randomize, "randomize", envBool(lookup, "IQA_RANDOMIZE", defaults.Randomize), "Draw a random delay and phase for every capture")
	fs.IntVar(&cfg.maxDelay, "max-delay", envInt(lookup, "IQA_MAX_DELAY", defaults.MaxDelay), "Upper bound (exclusive) for random delays")
	fs.Int64Var(&cfg.seed, "seed", envInt64(lookup, "IQA_SEED", defaults.Seed), "Random seed (0 seeds from the clock)")
	fs.IntVar(&cfg.trials, "trials", envInt(lookup, "IQA_TRIALS", defaults.Trials), "Number of captures to align")
	fs.StringVar(&cfg.mode, "mode", envString(lookup, "IQA_MODE", defaults.Mode), "Correlation mode (conjugated|plain)")
	fs.IntVar(&cfg.constellationEvery, "constellation-every", envInt(lookup, "IQA_CONSTELLATION_EVERY", defaults.ConstellationEvery), "Publish an IQ snapshot every n trials (0: last trial only)")
	fs.DurationVar(&cfg.interval, "interval", envDuration(lookup, "IQA_INTERVAL", defaultInterval), "Pause between trials")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "IQA_HISTORY_LIMIT", defaults.HistoryLimit), "Maximum samples to keep in telemetry history")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "IQA_WEB_ADDR", defaults.WebAddr), "Optional web telemetry listen address (e.g. :8080)")
	fs.StringVar(&cfg.mdnsName, "mdns", envString(lookup, "IQA_MDNS", defaults.MDNSName), "Optional mDNS instance name for the web UI")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "IQA_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "IQA_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		Symbols:            cfg.symbols,
		NoisePower:         cfg.noisePower,
		Delay:              cfg.delay,
		PhaseDeg:           cfg.phaseDeg,
		Randomize:          cfg.randomize,
		MaxDelay:           cfg.maxDelay,
		Seed:               cfg.seed,
		Trials:             cfg.trials,
		Mode:               cfg.mode,
		ConstellationEvery: cfg.constellationEvery,
		Interval:           cfg.interval.String(),
		HistoryLimit:       cfg.historyLimit,
		WebAddr:            cfg.webAddr,
		MDNSName:           cfg.mdnsName,
		LogLevel:           cfg.logLevel,
		LogFormat:          cfg.logFormat,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	cfg := defaultPersistentConfig()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	sim := receiver.DefaultConfig()
	return persistentConfig{
		Symbols:      sim.Symbols,
		NoisePower:   sim.NoisePower,
		Randomize:    sim.Randomize,
		MaxDelay:     sim.MaxDelay,
		Trials:       10,
		Mode:         dsp.Conjugated.String(),
		Interval:     "0s",
		HistoryLimit: 500,
		WebAddr:      "",
		MDNSName:     "iqalign",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

func simConfig(cfg cliConfig) receiver.Config {
	return receiver.Config{
		Symbols:    cfg.symbols,
		NoisePower: cfg.noisePower,
		Delay:      cfg.delay,
		PhaseDeg:   cfg.phaseDeg,
		Randomize:  cfg.randomize,
		MaxDelay:   cfg.maxDelay,
		Seed:       cfg.seed,
	}
}

func parseMode(s string) (dsp.CorrelationMode, error) {
	switch s {
	case "", "conjugated", "conj":
		return dsp.Conjugated, nil
	case "plain":
		return dsp.Plain, nil
	default:
		return 0, fmt.Errorf("unknown correlation mode %q", s)
	}
}

func newLogger(cfg cliConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, os.Stderr), nil
}

func portFromAddr(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("web address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("web address %q: invalid port: %w", addr, err)
	}
	return port, nil
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envInt64(lookup func(string) (string, bool), key string, def int64) int64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
