package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rjboer/iqalign/internal/logging"
)

// Config is the runtime configuration exposed by the hub. It is guarded by the
// hub's RWMutex and can be changed over HTTP.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
	MaxPoints    int `json:"maxPoints"` // constellation points served per trace
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
	minMaxPoints    = 16
	maxMaxPoints    = 100_000
)

func defaultConfig() Config {
	return Config{
		HistoryLimit: 500,
		MaxPoints:    2_000,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.MaxPoints == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.MaxPoints == 0 {
		cfg.MaxPoints = base.MaxPoints
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.MaxPoints < minMaxPoints || cfg.MaxPoints > maxMaxPoints {
		return Config{}, fmt.Errorf("max points must be between %d and %d", minMaxPoints, maxMaxPoints)
	}
	return cfg, nil
}

// Hub collects history and fans out telemetry updates to subscribers.
type Hub struct {
	mu            sync.RWMutex
	history       []Sample
	constellation *Constellation
	summary       *Summary
	subscribers   map[chan Event]struct{}
	config        Config
	logger        logging.Logger
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	if validated, err := validateConfig(cfg, defaultConfig()); err == nil {
		cfg = validated
	} else {
		logger.Warn("history limit rejected, using default", logging.F("history_limit", historyLimit), logging.F("error", err))
		cfg = defaultConfig()
	}
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		config:      cfg,
		logger:      logger.With(logging.F("subsystem", "hub")),
	}
}

// Report implements Reporter and records a new telemetry sample.
func (h *Hub) Report(sample Sample) {
	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	h.broadcastLocked(Event{Type: EventSample, Payload: sample})
	h.mu.Unlock()
}

// ReportConstellation stores the latest IQ snapshot.
func (h *Hub) ReportConstellation(c Constellation) {
	h.mu.Lock()
	h.constellation = &c
	h.broadcastLocked(Event{Type: EventConstellation, Payload: decimateConstellation(c, h.config.MaxPoints)})
	h.mu.Unlock()
}

// ReportSummary stores the latest run summary.
func (h *Hub) ReportSummary(s Summary) {
	h.mu.Lock()
	h.summary = &s
	h.broadcastLocked(Event{Type: EventSummary, Payload: s})
	h.mu.Unlock()
}

// broadcastLocked never blocks: slow subscribers miss events.
func (h *Hub) broadcastLocked(ev Event) {
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// History returns a copy of stored telemetry samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Constellation returns the latest IQ snapshot, decimated to the configured
// point budget, and whether one exists.
func (h *Hub) Constellation() (Constellation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.constellation == nil {
		return Constellation{}, false
	}
	return decimateConstellation(*h.constellation, h.config.MaxPoints), true
}

// Summary returns the latest run summary and whether one exists.
func (h *Hub) Summary() (Summary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.summary == nil {
		return Summary{}, false
	}
	return *h.summary, true
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > cfg.HistoryLimit {
		h.history = h.history[len(h.history)-cfg.HistoryLimit:]
	}
}

func decimateConstellation(c Constellation, maxPoints int) Constellation {
	c.Raw1 = decimate(c.Raw1, maxPoints)
	c.Raw2 = decimate(c.Raw2, maxPoints)
	c.Corrected = decimate(c.Corrected, maxPoints)
	return c
}

// decimate keeps at most maxPoints evenly spaced points.
func decimate(points []IQPoint, maxPoints int) []IQPoint {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points
	}
	out := make([]IQPoint, maxPoints)
	step := float64(len(points)) / float64(maxPoints)
	for i := range out {
		out[i] = points[int(float64(i)*step)]
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.History())
}

func (h *Hub) handleSummary(w http.ResponseWriter, _ *http.Request) {
	s, ok := h.Summary()
	if !ok {
		http.Error(w, "no summary yet", http.StatusNotFound)
		return
	}
	writeJSON(w, s)
}

func (h *Hub) handleConstellation(w http.ResponseWriter, _ *http.Request) {
	c, ok := h.Constellation()
	if !ok {
		http.Error(w, "no constellation yet", http.StatusNotFound)
		return
	}
	writeJSON(w, c)
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	cfg, err := validateConfig(incoming, h.config)
	if err != nil {
		h.mu.Unlock()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.applyConfig(cfg)
	h.mu.Unlock()

	h.logger.Info("config updated", logging.F("history_limit", cfg.HistoryLimit), logging.F("max_points", cfg.MaxPoints))
	writeJSON(w, cfg)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// replay history for immediate display
	for _, sample := range h.History() {
		writeSSE(w, Event{Type: EventSample, Payload: sample})
	}
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
}
