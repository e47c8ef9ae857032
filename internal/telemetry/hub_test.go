package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/iqalign/internal/logging"
)

func newTestHub(historyLimit int) *Hub {
	return NewHub(historyLimit, logging.Discard())
}

func TestHubHistoryLimit(t *testing.T) {
	hub := newTestHub(3)
	for i := 1; i <= 5; i++ {
		hub.Report(Sample{Trial: i})
	}
	history := hub.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(history))
	}
	if history[0].Trial != 3 || history[2].Trial != 5 {
		t.Fatalf("expected the newest samples to survive, got %+v", history)
	}
}

func TestNewHubRejectsOversizedHistory(t *testing.T) {
	hub := newTestHub(maxHistoryLimit + 1)
	if got := hub.ConfigSnapshot().HistoryLimit; got != defaultConfig().HistoryLimit {
		t.Fatalf("expected default history limit, got %d", got)
	}
}

func TestHubSubscribeReceivesEvents(t *testing.T) {
	hub := newTestHub(10)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Report(Sample{Trial: 1, DelayEstimate: 42})
	hub.ReportSummary(Summary{Trials: 1})

	select {
	case ev := <-ch:
		if ev.Type != EventSample || ev.Payload.(Sample).DelayEstimate != 42 {
			t.Fatalf("unexpected first event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample event")
	}
	select {
	case ev := <-ch:
		if ev.Type != EventSummary {
			t.Fatalf("unexpected second event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for summary event")
	}

	cancel()
	cancel() // idempotent
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
}

func TestHandleHistory(t *testing.T) {
	hub := newTestHub(10)
	hub.Report(Sample{Trial: 1, DelayEstimate: 7, PhaseEstimateDeg: 12.5})

	rr := httptest.NewRecorder()
	hub.handleHistory(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	var got []Sample
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].DelayEstimate != 7 || got[0].PhaseEstimateDeg != 12.5 {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestHandleSummaryAndConstellationNotFound(t *testing.T) {
	hub := newTestHub(10)
	for _, h := range []http.HandlerFunc{hub.handleSummary, hub.handleConstellation} {
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	}
}

func TestHandleConstellationDecimates(t *testing.T) {
	hub := newTestHub(10)
	points := make([]IQPoint, 5000)
	for i := range points {
		points[i] = IQPoint{I: float64(i)}
	}
	hub.ReportConstellation(Constellation{Trial: 2, Raw1: points, Raw2: points[:10], Corrected: points})

	rr := httptest.NewRecorder()
	hub.handleConstellation(rr, httptest.NewRequest(http.MethodGet, "/api/constellation", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got Constellation
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	limit := defaultConfig().MaxPoints
	if len(got.Raw1) != limit || len(got.Corrected) != limit || len(got.Raw2) != 10 {
		t.Fatalf("unexpected point counts %d/%d/%d", len(got.Raw1), len(got.Raw2), len(got.Corrected))
	}
	if got.Raw1[0].I != 0 || got.Raw1[1].I != 2 {
		t.Fatalf("expected evenly spaced points, got %+v %+v", got.Raw1[0], got.Raw1[1])
	}
}

func TestHandleSetConfig(t *testing.T) {
	hub := newTestHub(10)
	for i := 0; i < 8; i++ {
		hub.Report(Sample{Trial: i})
	}

	body := bytes.NewBufferString(`{"historyLimit": 4}`)
	rr := httptest.NewRecorder()
	hub.handleSetConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	cfg := hub.ConfigSnapshot()
	if cfg.HistoryLimit != 4 || cfg.MaxPoints != defaultConfig().MaxPoints {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(hub.History()) != 4 {
		t.Fatalf("history should be trimmed to the new limit, got %d", len(hub.History()))
	}
}

func TestHandleSetConfigRejects(t *testing.T) {
	hub := newTestHub(10)
	tests := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{name: "method", method: http.MethodGet, body: "", code: http.StatusMethodNotAllowed},
		{name: "payload", method: http.MethodPost, body: "{", code: http.StatusBadRequest},
		{name: "history", method: http.MethodPost, body: `{"historyLimit": 20000}`, code: http.StatusBadRequest},
		{name: "points", method: http.MethodPost, body: `{"maxPoints": 3}`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			hub.handleSetConfig(rr, httptest.NewRequest(tt.method, "/api/config/update", strings.NewReader(tt.body)))
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
		})
	}
	if hub.ConfigSnapshot() != (Config{HistoryLimit: 10, MaxPoints: defaultConfig().MaxPoints}) {
		t.Fatalf("rejected updates must not change config: %+v", hub.ConfigSnapshot())
	}
}

func TestHandleLiveReplaysHistory(t *testing.T) {
	hub := newTestHub(10)
	hub.Report(Sample{Trial: 1, DelayEstimate: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/live", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	hub.handleLive(rr, req)

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "event: sample") || !strings.Contains(body, `"delayEstimate":3`) {
		t.Fatalf("expected replayed sample, got %q", body)
	}
}

func TestWebSocketReplaysHistory(t *testing.T) {
	hub := newTestHub(10)
	hub.Report(Sample{Trial: 1, DelayEstimate: 11})
	hub.Report(Sample{Trial: 2, DelayEstimate: 12})

	srv := httptest.NewServer(NewMux(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	for want := 11; want <= 12; want++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev struct {
			Type    string `json:"type"`
			Payload Sample `json:"payload"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Type != EventSample || ev.Payload.DelayEstimate != want {
			t.Fatalf("expected sample with delay %d, got %+v", want, ev)
		}
	}
}

func TestIndexServed(t *testing.T) {
	srv := httptest.NewServer(NewMux(newTestHub(10)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
