package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gaspardpetit/pixrelay/internal/inflight"
	"github.com/gaspardpetit/pixrelay/internal/serverstate"
)

// StateResponse describes the relay for operators.
type StateResponse struct {
	serverstate.State
	Inflight  int64  `json:"inflight"`
	EngineURL string `json:"engine_url"`
}

// StateHandler serves state snapshots and streams.
type StateHandler struct {
	EngineURL string
	// Interval between stream events; defaults to two seconds.
	Interval time.Duration
}

func (h *StateHandler) snapshot() StateResponse {
	return StateResponse{
		State:     serverstate.Snapshot(),
		Inflight:  inflight.Generations().Load(),
		EngineURL: h.EngineURL,
	}
}

// GetState returns a JSON snapshot.
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

// GetStateStream streams snapshots as Server-Sent Events until the client
// disconnects.
func (h *StateHandler) GetStateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	interval := h.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	send := func() bool {
		b, err := json.Marshal(h.snapshot())
		if err != nil {
			return false
		}
		if _, err := w.Write(append(append([]byte("data: "), b...), '\n', '\n')); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

// Healthz reports the lifecycle status. It answers 503 unless ready.
func Healthz(w http.ResponseWriter, r *http.Request) {
	status := serverstate.GetState()
	code := http.StatusOK
	if status != serverstate.StatusReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}
