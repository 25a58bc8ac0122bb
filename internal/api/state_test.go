package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gaspardpetit/pixrelay/internal/inflight"
	"github.com/gaspardpetit/pixrelay/internal/serverstate"
)

func TestGetState(t *testing.T) {
	resetState(t)
	serverstate.RecordEngine(true)
	inflight.Generations().Inc()
	defer inflight.Generations().Dec()

	h := &StateHandler{EngineURL: "http://engine.test"}
	rr := httptest.NewRecorder()
	h.GetState(rr, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var st StateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != serverstate.StatusReady || st.Inflight != 1 || st.EngineURL != "http://engine.test" || st.Engine != serverstate.EngineReachable {
		t.Fatalf("state = %+v", st)
	}
}

func TestGetStateStream(t *testing.T) {
	resetState(t)
	h := &StateHandler{EngineURL: "http://engine.test", Interval: 5 * time.Millisecond}
	ts := httptest.NewServer(http.HandlerFunc(h.GetStateStream))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	sc := bufio.NewScanner(resp.Body)
	events := 0
	for sc.Scan() && events < 2 {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var st StateResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if st.EngineURL != "http://engine.test" {
			t.Fatalf("event = %+v", st)
		}
		events++
	}
	if events < 2 {
		t.Fatalf("received %d events; want 2", events)
	}
}

func TestHealthz(t *testing.T) {
	serverstate.UseStore(serverstate.NewMemoryStore())
	tests := []struct {
		setup func()
		code  int
		want  string
	}{
		{func() {}, http.StatusServiceUnavailable, serverstate.StatusNotReady},
		{func() { serverstate.SetState(serverstate.StatusReady) }, http.StatusOK, serverstate.StatusReady},
		{serverstate.StartDrain, http.StatusServiceUnavailable, serverstate.StatusDraining},
	}
	for _, tt := range tests {
		tt.setup()
		rr := httptest.NewRecorder()
		Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != tt.code || !strings.Contains(rr.Body.String(), tt.want) {
			t.Fatalf("healthz = %d %s; want %d %s", rr.Code, rr.Body.String(), tt.code, tt.want)
		}
	}
}
