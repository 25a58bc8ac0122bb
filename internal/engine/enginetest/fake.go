// Package enginetest provides a scriptable fake image engine for tests.
package enginetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gaspardpetit/pixrelay/internal/engine"
)

// Engine is an in-process fake of the engine HTTP API. Zero values give a
// healthy engine that accepts prompts and never finishes them.
type Engine struct {
	URL string

	mu sync.Mutex

	// ObjectInfoStatus overrides the /object_info status code.
	ObjectInfoStatus int
	ObjectInfoBody   string
	// Checkpoints is the list reported for the checkpoint loader.
	Checkpoints []string
	// CheckpointBody replaces the generated checkpoint listing verbatim.
	CheckpointBody string
	// PromptStatus overrides the /prompt status code.
	PromptStatus int
	// PromptBody replaces the generated /prompt reply verbatim.
	PromptBody string
	// PromptID is returned by /prompt. Defaults to "prompt-1".
	PromptID string
	// History returns the record for the n-th history poll (1-based), or
	// nil when the engine has no record yet.
	History func(n int) *engine.HistoryEntry
	// HistoryStatus overrides the /history status code.
	HistoryStatus int
	// Queue returns the queue snapshot given the current history poll count.
	Queue func(n int) engine.Queue

	objectInfoCalls int
	promptCalls     int
	historyCalls    int
	queueCalls      int
	lastPrompt      []byte
}

// New starts a fake engine that is closed when the test ends.
func New(t testing.TB) *Engine {
	t.Helper()
	e := &Engine{}
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	e.URL = srv.URL
	return e
}

// Configure runs f with the engine locked.
func (e *Engine) Configure(f func(e *Engine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(e)
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case r.Method == http.MethodGet && r.URL.Path == engine.PathObjectInfo:
		e.objectInfoCalls++
		body := e.ObjectInfoBody
		if body == "" {
			body = `{}`
		}
		write(w, statusOr(e.ObjectInfoStatus), body)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, engine.PathObjectInfo+"/"):
		nodeType := strings.TrimPrefix(r.URL.Path, engine.PathObjectInfo+"/")
		body := e.CheckpointBody
		if body == "" {
			body = CheckpointListing(nodeType, e.Checkpoints...)
		}
		write(w, http.StatusOK, body)
	case r.Method == http.MethodPost && r.URL.Path == engine.PathPrompt:
		e.promptCalls++
		e.lastPrompt, _ = io.ReadAll(r.Body)
		body := e.PromptBody
		if body == "" {
			id := e.PromptID
			if id == "" {
				id = "prompt-1"
			}
			b, _ := json.Marshal(map[string]any{"prompt_id": id, "number": e.promptCalls, "node_errors": map[string]any{}})
			body = string(b)
		}
		write(w, statusOr(e.PromptStatus), body)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, engine.PathHistory):
		e.historyCalls++
		id := strings.TrimPrefix(r.URL.Path, engine.PathHistory)
		if e.HistoryStatus != 0 && e.HistoryStatus != http.StatusOK {
			write(w, e.HistoryStatus, `{"error":"history unavailable"}`)
			return
		}
		records := map[string]*engine.HistoryEntry{}
		if e.History != nil {
			if h := e.History(e.historyCalls); h != nil {
				records[id] = h
			}
		}
		b, _ := json.Marshal(records)
		write(w, http.StatusOK, string(b))
	case r.Method == http.MethodGet && r.URL.Path == engine.PathQueue:
		e.queueCalls++
		var q engine.Queue
		if e.Queue != nil {
			q = e.Queue(e.historyCalls)
		}
		write(w, http.StatusOK, QueueBody(q))
	default:
		http.NotFound(w, r)
	}
}

// Calls returns how many times each endpoint was hit.
func (e *Engine) Calls() (objectInfo, prompt, history, queue int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.objectInfoCalls, e.promptCalls, e.historyCalls, e.queueCalls
}

// PromptCalls returns the number of POST /prompt requests received.
func (e *Engine) PromptCalls() int {
	_, p, _, _ := e.Calls()
	return p
}

// LastPrompt returns the body of the most recent POST /prompt.
func (e *Engine) LastPrompt() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.lastPrompt...)
}

// CheckpointListing renders an object_info reply for a checkpoint loader.
func CheckpointListing(nodeType string, names ...string) string {
	if names == nil {
		names = []string{}
	}
	b, _ := json.Marshal(map[string]any{
		nodeType: map[string]any{
			"input": map[string]any{
				"required": map[string]any{
					"ckpt_name": []any{names, map[string]any{}},
				},
			},
		},
	})
	return string(b)
}

// QueueBody renders q in the engine's wire format.
func QueueBody(q engine.Queue) string {
	entries := func(ids []string) [][]any {
		out := make([][]any, 0, len(ids))
		for i, id := range ids {
			out = append(out, []any{i, id, map[string]any{}, map[string]any{}, []string{}})
		}
		return out
	}
	b, _ := json.Marshal(map[string]any{
		"queue_running": entries(q.Running),
		"queue_pending": entries(q.Pending),
	})
	return string(b)
}

// Success builds a successful history record whose node "9" produced imgs.
func Success(imgs ...engine.Image) *engine.HistoryEntry {
	if imgs == nil {
		imgs = []engine.Image{}
	}
	return &engine.HistoryEntry{
		Status:  engine.HistoryStatus{StatusStr: engine.StatusSuccess, Completed: true},
		Outputs: map[string]engine.NodeOutput{"9": {Images: imgs}},
	}
}

// Failure builds a failed history record carrying msg.
func Failure(msg string) *engine.HistoryEntry {
	b, _ := json.Marshal(msg)
	return &engine.HistoryEntry{
		Status:  engine.HistoryStatus{StatusStr: engine.StatusFailed, Error: b},
		Outputs: map[string]engine.NodeOutput{},
	}
}

// After returns a history script that reports nothing for n-1 polls and
// entry from the n-th poll on.
func After(n int, entry *engine.HistoryEntry) func(int) *engine.HistoryEntry {
	return func(poll int) *engine.HistoryEntry {
		if poll >= n {
			return entry
		}
		return nil
	}
}

func statusOr(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

func write(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
