// Package engine is an HTTP client for the image engine's prompt, queue and
// history API.
package engine

import (
	"encoding/json"
	"strings"
)

// API paths.
const (
	PathObjectInfo = "/object_info"
	PathPrompt     = "/prompt"
	PathQueue      = "/queue"
	PathHistory    = "/history/"
	PathView       = "/view"
)

// Status strings reported in history records.
const (
	StatusSuccess = "success"
	StatusFailed  = "error"
)

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Prompt   any    `json:"prompt"`
	ClientID string `json:"client_id"`
}

// PromptResponse is the engine's reply to POST /prompt.
type PromptResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// HasNodeErrors reports whether the engine flagged any node as invalid.
func (r PromptResponse) HasNodeErrors() bool {
	s := strings.TrimSpace(string(r.NodeErrors))
	return s != "" && s != "{}" && s != "null"
}

// Queue is the snapshot returned by GET /queue.
type Queue struct {
	Running []string
	Pending []string
}

// UnmarshalJSON extracts the prompt id (second element) of each queue entry.
func (q *Queue) UnmarshalJSON(b []byte) error {
	var wire struct {
		Running [][]json.RawMessage `json:"queue_running"`
		Pending [][]json.RawMessage `json:"queue_pending"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	q.Running = entryIDs(wire.Running)
	q.Pending = entryIDs(wire.Pending)
	return nil
}

func entryIDs(entries [][]json.RawMessage) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if len(e) < 2 {
			continue
		}
		var id string
		if err := json.Unmarshal(e[1], &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsRunning reports whether id occupies the worker.
func (q Queue) IsRunning(id string) bool { return contains(q.Running, id) }

// IsPending reports whether id waits in the queue.
func (q Queue) IsPending(id string) bool { return contains(q.Pending, id) }

// Position returns the 1-based pending position of id, or 0.
func (q Queue) Position(id string) int {
	for i, p := range q.Pending {
		if p == id {
			return i + 1
		}
	}
	return 0
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// HistoryEntry is a single job record from GET /history/{id}.
type HistoryEntry struct {
	Status  HistoryStatus         `json:"status"`
	Outputs map[string]NodeOutput `json:"outputs"`
}

// HistoryStatus carries the job's execution status. Engines report it as
// status_str or status; error details come either inline or as an
// execution_error message.
type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Status    string            `json:"status"`
	Completed bool              `json:"completed"`
	Error     json.RawMessage   `json:"error,omitempty"`
	Messages  []json.RawMessage `json:"messages,omitempty"`
}

// State returns the lower-cased status string, preferring status_str.
func (s HistoryStatus) State() string {
	if s.StatusStr != "" {
		return strings.ToLower(s.StatusStr)
	}
	return strings.ToLower(s.Status)
}

// ErrorMessage returns the engine-supplied failure message, or "".
func (s HistoryStatus) ErrorMessage() string {
	if msg := errorText(s.Error); msg != "" {
		return msg
	}
	for _, m := range s.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(m, &pair); err != nil || len(pair) < 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(pair[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var detail struct {
			NodeType         string `json:"node_type"`
			ExceptionType    string `json:"exception_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &detail); err != nil {
			continue
		}
		msg := strings.TrimSpace(detail.ExceptionMessage)
		if detail.ExceptionType != "" {
			msg = detail.ExceptionType + ": " + msg
		}
		if detail.NodeType != "" {
			msg = detail.NodeType + ": " + msg
		}
		return msg
	}
	return ""
}

// errorText accepts a plain string or an object carrying a message.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Message != "" || obj.Details != "") {
		if obj.Details != "" && obj.Message != "" {
			return obj.Message + ": " + obj.Details
		}
		return obj.Message + obj.Details
	}
	return string(raw)
}

// NodeOutput is the output record of one node.
type NodeOutput struct {
	Images []Image `json:"images"`
}

// Image describes a stored image retrievable through the view endpoint.
type Image struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}
