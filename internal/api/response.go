package api

import (
	"encoding/json"
	"net/http"

	"github.com/gaspardpetit/pixrelay/core/logx"
	"github.com/gaspardpetit/pixrelay/internal/generation"
)

// Kind reported when a request arrives during shutdown.
const kindDraining = "draining"

// ErrorResponse is the body of every failed generation.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Kind      string   `json:"kind"`
	Details   string   `json:"details,omitempty"`
	PromptID  string   `json:"promptId,omitempty"`
	Available []string `json:"available,omitempty"`
}

// GenerateResponse is the body of a successful generation.
type GenerateResponse struct {
	Status   string   `json:"status"`
	PromptID string   `json:"promptId"`
	Output   []string `json:"output"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Log.Error().Err(err).Msg("encode response")
	}
}

func writeGenerationError(w http.ResponseWriter, ge *generation.Error) {
	writeJSON(w, ge.HTTPStatus(), ErrorResponse{
		Error:     ge.Message(),
		Kind:      string(ge.Kind),
		Details:   ge.Detail,
		PromptID:  ge.PromptID,
		Available: ge.Available,
	})
}
