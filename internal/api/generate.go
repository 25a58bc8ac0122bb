// Package api serves the relay's HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gaspardpetit/pixrelay/core/logx"
	"github.com/gaspardpetit/pixrelay/internal/generation"
	"github.com/gaspardpetit/pixrelay/internal/inflight"
	"github.com/gaspardpetit/pixrelay/internal/serverstate"
	"github.com/gaspardpetit/pixrelay/internal/workflow"
)

// Generator runs one generation to completion.
type Generator interface {
	Generate(ctx context.Context, raw workflow.RawRequest) (generation.Outcome, error)
	EngineURL() string
}

// maxBodyBytes bounds the request body.
const maxBodyBytes = 1 << 20

// GenerateHandler handles POST /api/generate. timeout bounds the whole
// request; zero disables it.
func GenerateHandler(gen Generator, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counter := inflight.Generations()
		if !admit(counter) {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "server is draining", Kind: kindDraining})
			return
		}
		defer counter.Dec()

		var raw workflow.RawRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
			writeGenerationError(w, &generation.Error{Kind: generation.KindValidation, Detail: "malformed request body: " + err.Error()})
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		log := logx.Log.With().Str("request_id", chiMiddleware.GetReqID(r.Context())).Logger()

		out, err := gen.Generate(ctx, raw)
		recordEngineHealth(err)
		if err == nil {
			log.Info().Str("prompt_id", out.PromptID).Int("images", len(out.ImageURLs)).Msg("generation succeeded")
			writeJSON(w, http.StatusOK, GenerateResponse{Status: "succeeded", PromptID: out.PromptID, Output: out.ImageURLs})
			return
		}

		var ge *generation.Error
		switch {
		case errors.As(err, &ge):
			log.Warn().Str("kind", string(ge.Kind)).Str("prompt_id", ge.PromptID).Str("detail", ge.Detail).Msg("generation failed")
			writeGenerationError(w, ge)
		case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
			log.Warn().Dur("timeout", timeout).Msg("generation exceeded request timeout")
			writeGenerationError(w, &generation.Error{Kind: generation.KindTimeout, Detail: "request timeout exceeded"})
		default:
			// The caller went away or the server is terminating.
			log.Info().Err(err).Msg("generation canceled")
		}
	}
}

// admit counts the request before consulting the drain flag, so a drain
// waiting on counter either sees this request or it is rejected.
func admit(counter *inflight.Counter) bool {
	counter.Inc()
	if serverstate.IsDraining() {
		counter.Dec()
		return false
	}
	return true
}

func recordEngineHealth(err error) {
	var ge *generation.Error
	switch {
	case err == nil:
		serverstate.RecordEngine(true)
	case errors.As(err, &ge):
		switch ge.Kind {
		case generation.KindValidation:
		case generation.KindConnectivity:
			serverstate.RecordEngine(false)
		default:
			serverstate.RecordEngine(true)
		}
	}
}
