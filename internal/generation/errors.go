// Package generation runs one image generation end to end: compile, preflight,
// submit, poll and classify.
package generation

import (
	"context"
	"errors"
	"net/http"

	"github.com/gaspardpetit/pixrelay/internal/poller"
	"github.com/gaspardpetit/pixrelay/internal/preflight"
)

// Kind names a class of generation failure.
type Kind string

const (
	KindValidation            Kind = "validation_error"
	KindConnectivity          Kind = "connectivity_error"
	KindCheckpointUnavailable Kind = "checkpoint_unavailable"
	KindSubmission            Kind = "submission_error"
	KindEngine                Kind = "engine_error"
	KindStuckRunning          Kind = "stuck_running"
	KindStuckPending          Kind = "stuck_pending"
	KindLost                  Kind = "lost"
	KindTimeout               Kind = "timeout"
)

var kindMessages = map[Kind]string{
	KindValidation:            "invalid request",
	KindConnectivity:          "image engine unreachable",
	KindCheckpointUnavailable: "requested checkpoint is not available",
	KindSubmission:            "image engine rejected the job",
	KindEngine:                "generation failed in the image engine",
	KindStuckRunning:          "image engine worker appears stuck on this job",
	KindStuckPending:          "job is stuck behind another job in the image engine queue",
	KindLost:                  "job completed but results not found",
	KindTimeout:               "generation timed out",
}

// Error is a classified generation failure. Detail is passed through from
// the engine verbatim.
type Error struct {
	Kind     Kind
	Detail   string
	PromptID string
	// Available lists installed checkpoints for KindCheckpointUnavailable.
	Available []string
}

func (e *Error) Error() string {
	msg := e.Message()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Message is the short, caller-facing description of the kind.
func (e *Error) Message() string {
	if m, ok := kindMessages[e.Kind]; ok {
		return m
	}
	return string(e.Kind)
}

// HTTPStatus maps the kind to the status returned to callers.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindCheckpointUnavailable:
		return http.StatusBadRequest
	case KindConnectivity, KindSubmission:
		return http.StatusBadGateway
	case KindStuckRunning, KindStuckPending, KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Outcome is a successful generation.
type Outcome struct {
	PromptID  string
	ImageURLs []string
}

var stateKinds = map[poller.State]Kind{
	poller.EngineError:  KindEngine,
	poller.StuckRunning: KindStuckRunning,
	poller.StuckPending: KindStuckPending,
	poller.Lost:         KindLost,
	poller.Timeout:      KindTimeout,
}

// Classify converts a terminal poll result into an Outcome or *Error.
func Classify(r poller.Result) (Outcome, error) {
	if r.State == poller.Success {
		urls := r.ImageURLs
		if urls == nil {
			urls = []string{}
		}
		return Outcome{PromptID: r.PromptID, ImageURLs: urls}, nil
	}
	kind, ok := stateKinds[r.State]
	if !ok {
		kind = KindEngine
	}
	return Outcome{}, &Error{Kind: kind, Detail: r.Detail, PromptID: r.PromptID}
}

// classifyPreflight converts preflight failures. Context errors pass through.
func classifyPreflight(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ce *preflight.CheckpointError
	if errors.As(err, &ce) {
		return &Error{Kind: KindCheckpointUnavailable, Detail: ce.Error(), Available: ce.Available}
	}
	var conn *preflight.ConnectivityError
	if errors.As(err, &conn) {
		return &Error{Kind: KindConnectivity, Detail: conn.Detail}
	}
	return &Error{Kind: KindConnectivity, Detail: err.Error()}
}
