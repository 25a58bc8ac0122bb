// Package preflight checks that the engine is reachable and has the requested
// checkpoint before any work is submitted.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gaspardpetit/pixrelay/core/logx"
	"github.com/gaspardpetit/pixrelay/internal/engine"
	"github.com/gaspardpetit/pixrelay/internal/workflow"
)

// Engine is the subset of the engine client used by Validate.
type Engine interface {
	BaseURL() string
	ObjectInfo(ctx context.Context) error
	CheckpointNames(ctx context.Context, nodeType string) ([]string, error)
}

// ConnectivityError means the engine could not be reached or answered the
// health probe with a non-2xx status. Detail holds the raw response body or
// the transport error text.
type ConnectivityError struct {
	BaseURL string
	Detail  string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("engine %s unreachable: %s", e.BaseURL, e.Detail)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// CheckpointError means the requested checkpoint is not installed.
type CheckpointError struct {
	Requested string
	Available []string
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %q not available; available: [%s]", e.Requested, strings.Join(e.Available, ", "))
}

// Validate probes the engine and confirms ckptName is installed. A checkpoint
// listing that cannot be read is logged and treated as unconfirmed rather
// than fatal.
func Validate(ctx context.Context, eng Engine, ckptName string) error {
	log := logx.Log.With().Str("engine", eng.BaseURL()).Logger()

	if err := eng.ObjectInfo(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectivityError{BaseURL: eng.BaseURL(), Detail: detail(err), Err: err}
	}

	names, err := eng.CheckpointNames(ctx, workflow.ClassCheckpointLoader)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var se *engine.StatusError
		if !errors.Is(err, engine.ErrMalformed) && !errors.As(err, &se) {
			return &ConnectivityError{BaseURL: eng.BaseURL(), Detail: detail(err), Err: err}
		}
		log.Warn().Err(err).Str("ckpt", ckptName).Msg("checkpoint listing unavailable; proceeding unconfirmed")
		return nil
	}
	for _, n := range names {
		if n == ckptName {
			log.Debug().Str("ckpt", ckptName).Int("available", len(names)).Msg("checkpoint confirmed")
			return nil
		}
	}
	return &CheckpointError{Requested: ckptName, Available: names}
}

func detail(err error) string {
	var se *engine.StatusError
	if errors.As(err, &se) {
		if se.Body != "" {
			return se.Body
		}
		return fmt.Sprintf("status %d", se.StatusCode)
	}
	return err.Error()
}
