package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gaspardpetit/pixrelay/internal/engine"
	"github.com/gaspardpetit/pixrelay/internal/engine/enginetest"
	"github.com/gaspardpetit/pixrelay/internal/workflow"
)

func TestValidateOK(t *testing.T) {
	fake := enginetest.New(t)
	fake.Checkpoints = []string{"other.safetensors", workflow.DefaultCkptName}
	if err := Validate(context.Background(), engine.New(fake.URL), workflow.DefaultCkptName); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateHealthFailure(t *testing.T) {
	fake := enginetest.New(t)
	fake.ObjectInfoStatus = http.StatusInternalServerError
	fake.ObjectInfoBody = "engine exploded"
	err := Validate(context.Background(), engine.New(fake.URL), workflow.DefaultCkptName)
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v; want ConnectivityError", err)
	}
	if ce.Detail != "engine exploded" {
		t.Fatalf("detail = %q", ce.Detail)
	}
}

func TestValidateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	eng := engine.New(srv.URL)
	srv.Close()
	err := Validate(context.Background(), eng, workflow.DefaultCkptName)
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v; want ConnectivityError", err)
	}
}

func TestValidateMissingCheckpoint(t *testing.T) {
	fake := enginetest.New(t)
	fake.Checkpoints = []string{"a.safetensors", "b.safetensors"}
	err := Validate(context.Background(), engine.New(fake.URL), "missing.safetensors")
	var ce *CheckpointError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v; want CheckpointError", err)
	}
	if len(ce.Available) != 2 || ce.Available[0] != "a.safetensors" {
		t.Fatalf("available = %v", ce.Available)
	}
	if fake.PromptCalls() != 0 {
		t.Fatalf("prompt calls = %d", fake.PromptCalls())
	}
}

func TestValidateUnparseableListingProceeds(t *testing.T) {
	fake := enginetest.New(t)
	fake.CheckpointBody = `{"unexpected": true}`
	if err := Validate(context.Background(), engine.New(fake.URL), "anything.safetensors"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateCanceled(t *testing.T) {
	fake := enginetest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Validate(ctx, engine.New(fake.URL), workflow.DefaultCkptName); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
}
