package generation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gaspardpetit/pixrelay/core/logx"
	"github.com/gaspardpetit/pixrelay/internal/engine"
	"github.com/gaspardpetit/pixrelay/internal/metrics"
	"github.com/gaspardpetit/pixrelay/internal/poller"
	"github.com/gaspardpetit/pixrelay/internal/preflight"
	"github.com/gaspardpetit/pixrelay/internal/workflow"
)

// Config holds the per-service settings. EngineURL is required.
type Config struct {
	EngineURL   string
	ClientID    string
	DefaultCkpt string
	SubmitGrace time.Duration
	Poll        poller.Params
	HTTPClient  *http.Client
	// Seed overrides the random seed used when a request has none.
	Seed func() int64
}

// Service runs generations against one engine.
type Service struct {
	cfg Config
}

// NewService returns a Service for cfg.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// EngineURL returns the engine base URL the service targets.
func (s *Service) EngineURL() string { return s.cfg.EngineURL }

// Generate runs raw to completion. Failures are returned as *Error; a
// canceled ctx is returned as the context error with no outcome.
func (s *Service) Generate(ctx context.Context, raw workflow.RawRequest) (Outcome, error) {
	start := time.Now()
	metrics.GenerationStart()
	out, err := s.generate(ctx, s.cfg.EngineURL, raw)
	label := "succeeded"
	var ge *Error
	switch {
	case errors.As(err, &ge):
		label = string(ge.Kind)
	case err != nil:
		label = "canceled"
	}
	metrics.GenerationEnd(label, time.Since(start))
	return out, err
}

func (s *Service) generate(ctx context.Context, engineURL string, raw workflow.RawRequest) (Outcome, error) {
	req, err := workflow.Normalize(raw, workflow.NormalizeOptions{CkptName: s.cfg.DefaultCkpt, Seed: s.cfg.Seed})
	if err != nil {
		return Outcome{}, &Error{Kind: KindValidation, Detail: err.Error()}
	}
	graph := workflow.Build(req)
	if err := graph.Validate(); err != nil {
		return Outcome{}, &Error{Kind: KindValidation, Detail: err.Error()}
	}

	eng := engine.New(engineURL, engine.WithClientID(s.cfg.ClientID), engine.WithHTTPClient(s.cfg.HTTPClient))
	log := logx.Log.With().Str("engine", engineURL).Logger()
	log.Debug().Str("ckpt", req.Settings.CkptName).Int("adapters", len(req.Settings.EnabledAdapters())).
		Int("width", req.Settings.Width).Int("height", req.Settings.Height).Int("steps", req.Settings.Steps).
		Int64("seed", req.Settings.Seed).Msg("graph compiled")

	if err := preflight.Validate(ctx, eng, req.Settings.CkptName); err != nil {
		return Outcome{}, classifyPreflight(err)
	}

	grace := s.cfg.SubmitGrace
	if grace < 0 {
		grace = 0
	}
	promptID, err := Submit(ctx, eng, graph, grace)
	if err != nil {
		return Outcome{}, err
	}

	res, err := poller.Run(ctx, eng, promptID, s.cfg.Poll)
	if err != nil {
		plog := logx.Prompt(promptID)
		plog.Info().Err(err).Msg("polling abandoned")
		return Outcome{}, err
	}
	return Classify(res)
}
