package generation

import (
	"context"
	"errors"
	"time"

	"github.com/gaspardpetit/pixrelay/core/logx"
	"github.com/gaspardpetit/pixrelay/internal/engine"
	"github.com/gaspardpetit/pixrelay/internal/workflow"
)

// DefaultSubmitGrace is the pause between submission and the advisory queue
// sample.
const DefaultSubmitGrace = 300 * time.Millisecond

// Submitter is the subset of the engine client used by Submit.
type Submitter interface {
	QueuePrompt(ctx context.Context, workflow any) (engine.PromptResponse, error)
	Queue(ctx context.Context) (engine.Queue, error)
}

// Submit posts g to the engine and returns the job's prompt id. It never
// returns an id the engine did not supply. After a successful submission it
// waits grace and samples the queue once for the log; that sample never
// changes the result.
func Submit(ctx context.Context, eng Submitter, g *workflow.Graph, grace time.Duration) (string, error) {
	pr, err := eng.QueuePrompt(ctx, g)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var se *engine.StatusError
		if errors.As(err, &se) {
			return "", &Error{Kind: KindSubmission, Detail: se.Body}
		}
		return "", &Error{Kind: KindSubmission, Detail: err.Error()}
	}
	if pr.PromptID == "" {
		return "", &Error{Kind: KindSubmission, Detail: "engine accepted the job without a prompt_id"}
	}
	if pr.HasNodeErrors() {
		return "", &Error{Kind: KindSubmission, Detail: string(pr.NodeErrors), PromptID: pr.PromptID}
	}
	log := logx.Prompt(pr.PromptID)
	log.Info().Int("number", pr.Number).Int("nodes", g.Len()).Msg("job submitted")

	if grace > 0 {
		t := time.NewTimer(grace)
		select {
		case <-ctx.Done():
			t.Stop()
			return pr.PromptID, nil
		case <-t.C:
		}
	}
	if q, err := eng.Queue(ctx); err != nil {
		log.Debug().Err(err).Msg("post-submit queue sample failed")
	} else {
		log.Debug().Int("running", len(q.Running)).Int("pending", len(q.Pending)).
			Bool("running_self", q.IsRunning(pr.PromptID)).Int("position", q.Position(pr.PromptID)).
			Msg("post-submit queue sample")
	}
	return pr.PromptID, nil
}
