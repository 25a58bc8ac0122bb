package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/pixrelay/core/logx"
	"github.com/gaspardpetit/pixrelay/internal/engine"
	"github.com/gaspardpetit/pixrelay/internal/metrics"
)

// Engine is the subset of the engine client the loop needs.
type Engine interface {
	History(ctx context.Context, promptID string) (engine.HistoryEntry, bool, error)
	Queue(ctx context.Context) (engine.Queue, error)
	ViewURL(img engine.Image) string
}

// Result is the terminal outcome of a poll loop.
type Result struct {
	State     State
	PromptID  string
	ImageURLs []string
	// Detail carries the engine message or a description of the anomaly.
	Detail string
	// BlockingJob is the running job id when State is StuckPending.
	BlockingJob string
	Polls       int
	Elapsed     time.Duration
}

// pollContext is the mutable state of one loop.
type pollContext struct {
	startedAt time.Time
	pollCount int
	lastQueue *engine.Queue
}

func (pc *pollContext) elapsed() time.Duration { return time.Since(pc.startedAt) }

// queueDue reports whether this poll should consult the queue.
func (pc *pollContext) queueDue(p Params) bool {
	return pc.pollCount >= p.QueueGracePolls && pc.pollCount%p.QueueCheckEvery == 0
}

// Run polls promptID until it reaches a terminal state. It returns the
// context error, and no Result, when ctx is canceled before that.
func Run(ctx context.Context, eng Engine, promptID string, p Params) (Result, error) {
	p = p.normalized()
	log := logx.Prompt(promptID)
	pc := &pollContext{startedAt: time.Now()}

	finish := func(r Result) (Result, error) {
		r.PromptID = promptID
		r.Polls = pc.pollCount
		r.Elapsed = pc.elapsed()
		metrics.ObservePolls(r.State.String(), r.Polls)
		ev := log.Info()
		if r.State != Success {
			ev = log.Warn()
		}
		if pc.lastQueue != nil {
			ev = ev.Int("last_running", len(pc.lastQueue.Running)).Int("last_pending", len(pc.lastQueue.Pending))
		}
		ev.Str("state", r.State.String()).Int("polls", r.Polls).Dur("elapsed", r.Elapsed).Str("detail", r.Detail).Msg("job resolved")
		return r, nil
	}

	// Engine calls share the job deadline so a slow reply cannot push the
	// result past it.
	callCtx, cancel := context.WithDeadline(ctx, pc.startedAt.Add(p.Deadline))
	defer cancel()
	timedOut := func() (Result, error) {
		return finish(Result{State: Timeout, Detail: fmt.Sprintf("no result after %s (%d polls)", p.Deadline, pc.pollCount)})
	}
	// interrupted resolves a failed engine call made with callCtx: the
	// caller's cancellation wins, then the deadline.
	interrupted := func() (Result, bool, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, true, err
		}
		if callCtx.Err() != nil {
			r, err := timedOut()
			return r, true, err
		}
		return Result{}, false, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if pc.elapsed() >= p.Deadline {
			return timedOut()
		}
		pc.pollCount++

		entry, found, err := eng.History(callCtx, promptID)
		if err != nil {
			if r, ok, err := interrupted(); ok {
				return r, err
			}
			return finish(Result{State: EngineError, Detail: historyDetail(err)})
		}
		if found {
			if r := resolve(entry, eng); r.State.Terminal() {
				return finish(r)
			}
		}

		if pc.queueDue(p) {
			r, err := checkQueue(callCtx, eng, promptID, found, pc, p, log)
			if err != nil {
				if r, ok, err := interrupted(); ok {
					return r, err
				}
				return Result{}, err
			}
			if r.State.Terminal() {
				return finish(r)
			}
		}

		wait := p.Interval
		if remaining := p.Deadline - pc.elapsed(); remaining < wait {
			wait = max(remaining, 0)
		}
		if err := sleep(ctx, wait); err != nil {
			return Result{}, err
		}
	}
}

// resolve classifies a history record. Polling means unresolved.
func resolve(entry engine.HistoryEntry, eng Engine) Result {
	switch entry.Status.State() {
	case engine.StatusSuccess:
		return Result{State: Success, ImageURLs: Extract(entry.Outputs, eng.ViewURL)}
	case engine.StatusFailed:
		msg := entry.Status.ErrorMessage()
		if msg == "" {
			msg = "execution failed without an error message"
		}
		return Result{State: EngineError, Detail: msg}
	case "":
		if len(entry.Outputs) > 0 {
			return Result{State: Success, ImageURLs: Extract(entry.Outputs, eng.ViewURL)}
		}
	}
	return Result{State: Polling}
}

// checkQueue inspects the queue snapshot for stuck or vanished jobs. Queue
// fetch failures are advisory and only logged.
func checkQueue(ctx context.Context, eng Engine, promptID string, found bool, pc *pollContext, p Params, log zerolog.Logger) (Result, error) {
	q, err := eng.Queue(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		log.Debug().Err(err).Int("poll", pc.pollCount).Msg("queue snapshot failed")
		return Result{State: Polling}, nil
	}
	pc.lastQueue = &q
	log.Debug().Int("poll", pc.pollCount).Int("running", len(q.Running)).Int("pending", len(q.Pending)).Int("position", q.Position(promptID)).Msg("queue snapshot")

	switch {
	case q.IsRunning(promptID):
		if pc.pollCount >= p.StuckRunningPolls {
			return Result{State: StuckRunning, Detail: fmt.Sprintf("job still running after %d polls (%s)", pc.pollCount, pc.elapsed().Round(time.Millisecond))}, nil
		}
	case q.IsPending(promptID):
		if len(q.Running) > 0 && pc.pollCount >= p.StuckPendingPolls {
			blocker := q.Running[0]
			return Result{
				State:       StuckPending,
				BlockingJob: blocker,
				Detail:      fmt.Sprintf("job pending at position %d behind running job %s after %d polls", q.Position(promptID), blocker, pc.pollCount),
			}, nil
		}
	default:
		if !found && pc.pollCount >= p.LostGracePolls {
			return recheckLost(ctx, eng, promptID, pc, p, log)
		}
	}
	return Result{State: Polling}, nil
}

// recheckLost performs the final authoritative history lookup for a job that
// left the queue without a record.
func recheckLost(ctx context.Context, eng Engine, promptID string, pc *pollContext, p Params, log zerolog.Logger) (Result, error) {
	entry, found, err := eng.History(ctx, promptID)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{State: EngineError, Detail: historyDetail(err)}, nil
	}
	if found {
		return resolve(entry, eng), nil
	}
	// Indistinguishable from a grace period too short for this engine.
	log.Warn().Int("poll", pc.pollCount).Int("lost_grace_polls", p.LostGracePolls).
		Msg("job left the queue without a history record; engine anomaly or insufficient grace period")
	return Result{State: Lost, Detail: "completed but results not found"}, nil
}

func historyDetail(err error) string {
	var se *engine.StatusError
	if errors.As(err, &se) && se.Body != "" {
		return se.Body
	}
	return err.Error()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
