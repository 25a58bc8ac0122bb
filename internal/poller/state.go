// Package poller observes a submitted engine job until it reaches a terminal
// state or its deadline passes.
package poller

import "time"

// State is a state of the polling state machine. Every state except Polling
// is terminal.
type State int

const (
	Polling State = iota
	Success
	EngineError
	StuckRunning
	StuckPending
	Lost
	Timeout
)

var stateNames = map[State]string{
	Polling:      "polling",
	Success:      "success",
	EngineError:  "engine_error",
	StuckRunning: "stuck_running",
	StuckPending: "stuck_pending",
	Lost:         "lost",
	Timeout:      "timeout",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether s ends the loop.
func (s State) Terminal() bool { return s != Polling }

// Default timing.
const (
	DefaultInterval        = 500 * time.Millisecond
	DefaultDeadline        = 240 * time.Second
	DefaultQueueCheckEvery = 5
	DefaultQueueGracePolls = 10
	DefaultLostGracePolls  = 25

	// Stuck thresholds as fractions of the deadline's poll budget.
	StuckRunningFraction = 0.75
	StuckPendingFraction = 0.5
)

// Params tunes the loop. Thresholds are expressed in polls since the first
// history request.
type Params struct {
	Interval time.Duration
	Deadline time.Duration
	// QueueCheckEvery is how often, in polls, the queue is consulted once
	// QueueGracePolls have passed.
	QueueCheckEvery int
	QueueGracePolls int
	// StuckRunningPolls is the poll count after which a job still running
	// is declared stuck.
	StuckRunningPolls int
	// StuckPendingPolls is the poll count after which a job still pending
	// behind another running job is declared stuck.
	StuckPendingPolls int
	// LostGracePolls is the poll count after which a job absent from both
	// the queue and history is declared lost.
	LostGracePolls int
}

// DefaultParams returns the default timing with derived stuck thresholds.
func DefaultParams() Params {
	return ParamsFor(DefaultInterval, DefaultDeadline)
}

// ParamsFor derives the stuck thresholds from interval and deadline.
func ParamsFor(interval, deadline time.Duration) Params {
	budget := 1
	if interval > 0 {
		budget = int(deadline / interval)
	}
	return Params{
		Interval:          interval,
		Deadline:          deadline,
		QueueCheckEvery:   DefaultQueueCheckEvery,
		QueueGracePolls:   DefaultQueueGracePolls,
		StuckRunningPolls: int(StuckRunningFraction * float64(budget)),
		StuckPendingPolls: int(StuckPendingFraction * float64(budget)),
		LostGracePolls:    DefaultLostGracePolls,
	}
}

// normalized fills zero fields from the defaults for p's interval/deadline.
func (p Params) normalized() Params {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.Deadline <= 0 {
		p.Deadline = DefaultDeadline
	}
	d := ParamsFor(p.Interval, p.Deadline)
	if p.QueueCheckEvery <= 0 {
		p.QueueCheckEvery = d.QueueCheckEvery
	}
	if p.QueueGracePolls < 0 {
		p.QueueGracePolls = 0
	}
	if p.StuckRunningPolls <= 0 {
		p.StuckRunningPolls = d.StuckRunningPolls
	}
	if p.StuckPendingPolls <= 0 {
		p.StuckPendingPolls = d.StuckPendingPolls
	}
	if p.LostGracePolls <= 0 {
		p.LostGracePolls = d.LostGracePolls
	}
	return p
}
