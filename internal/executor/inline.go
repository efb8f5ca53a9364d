package executor

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/expharness/internal/experiment"
)

// Inline runs the experiment on a goroutine in the calling process.
//
// The experiment's context carries the deadline, but Go code cannot be
// stopped from outside: on timeout the goroutine is abandoned and whatever
// it eventually returns is dropped. Use Process for untrusted or
// uninterruptible experiments.
type Inline struct{}

// NewInline creates an inline executor
func NewInline() *Inline {
	return &Inline{}
}

type inlineResult struct {
	output experiment.Output
	err    error
}

// Execute implements Executor
func (in *Inline) Execute(ctx context.Context, exp experiment.Experiment, params experiment.Parameters, maxDuration time.Duration) (*Outcome, error) {
	if err := validateDuration(maxDuration); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// nil channel: never fires when unbounded
	var deadline <-chan struct{}
	if maxDuration != NoTimeout {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithTimeout(runCtx, maxDuration)
		defer cancelDeadline()
		deadline = runCtx.Done()
	}

	o := &Outcome{StartTime: time.Now()}
	o.emit(StateRunning, "running inline")

	done := make(chan inlineResult, 1)
	go func() {
		out, err := invoke(runCtx, exp, params)
		if err == nil {
			out, err = checkSerializable(out)
		}
		done <- inlineResult{output: out, err: err}
	}()

	select {
	case r := <-done:
		o.complete()

		// An experiment that gave up because its context expired still timed out.
		if r.err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return in.timedOut(o, maxDuration), nil
		}
		if r.err != nil {
			o.Status = StatusFunctionError
			o.Output = ErrorOutput(r.err.Error())
			o.ExitReason = ExitReasonError
			o.emit(StateFailed, r.err.Error())
			return o, nil
		}
		o.Status = StatusCompleted
		o.Output = r.output
		o.ExitReason = ExitReasonSuccess
		o.emit(StateCompleted, "completed successfully")
		return o, nil

	case <-deadline:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.complete()
		return in.timedOut(o, maxDuration), nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (in *Inline) timedOut(o *Outcome, maxDuration time.Duration) *Outcome {
	o.Status = StatusTimedOut
	o.Output = TimeoutOutput(maxDuration)
	o.ExitReason = ExitReasonTimeout
	o.emit(StateKilled, "deadline exceeded, goroutine abandoned")
	return o
}
