// Package executor runs one experiment invocation under a wall-clock bound.
//
// Errors raised by the experiment never surface as Go errors: they become
// the outcome's output record. A returned error always means the executor
// itself could not do its job.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/psantana5/expharness/internal/experiment"
	"github.com/psantana5/expharness/internal/observe"
)

// NoTimeout disables the deadline
const NoTimeout = time.Duration(math.MaxInt64)

// TimeoutMessage is the error text of a timeout record
const TimeoutMessage = "Experiment timed out"

var (
	// ErrInvalidDuration is returned for a zero or negative max duration
	ErrInvalidDuration = errors.New("max duration must be positive")

	// ErrNotRegistered is returned when a process worker could not resolve the experiment
	ErrNotRegistered = errors.New("experiment not registered")
)

// Executor runs one experiment invocation
type Executor interface {
	Execute(ctx context.Context, exp experiment.Experiment, params experiment.Parameters, maxDuration time.Duration) (*Outcome, error)
}

// Outcome is the result of one invocation. Set once, never changed.
type Outcome struct {
	Status     Status            `json:"status"`
	Output     experiment.Output `json:"output"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	PID        int               `json:"pid,omitempty"`
	ExitCode   int               `json:"exit_code"`
	ExitReason ExitReason        `json:"exit_reason,omitempty"`
	Usage      *observe.Usage    `json:"usage,omitempty"`
	Events     []LifecycleEvent  `json:"events,omitempty"`
}

// Duration returns how long the invocation ran
func (o *Outcome) Duration() time.Duration {
	return o.EndTime.Sub(o.StartTime)
}

// complete records the end time. Only the first call counts.
func (o *Outcome) complete() {
	if o.EndTime.IsZero() {
		o.EndTime = time.Now()
	}
}

func (o *Outcome) emit(state LifecycleState, message string) {
	o.Events = append(o.Events, LifecycleEvent{
		PID:       o.PID,
		State:     state,
		Timestamp: time.Now(),
		Message:   message,
	})
}

// ErrorOutput is the record of a failed experiment
func ErrorOutput(message string) experiment.Output {
	return experiment.Output{"error": message}
}

// TimeoutOutput is the record of an experiment killed on deadline
func TimeoutOutput(maxDuration time.Duration) experiment.Output {
	return experiment.Output{
		"error": TimeoutMessage,
		"timeout_info": map[string]interface{}{
			"timeout_seconds": maxDuration.Seconds(),
		},
	}
}

func validateDuration(maxDuration time.Duration) error {
	if maxDuration <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, maxDuration)
	}
	return nil
}

// invoke calls the experiment, turning a panic into an error
func invoke(ctx context.Context, exp experiment.Experiment, params experiment.Parameters) (out experiment.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return exp.Execute(ctx, params)
}

// checkSerializable rejects outputs that cannot be written as JSON
func checkSerializable(out experiment.Output) (experiment.Output, error) {
	if out == nil {
		return experiment.Output{}, nil
	}
	if _, err := json.Marshal(out); err != nil {
		return nil, fmt.Errorf("output is not JSON-serializable: %w", err)
	}
	return out, nil
}
