package report

import (
	"time"

	"github.com/psantana5/expharness/internal/executor"
	"github.com/psantana5/expharness/internal/experiment"
	"github.com/psantana5/expharness/internal/logging"
	"github.com/psantana5/expharness/internal/observe"
	"github.com/psantana5/expharness/internal/store"
)

// Result is one repetition's record. Set once, never changed.
// It is the source of truth for the summary log, metrics and logs.
type Result struct {
	// Identity
	RunID      string `json:"run_id"`
	Session    string `json:"session,omitempty"`
	Experiment string `json:"experiment"`
	Repetition int    `json:"repetition"`

	// Timing
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Artifacts
	Parameters     experiment.Parameters `json:"parameters"`
	Output         experiment.Output     `json:"output"`
	ParametersPath string                `json:"parameters_path"`
	OutputPath     string                `json:"output_path"`

	// Outcome
	Status     executor.Status     `json:"status"`
	PID        int                 `json:"pid,omitempty"`
	ExitCode   int                 `json:"exit_code"`
	ExitReason executor.ExitReason `json:"exit_reason,omitempty"`
	Usage      *observe.Usage      `json:"usage,omitempty"`
}

// Run identifies one repetition and its artifacts
type Run struct {
	RunID          string
	Session        string
	Experiment     string
	Repetition     int
	StartTime      time.Time
	Parameters     experiment.Parameters
	ParametersPath string
	OutputPath     string
}

// NewResult freezes a repetition once its output is on disk
func NewResult(run Run, outcome *executor.Outcome, endTime time.Time) *Result {
	return &Result{
		RunID:          run.RunID,
		Session:        run.Session,
		Experiment:     run.Experiment,
		Repetition:     run.Repetition,
		StartTime:      run.StartTime,
		EndTime:        endTime,
		Duration:       endTime.Sub(run.StartTime),
		Parameters:     run.Parameters,
		Output:         outcome.Output,
		ParametersPath: run.ParametersPath,
		OutputPath:     run.OutputPath,
		Status:         outcome.Status,
		PID:            outcome.PID,
		ExitCode:       outcome.ExitCode,
		ExitReason:     outcome.ExitReason,
		Usage:          outcome.Usage,
	}
}

// SummaryRow projects the result onto the summary log columns
func (r *Result) SummaryRow() store.SummaryRow {
	return store.SummaryRow{
		RunID:          r.RunID,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		ParametersPath: r.ParametersPath,
		OutputPath:     r.OutputPath,
	}
}

// ErrorMessage returns the output's error text, if any
func (r *Result) ErrorMessage() string {
	if msg, ok := r.Output["error"].(string); ok {
		return msg
	}
	return ""
}

// LogSummary emits the one-line record of the repetition
func (r *Result) LogSummary(logger *logging.Logger) {
	fields := map[string]interface{}{
		"run_id":     r.RunID,
		"repetition": r.Repetition,
		"status":     string(r.Status),
		"runtime":    r.Duration.Round(time.Millisecond).String(),
	}
	if r.PID != 0 {
		fields["pid"] = r.PID
		fields["exit"] = r.ExitCode
	}

	if r.Status == executor.StatusCompleted {
		logger.Info("Repetition finished", fields)
		return
	}
	fields["error"] = r.ErrorMessage()
	logger.Warn("Repetition finished", fields)
}
