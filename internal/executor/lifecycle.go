package executor

import (
	"fmt"
	"syscall"
	"time"
)

// LifecycleState represents the worker's lifecycle state
type LifecycleState string

const (
	StateStarting  LifecycleState = "starting"
	StateRunning   LifecycleState = "running"
	StateCompleted LifecycleState = "completed"
	StateFailed    LifecycleState = "failed"
	StateKilled    LifecycleState = "killed"
)

// ExitReason describes why a worker terminated
type ExitReason string

const (
	ExitReasonSuccess ExitReason = "success" // Exit code 0
	ExitReasonError   ExitReason = "error"   // Exit code != 0
	ExitReasonSignal  ExitReason = "signal"  // Killed by a signal we did not send
	ExitReasonTimeout ExitReason = "timeout" // Killed by us on deadline
	ExitReasonUnknown ExitReason = "unknown"
)

// Status is the terminal state of one repetition
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusTimedOut      Status = "timed_out"
	StatusFunctionError Status = "function_error"
)

// LifecycleEvent represents a lifecycle state change
type LifecycleEvent struct {
	PID       int            `json:"pid,omitempty"`
	State     LifecycleState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
}

// DetermineExitReason analyzes worker exit status
func DetermineExitReason(exitCode int, waitStatus syscall.WaitStatus) ExitReason {
	if waitStatus.Exited() {
		if exitCode == 0 {
			return ExitReasonSuccess
		}
		return ExitReasonError
	}
	if waitStatus.Signaled() {
		return ExitReasonSignal
	}
	return ExitReasonUnknown
}

// SignalName returns the signal name for a signal number
func SignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGBUS:
		return "SIGBUS"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	case syscall.SIGXCPU:
		return "SIGXCPU"
	default:
		return fmt.Sprintf("SIG%d", int(sig))
	}
}
