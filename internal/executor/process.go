package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/psantana5/expharness/internal/cgroups"
	"github.com/psantana5/expharness/internal/experiment"
	"github.com/psantana5/expharness/internal/logging"
	"github.com/psantana5/expharness/internal/observe"
)

const (
	defaultSampleInterval = 100 * time.Millisecond
	reapConfirmTimeout    = 2 * time.Second
)

// Process runs each invocation in a freshly re-executed copy of the current
// binary. The worker leads its own process group, so on deadline the whole
// group is SIGKILLed: a crashing or hung experiment cannot take the caller
// down with it.
type Process struct {
	registry       *experiment.Registry
	executable     string
	stdout         io.Writer
	stderr         io.Writer
	limits         *cgroups.Limits
	cgroups        *cgroups.Manager
	sampleInterval time.Duration
	logger         *logging.Logger
}

// ProcessOption configures a Process executor
type ProcessOption func(*Process)

// WithExecutable overrides the binary re-executed as worker
func WithExecutable(path string) ProcessOption {
	return func(p *Process) { p.executable = path }
}

// WithWorkerOutput sets where the worker's stdout/stderr go (default: our stderr)
func WithWorkerOutput(stdout, stderr io.Writer) ProcessOption {
	return func(p *Process) {
		p.stdout = stdout
		p.stderr = stderr
	}
}

// WithLimits applies cgroup limits to every worker (best effort)
func WithLimits(limits *cgroups.Limits, mgr *cgroups.Manager) ProcessOption {
	return func(p *Process) {
		p.limits = limits
		p.cgroups = mgr
	}
}

// WithLogger sets the executor logger
func WithLogger(logger *logging.Logger) ProcessOption {
	return func(p *Process) { p.logger = logger }
}

// NewProcess creates a process executor resolving experiments in registry
func NewProcess(registry *experiment.Registry, opts ...ProcessOption) *Process {
	p := &Process{
		registry:       registry,
		stdout:         os.Stderr,
		stderr:         os.Stderr,
		sampleInterval: defaultSampleInterval,
		logger:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limits != nil && p.cgroups == nil {
		p.cgroups = cgroups.New()
	}
	return p
}

// Registered reports whether exp can be resolved by the worker
func (p *Process) Registered(exp experiment.Experiment) bool {
	if exp == nil {
		return false
	}
	_, ok := p.registry.Lookup(exp.Name())
	return ok
}

type workerExit struct {
	payload []byte
	readErr error
	waitErr error
}

// Execute implements Executor
func (p *Process) Execute(ctx context.Context, exp experiment.Experiment, params experiment.Parameters, maxDuration time.Duration) (*Outcome, error) {
	if err := validateDuration(maxDuration); err != nil {
		return nil, err
	}
	if !p.Registered(exp) {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, experimentName(exp))
	}

	request, err := json.Marshal(workerRequest{Experiment: exp.Name(), Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	executable := p.executable
	if executable == "" {
		if executable, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("failed to locate worker binary: %w", err)
		}
	}

	resultR, resultW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create result pipe: %w", err)
	}

	cmd := exec.Command(executable)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Stdin = bytes.NewReader(request)
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.ExtraFiles = []*os.File{resultW}
	cmd.WaitDelay = time.Second

	// Own process group: one kill reaches everything the experiment spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	o := &Outcome{StartTime: time.Now()}
	o.emit(StateStarting, "spawning worker process")

	if err := cmd.Start(); err != nil {
		resultR.Close()
		resultW.Close()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	resultW.Close()

	o.PID = cmd.Process.Pid
	o.emit(StateRunning, fmt.Sprintf("PID %d started", o.PID))
	logger := p.logger.WithField("pid", o.PID).WithField("experiment", exp.Name())
	logger.Debug("Worker started")

	cgroupPath := p.applyLimits(logger, exp.Name(), o.PID)
	defer p.removeCgroup(logger, cgroupPath)

	done := make(chan workerExit, 1)
	go func() {
		payload, readErr := io.ReadAll(resultR)
		resultR.Close()
		done <- workerExit{payload: payload, readErr: readErr, waitErr: cmd.Wait()}
	}()

	var deadline <-chan time.Time
	if maxDuration != NoTimeout {
		timer := time.NewTimer(maxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	sampler := time.NewTicker(p.sampleInterval)
	defer sampler.Stop()
	watcher := observe.New(o.PID)

	for {
		select {
		case exit := <-done:
			o.complete()
			p.finish(o, exit)
			return o, nil

		case <-sampler.C:
			if u, err := watcher.Sample(ctx); err == nil && u.RSSBytes > 0 {
				o.Usage = &u
			}

		case <-deadline:
			p.kill(logger, o.PID)
			<-done // reap; partial output is discarded
			o.complete()
			o.ExitCode = -1
			o.ExitReason = ExitReasonTimeout
			o.Status = StatusTimedOut
			o.Output = TimeoutOutput(maxDuration)
			o.emit(StateKilled, fmt.Sprintf("killed after %s", maxDuration))
			p.confirmGone(logger, watcher)
			return o, nil

		case <-ctx.Done():
			p.kill(logger, o.PID)
			<-done
			p.confirmGone(logger, watcher)
			return nil, ctx.Err()
		}
	}
}

// finish classifies a worker that exited on its own
func (p *Process) finish(o *Outcome, exit workerExit) {
	o.ExitReason = ExitReasonSuccess
	if exit.waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(exit.waitErr, &exitErr) {
			o.ExitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				o.ExitReason = DetermineExitReason(o.ExitCode, status)
				if status.Signaled() {
					o.ExitCode = -1
					o.Status = StatusFunctionError
					o.Output = ErrorOutput(fmt.Sprintf("worker killed by %s", SignalName(status.Signal())))
					o.emit(StateKilled, o.Output["error"].(string))
					return
				}
			}
		} else {
			o.ExitCode = -1
			o.ExitReason = ExitReasonUnknown
		}
	}

	resp, err := decodeResponse(exit.payload)
	if err != nil || exit.readErr != nil {
		o.Status = StatusFunctionError
		o.Output = ErrorOutput(fmt.Sprintf("worker exited with code %d without a result", o.ExitCode))
		o.emit(StateFailed, o.Output["error"].(string))
		return
	}

	if resp.Error != nil {
		o.Status = StatusFunctionError
		o.Output = ErrorOutput(*resp.Error)
		o.emit(StateFailed, *resp.Error)
		return
	}

	o.Status = StatusCompleted
	o.Output = resp.Output
	if o.Output == nil {
		o.Output = experiment.Output{}
	}
	o.emit(StateCompleted, "completed successfully")
}

func decodeResponse(payload []byte) (workerResponse, error) {
	var resp workerResponse
	if len(bytes.TrimSpace(payload)) == 0 {
		return resp, io.ErrUnexpectedEOF
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// kill sends SIGKILL to the worker's whole process group
func (p *Process) kill(logger *logging.Logger, pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		logger.Warn("Failed to kill worker process group", map[string]interface{}{"error": err.Error()})
	}
}

func (p *Process) confirmGone(logger *logging.Logger, watcher *observe.Watcher) {
	if !watcher.WaitGone(reapConfirmTimeout) {
		logger.Error("Worker still present after kill")
	}
}

// applyLimits places the worker in its own cgroup (best effort).
// Returns the cgroup path for cleanup.
func (p *Process) applyLimits(logger *logging.Logger, name string, pid int) string {
	if p.limits.IsZero() || p.cgroups == nil {
		return ""
	}

	path, err := p.cgroups.Create(name + "-" + strconv.Itoa(pid))
	if err != nil || path == "" {
		logger.Warn("Cgroup unavailable, running worker unconstrained")
		return ""
	}
	if err := p.cgroups.Join(path, pid); err != nil {
		logger.Warn("Failed to join cgroup", map[string]interface{}{"error": err.Error()})
		p.removeCgroup(logger, path)
		return ""
	}
	if err := p.cgroups.Apply(path, p.limits); err != nil {
		logger.Warn("Failed to apply some limits", map[string]interface{}{"error": err.Error()})
	}
	return path
}

func (p *Process) removeCgroup(logger *logging.Logger, path string) {
	if path == "" {
		return
	}
	if err := p.cgroups.Delete(path); err != nil {
		logger.Debug("Failed to remove cgroup", map[string]interface{}{"error": err.Error()})
	}
}

func experimentName(exp experiment.Experiment) string {
	if exp == nil {
		return ""
	}
	return exp.Name()
}
