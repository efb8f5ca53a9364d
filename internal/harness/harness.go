// Package harness repeats an experiment and keeps its provenance on disk.
//
// Layout of a base directory:
//
//	<base>/experiments.csv                   one row per logged repetition
//	<base>/<name>_<timestamp>/parameters.json written before execution
//	<base>/<name>_<timestamp>/output.json     result, error or timeout record
package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/expharness/internal/executor"
	"github.com/psantana5/expharness/internal/experiment"
	"github.com/psantana5/expharness/internal/logging"
	"github.com/psantana5/expharness/internal/report"
	"github.com/psantana5/expharness/internal/store"
	"github.com/psantana5/expharness/internal/tracing"
)

// RepetitionState tracks one repetition through the loop
type RepetitionState string

const (
	StateCreated       RepetitionState = "created"
	StateParamsWritten RepetitionState = "params_written"
	StateExecuting     RepetitionState = "executing"
	StateLogged        RepetitionState = "logged"
)

// runIDLayout keeps microseconds and avoids ':' and ' ' in directory names
const runIDLayout = "2006-01-02T15-04-05.000000"

// maxRunDirAttempts bounds retries when another harness took our run id
const maxRunDirAttempts = 5

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// registrationChecker is implemented by executors that resolve experiments by name
type registrationChecker interface {
	Registered(exp experiment.Experiment) bool
}

// Harness runs repetitions of one configured experiment.
// It owns its base directory and the summary log in it.
type Harness struct {
	dir      string
	cfg      Config
	executor executor.Executor
	registry *experiment.Registry
	summary  *store.SummaryLog
	metrics  *report.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time

	lastStamp time.Time
}

// Option configures a Harness
type Option func(*Harness)

// WithExecutor replaces the executor chosen from Config.Isolation
func WithExecutor(ex executor.Executor) Option {
	return func(h *Harness) { h.executor = ex }
}

// WithRegistry sets the registry process workers resolve experiments in.
// It must be the registry passed to executor.ServeWorkerIfRequested.
func WithRegistry(registry *experiment.Registry) Option {
	return func(h *Harness) { h.registry = registry }
}

// WithLogger sets the harness logger
func WithLogger(logger *logging.Logger) Option {
	return func(h *Harness) { h.logger = logger }
}

// WithMetrics shares a metrics set, e.g. one already served over HTTP
func WithMetrics(metrics *report.Metrics) Option {
	return func(h *Harness) { h.metrics = metrics }
}

// WithTracer sets the tracer for run and repetition spans
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Harness) { h.tracer = tracer }
}

// WithClock overrides time.Now for run ids and timestamps
func WithClock(now func() time.Time) Option {
	return func(h *Harness) { h.now = now }
}

// New creates a harness over dir, creating it if needed.
// A nil cfg means DefaultConfig(). The config is validated by Run, not here,
// so an invalid config is reported without touching the filesystem further.
func New(dir string, cfg *Config, opts ...Option) (*Harness, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	h := &Harness{
		dir:     dir,
		cfg:     cfg.withDefaults(),
		summary: store.NewSummaryLog(dir),
		logger:  logging.Nop(),
		tracer:  tracing.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.registry == nil {
		h.registry = experiment.DefaultRegistry()
	}
	if h.metrics == nil {
		h.metrics = report.NewMetrics()
	}
	h.logger = h.logger.Named("harness").WithField("experiment", h.cfg.ExperimentName)

	if h.executor == nil {
		switch h.cfg.Isolation {
		case IsolationInline:
			h.executor = executor.NewInline()
		default:
			var procOpts []executor.ProcessOption
			procOpts = append(procOpts, executor.WithLogger(h.logger))
			if !h.cfg.Limits.IsZero() {
				procOpts = append(procOpts, executor.WithLimits(h.cfg.Limits, nil))
			}
			h.executor = executor.NewProcess(h.registry, procOpts...)
		}
	}

	if err := store.EnsureBaseDir(dir); err != nil {
		return nil, err
	}
	return h, nil
}

// Dir returns the base directory
func (h *Harness) Dir() string {
	return h.dir
}

// Config returns a copy of the effective configuration
func (h *Harness) Config() Config {
	return h.cfg
}

// Metrics returns the harness metrics
func (h *Harness) Metrics() *report.Metrics {
	return h.metrics
}

// SummaryLog returns the summary log of the base directory
func (h *Harness) SummaryLog() *store.SummaryLog {
	return h.summary
}

// Run executes the configured number of repetitions, strictly in sequence.
//
// A *ConfigError means nothing ran and nothing was written. Function errors
// and timeouts are recorded in the results, never returned. Storage errors
// abandon their repetition and are joined into the returned error while the
// remaining repetitions still run. Context cancellation stops the loop.
func (h *Harness) Run(ctx context.Context, exp experiment.Experiment, params experiment.Parameters) ([]*report.Result, error) {
	reps := h.cfg.ExperimentRepetitions
	session := uuid.NewString()
	logger := h.logger.WithField("session", session)

	ctx, span := h.tracer.Start(ctx, "harness.run", trace.WithAttributes(
		attribute.String("experiment.name", h.cfg.ExperimentName),
		attribute.Int("experiment.repetitions", reps),
		attribute.String("harness.session", session),
	))
	defer span.End()

	if err := h.validate(exp); err != nil {
		logger.Error("Refusing to run", map[string]interface{}{"error": err.Error()})
		tracing.SetError(ctx, err)
		return nil, err
	}
	if params == nil {
		params = experiment.Parameters{}
	}

	logger.Info("Starting experiment", map[string]interface{}{"config": h.cfg.String(), "dir": h.dir})

	results := make([]*report.Result, 0, reps)
	var storageErrs []error

	for rep := 1; rep <= reps; rep++ {
		if err := ctx.Err(); err != nil {
			return results, errors.Join(append(storageErrs, err)...)
		}

		result, err := h.runRepetition(ctx, logger, session, exp, params, rep)
		var storageErr *StorageError
		switch {
		case errors.As(err, &storageErr):
			h.metrics.RecordStorageError(h.cfg.ExperimentName)
			logger.Error("Repetition abandoned", map[string]interface{}{"error": err.Error()})
			storageErrs = append(storageErrs, err)
		case err != nil:
			return results, errors.Join(append(storageErrs, fmt.Errorf("repetition %d: %w", rep, err))...)
		default:
			results = append(results, result)
		}

		if rep < reps && h.cfg.ExperimentRepetitionDelay > 0 {
			if err := sleepContext(ctx, h.cfg.RepetitionDelay()); err != nil {
				return results, errors.Join(append(storageErrs, err)...)
			}
		}
	}

	logger.Info("Experiment finished", map[string]interface{}{"logged": len(results), "requested": reps})
	span.SetAttributes(attribute.Int("experiment.logged", len(results)))
	if err := errors.Join(storageErrs...); err != nil {
		tracing.SetError(ctx, err)
		return results, err
	}
	return results, nil
}

func (h *Harness) validate(exp experiment.Experiment) error {
	if err := h.cfg.Validate(); err != nil {
		return err
	}
	if exp == nil {
		return &ConfigError{Field: "experiment", Value: nil, Reason: "is required"}
	}
	if rc, ok := h.executor.(registrationChecker); ok && !rc.Registered(exp) {
		return &ConfigError{Field: "experiment", Value: exp.Name(), Reason: "is not registered for process isolation"}
	}
	return nil
}

// runRepetition is one created → params_written → executing → logged cycle
func (h *Harness) runRepetition(ctx context.Context, logger *logging.Logger, session string, exp experiment.Experiment, params experiment.Parameters, rep int) (result *report.Result, err error) {
	ctx, span := h.tracer.Start(ctx, "harness.repetition", trace.WithAttributes(attribute.Int("experiment.repetition", rep)))
	defer func() {
		if err != nil {
			tracing.SetError(ctx, err)
		}
		span.End()
	}()

	start, runID, runDir, err := h.createRunDir()
	if err != nil {
		return nil, &StorageError{Repetition: rep, RunID: runID, Op: "create run directory", Path: filepath.Join(h.dir, runID), Err: err}
	}
	span.SetAttributes(attribute.String("experiment.run_id", runID))
	logger = logger.WithField("run_id", runID)
	transition(ctx, logger, StateCreated)

	run := report.Run{
		RunID:          runID,
		Session:        session,
		Experiment:     h.cfg.ExperimentName,
		Repetition:     rep,
		StartTime:      start,
		Parameters:     params,
		ParametersPath: filepath.Join(runDir, store.ParametersFile),
		OutputPath:     filepath.Join(runDir, store.OutputFile),
	}

	// Parameters go to disk first so they survive a hung experiment.
	if err := store.WriteJSONAtomic(run.ParametersPath, params); err != nil {
		return nil, &StorageError{Repetition: rep, RunID: runID, Op: "write parameters", Path: run.ParametersPath, Err: err}
	}
	transition(ctx, logger, StateParamsWritten)

	transition(ctx, logger, StateExecuting)
	outcome, err := h.executor.Execute(ctx, exp, params, h.cfg.MaxDuration())
	if err != nil {
		return nil, err
	}

	if err := store.WriteJSONAtomic(run.OutputPath, outcome.Output); err != nil {
		return nil, &StorageError{Repetition: rep, RunID: runID, Op: "write output", Path: run.OutputPath, Err: err}
	}

	result = report.NewResult(run, outcome, h.endStamp(start))
	if err := h.summary.Append(result.SummaryRow()); err != nil {
		return nil, &StorageError{Repetition: rep, RunID: runID, Op: "append summary", Path: h.summary.Path(), Err: err}
	}
	transition(ctx, logger, StateLogged)

	span.SetAttributes(attribute.String("experiment.status", string(result.Status)))
	if result.Status != executor.StatusCompleted {
		span.SetStatus(codes.Error, result.ErrorMessage())
	}

	h.metrics.RecordResult(result)
	result.LogSummary(logger)

	if h.cfg.MetricsTextfile != "" {
		if err := report.WriteTextfile(h.cfg.MetricsTextfile, h.metrics.Gatherer()); err != nil {
			logger.Warn("Failed to write metrics textfile", map[string]interface{}{"error": err.Error()})
		}
	}
	return result, nil
}

func transition(ctx context.Context, logger *logging.Logger, state RepetitionState) {
	logger.Debug("Repetition state", map[string]interface{}{"state": string(state)})
	tracing.AddEvent(ctx, string(state))
}

// createRunDir picks a fresh run id and creates its directory.
// The start timestamp is strictly increasing within this harness; if another
// harness already took the directory the timestamp moves on by 1µs.
func (h *Harness) createRunDir() (time.Time, string, string, error) {
	var (
		stamp time.Time
		runID string
		err   error
	)
	for attempt := 0; attempt < maxRunDirAttempts; attempt++ {
		stamp = h.nextStamp()
		runID = RunID(h.cfg.ExperimentName, stamp)

		var path string
		path, err = store.CreateRunDir(h.dir, runID)
		if err == nil {
			return stamp, runID, path, nil
		}
		if !store.IsExist(err) {
			break
		}
	}
	return stamp, runID, "", err
}

func (h *Harness) nextStamp() time.Time {
	stamp := h.now().Truncate(time.Microsecond)
	if !stamp.After(h.lastStamp) {
		stamp = h.lastStamp.Add(time.Microsecond)
	}
	h.lastStamp = stamp
	return stamp
}

// endStamp is never earlier than the start, which nextStamp may have moved
// ahead of a frozen or stepped-back clock
func (h *Harness) endStamp(start time.Time) time.Time {
	end := h.now()
	if end.Before(start) {
		return start
	}
	return end
}

// RunID builds the filesystem-safe identifier {name}_{timestamp}
func RunID(name string, stamp time.Time) string {
	safe := unsafeNameChars.ReplaceAllString(name, "_")
	if safe == "" {
		safe = DefaultExperimentName
	}
	return safe + "_" + stamp.Format(runIDLayout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
