package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/expharness/internal/config"
	"github.com/psantana5/expharness/internal/experiment"
	"github.com/psantana5/expharness/internal/harness"
	"github.com/psantana5/expharness/internal/report"
	"github.com/psantana5/expharness/internal/shutdown"
	"github.com/psantana5/expharness/internal/store"
	"github.com/psantana5/expharness/internal/tracing"
)

var (
	runExperiment  string
	runParamsFile  string
	runParams      []string
	runMetricsAddr string
	runJSON        bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- command [args...]]",
	Short: "Run an experiment for the configured number of repetitions",
	Long: `Runs a registered experiment. The built-in "shell" experiment runs the
command given after "--": a single argument is run through /bin/sh -c,
several arguments are executed directly.

Examples:
  expharness run --name sweep --repetitions 3 -- ./bench.sh --size 1024
  expharness run --timeout 10 --param size=1024 -- 'sleep 1; echo done'`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	def := harness.DefaultConfig()
	f := runCmd.Flags()
	f.StringVar(&runExperiment, "experiment", experiment.ShellExperimentName, "registered experiment to run")
	f.String("name", def.ExperimentName, "experiment name used as run id prefix")
	f.Int("repetitions", def.ExperimentRepetitions, "number of repetitions")
	f.Int("delay", def.ExperimentRepetitionDelay, "seconds to wait between repetitions")
	f.Int("timeout", def.MaxDurationSeconds, "per-repetition timeout in seconds, 0 for none")
	f.String("isolation", string(def.Isolation), "execution isolation: process or inline")
	f.String("metrics-textfile", "", "rewrite Prometheus text metrics to this file after every repetition")
	f.String("cpu-max", "", `cgroup cpu.max for workers, e.g. "50000 100000"`)
	f.Int("cpu-weight", 0, "cgroup cpu.weight for workers (1-10000)")
	f.Int64("memory-max", 0, "cgroup memory.max for workers in bytes")
	f.StringVar(&runParamsFile, "params", "", "JSON file with experiment parameters")
	f.StringArrayVar(&runParams, "param", nil, "parameter key=value, value parsed as JSON when possible (repeatable)")
	f.StringVar(&runMetricsAddr, "metrics-addr", "", "serve /metrics on this address while running, e.g. :9090")
	f.BoolVar(&runJSON, "json", false, "print results as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Harness(v)
	if err != nil {
		return err
	}

	exp, ok := registry.Lookup(runExperiment)
	if !ok {
		return &harness.ConfigError{
			Field:  "experiment",
			Value:  runExperiment,
			Reason: fmt.Sprintf("is not registered (available: %s)", strings.Join(registry.Names(), ", ")),
		}
	}

	params, err := buildParameters(runParamsFile, runParams, args)
	if err != nil {
		return err
	}

	mgr := shutdown.New(5*time.Second, logger)
	defer mgr.Shutdown()
	mgr.Register("logger", shutdown.CloseResource(logger))

	metrics := report.NewMetrics()
	if runMetricsAddr != "" {
		srv, err := startMetricsServer(runMetricsAddr, metrics, logger)
		if err != nil {
			return err
		}
		mgr.Register("metrics server", shutdown.StopHTTPServer(srv))
	}

	provider, err := tracing.Init(cmd.Context(), config.Tracing(v, Version), logger)
	if err != nil {
		return err
	}
	mgr.Register("tracer provider", provider.Shutdown)

	h, err := harness.New(config.Dir(v), cfg,
		harness.WithRegistry(registry),
		harness.WithLogger(logger),
		harness.WithMetrics(metrics),
		harness.WithTracer(provider.Tracer()),
	)
	if err != nil {
		return fmt.Errorf("failed to prepare %s: %w", config.Dir(v), err)
	}

	ctx, cancel := mgr.SignalContext(cmd.Context())
	defer cancel()

	results, runErr := h.Run(ctx, exp, params)
	if len(results) > 0 {
		if err := printResults(cmd.OutOrStdout(), results, runJSON); err != nil {
			return err
		}
	}
	return runErr
}

// buildParameters merges, in increasing precedence, the params file, the
// --param pairs and the trailing command
func buildParameters(file string, pairs []string, args []string) (experiment.Parameters, error) {
	params := experiment.Parameters{}
	if file != "" {
		if err := store.ReadJSON(file, &params); err != nil {
			return nil, fmt.Errorf("failed to read parameters from %s: %w", file, err)
		}
	}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", pair)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		params[key] = value
	}

	switch len(args) {
	case 0:
	case 1:
		params["command"] = args[0]
	default:
		command := make([]interface{}, len(args))
		for i, a := range args {
			command[i] = a
		}
		params["command"] = command
	}
	return params, nil
}

func printResults(w io.Writer, results []*report.Result, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Rep", "Run ID", "Status", "Duration", "Exit", "Output")
	for _, r := range results {
		exit := "-"
		if r.PID != 0 {
			exit = fmt.Sprintf("%d (%s)", r.ExitCode, r.ExitReason)
		}
		table.Append(
			fmt.Sprintf("%d", r.Repetition),
			r.RunID,
			string(r.Status),
			r.Duration.Round(time.Millisecond).String(),
			exit,
			r.OutputPath,
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTotal runs: %d\n", len(results))
	return nil
}
