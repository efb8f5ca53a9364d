package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/expharness/internal/config"
	"github.com/psantana5/expharness/internal/experiment"
	"github.com/psantana5/expharness/internal/harness"
	"github.com/psantana5/expharness/internal/logging"
)

var (
	cfgFile  string
	v        *viper.Viper
	logger   = logging.Nop()
	registry = experiment.DefaultRegistry()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "expharness",
	Short: "Run experiments repeatedly and keep their provenance",
	Long: `expharness runs an experiment a configured number of times, each
repetition in an isolated worker process with a wall-clock timeout, and
records parameters.json and output.json per run plus one row per run in
experiments.csv.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and runs it.
// reg must be the registry passed to executor.ServeWorkerIfRequested.
func Execute(reg *experiment.Registry) error {
	if reg != nil {
		registry = reg
	}
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// ExitCode maps an error from Execute to the process exit status
func ExitCode(err error) int {
	var cfgErr *harness.ConfigError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.expharness/config.yaml)")
	rootCmd.PersistentFlags().String("dir", config.DefaultDir, "base directory for run artifacts and experiments.csv")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "log in JSON format")
	rootCmd.PersistentFlags().String("log-dir", "", "also write logs to <log-dir>/expharness.log")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "export spans to this OTLP HTTP collector, e.g. localhost:4318")
}

// setup reads config file and ENV variables, then binds the command's flags
func setup(cmd *cobra.Command, args []string) error {
	v = config.New()
	if err := config.ReadFile(v, cfgFile); err != nil {
		return err
	}

	bindings := map[string]string{
		config.KeyDir:          "dir",
		config.KeyLogLevel:     "log-level",
		config.KeyLogJSON:      "log-json",
		config.KeyLogDir:       "log-dir",
		config.KeyOTLPEndpoint: "otlp-endpoint",
	}
	for key, name := range flagBindings {
		bindings[key] = name
	}
	if err := config.BindFlags(v, cmd.Flags(), bindings); err != nil {
		return err
	}

	level := logging.ParseLevel(v.GetString(config.KeyLogLevel))
	if dir := v.GetString(config.KeyLogDir); dir != "" {
		fileLogger, err := logging.NewFileLogger(dir, "expharness", level, v.GetBool(config.KeyLogJSON))
		if err != nil {
			return err
		}
		logger = fileLogger
	} else {
		logger = logging.NewLogger(level, v.GetBool(config.KeyLogJSON))
	}
	if path := v.ConfigFileUsed(); path != "" {
		logger.Debug("Using config file", map[string]interface{}{"path": path})
	}
	return nil
}

// flagBindings maps harness config keys to the flags that override them
var flagBindings = map[string]string{
	config.KeyExperimentName:       "name",
	config.KeyRepetitions:          "repetitions",
	config.KeyRepetitionDelay:      "delay",
	config.KeyMaxDurationSeconds:   "timeout",
	config.KeyIsolation:            "isolation",
	config.KeyMetricsTextfile:      "metrics-textfile",
	config.KeyLimitsCPUMax:         "cpu-max",
	config.KeyLimitsCPUWeight:      "cpu-weight",
	config.KeyLimitsMemoryMaxBytes: "memory-max",
}
