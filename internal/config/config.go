// Package config loads harness configuration from a YAML file, EXPHARNESS_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/psantana5/expharness/internal/harness"
	"github.com/psantana5/expharness/internal/tracing"
)

// EnvPrefix prefixes every environment variable, e.g. EXPHARNESS_EXPERIMENT_REPETITIONS
const EnvPrefix = "EXPHARNESS"

// Keys understood in config files and the environment
const (
	KeyMaxDurationSeconds   = "max_duration_seconds"
	KeyExperimentName       = "experiment_name"
	KeyRepetitions          = "experiment_repetitions"
	KeyRepetitionDelay      = "experiment_repetition_delay"
	KeyIsolation            = "isolation"
	KeyMetricsTextfile      = "metrics_textfile"
	KeyLimitsCPUMax         = "limits.cpu_max"
	KeyLimitsCPUWeight      = "limits.cpu_weight"
	KeyLimitsMemoryMaxBytes = "limits.memory_max_bytes"
	KeyDir                  = "dir"
	KeyLogLevel             = "log_level"
	KeyLogJSON              = "log_json"
	KeyLogDir               = "log_dir"
	KeyOTLPEndpoint         = "otlp_endpoint"
	KeyOTLPInsecure         = "otlp_insecure"
)

// DefaultDir is the base directory used when none is configured
const DefaultDir = "experiments"

// New returns a viper instance with defaults and environment binding.
// Each command gets its own instance, so tests never share state.
func New() *viper.Viper {
	v := viper.New()

	def := harness.DefaultConfig()
	v.SetDefault(KeyMaxDurationSeconds, def.MaxDurationSeconds)
	v.SetDefault(KeyExperimentName, def.ExperimentName)
	v.SetDefault(KeyRepetitions, def.ExperimentRepetitions)
	v.SetDefault(KeyRepetitionDelay, def.ExperimentRepetitionDelay)
	v.SetDefault(KeyIsolation, string(def.Isolation))
	v.SetDefault(KeyMetricsTextfile, "")
	v.SetDefault(KeyDir, DefaultDir)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyLogDir, "")
	v.SetDefault(KeyOTLPEndpoint, "")
	v.SetDefault(KeyOTLPInsecure, true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// nested keys have no default, so they must be bound explicitly
	for _, key := range []string{KeyLimitsCPUMax, KeyLimitsCPUWeight, KeyLimitsMemoryMaxBytes} {
		_ = v.BindEnv(key)
	}
	return v
}

// ReadFile reads cfgFile, or $HOME/.expharness/config.yaml when cfgFile is
// empty. A missing default file is not an error; a missing explicit one is.
func ReadFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(filepath.Join(home, ".expharness"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// BindFlags makes flags override file and environment values.
// bindings maps a config key to a flag name; flags absent from fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Harness decodes the harness configuration. Values are not validated here;
// harness.Run reports violations as *harness.ConfigError.
func Harness(v *viper.Viper) (*harness.Config, error) {
	cfg := &harness.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.Limits.IsZero() {
		cfg.Limits = nil
	}
	return cfg, nil
}

// Tracing returns the span export settings
func Tracing(v *viper.Viper, version string) tracing.Config {
	return tracing.Config{
		ServiceName:    "expharness",
		ServiceVersion: version,
		OTLPEndpoint:   v.GetString(KeyOTLPEndpoint),
		Insecure:       v.GetBool(KeyOTLPInsecure),
	}
}

// Dir returns the configured base directory
func Dir(v *viper.Viper) string {
	return v.GetString(KeyDir)
}
