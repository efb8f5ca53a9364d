package harness

import (
	"fmt"
	"time"

	"github.com/psantana5/expharness/internal/cgroups"
	"github.com/psantana5/expharness/internal/executor"
)

// Isolation selects how each repetition is executed
type Isolation string

const (
	// IsolationProcess runs every repetition in a re-executed worker process
	IsolationProcess Isolation = "process"
	// IsolationInline runs every repetition on a goroutine in this process
	IsolationInline Isolation = "inline"
)

// Unbounded disables the per-repetition deadline
const Unbounded = 0

// Defaults applied by DefaultConfig
const (
	DefaultExperimentName     = "experiment"
	DefaultMaxDurationSeconds = 300
	DefaultRepetitions        = 1
	DefaultRepetitionDelay    = 0
)

// Config is the configuration of one experiment. The harness keeps its own
// copy, so changing a Config after New has no effect.
type Config struct {
	MaxDurationSeconds        int             `mapstructure:"max_duration_seconds" yaml:"max_duration_seconds" json:"max_duration_seconds"`
	ExperimentName            string          `mapstructure:"experiment_name" yaml:"experiment_name" json:"experiment_name"`
	ExperimentRepetitions     int             `mapstructure:"experiment_repetitions" yaml:"experiment_repetitions" json:"experiment_repetitions"`
	ExperimentRepetitionDelay int             `mapstructure:"experiment_repetition_delay" yaml:"experiment_repetition_delay" json:"experiment_repetition_delay"`
	Isolation                 Isolation       `mapstructure:"isolation" yaml:"isolation" json:"isolation"`
	Limits                    *cgroups.Limits `mapstructure:"limits" yaml:"limits,omitempty" json:"limits,omitempty"`
	MetricsTextfile           string          `mapstructure:"metrics_textfile" yaml:"metrics_textfile,omitempty" json:"metrics_textfile,omitempty"`
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() *Config {
	return &Config{
		MaxDurationSeconds:        DefaultMaxDurationSeconds,
		ExperimentName:            DefaultExperimentName,
		ExperimentRepetitions:     DefaultRepetitions,
		ExperimentRepetitionDelay: DefaultRepetitionDelay,
		Isolation:                 IsolationProcess,
	}
}

// Validate checks every invariant; the first violation is returned as *ConfigError
func (c *Config) Validate() error {
	if c.ExperimentRepetitions < 0 {
		return &ConfigError{Field: "experiment_repetitions", Value: c.ExperimentRepetitions, Reason: "must be >= 0"}
	}
	if c.ExperimentRepetitionDelay < 0 {
		return &ConfigError{Field: "experiment_repetition_delay", Value: c.ExperimentRepetitionDelay, Reason: "must be >= 0"}
	}
	if c.MaxDurationSeconds < 0 {
		return &ConfigError{Field: "max_duration_seconds", Value: c.MaxDurationSeconds, Reason: "must be positive, or 0 for unbounded"}
	}
	switch c.Isolation {
	case "", IsolationProcess, IsolationInline:
	default:
		return &ConfigError{Field: "isolation", Value: c.Isolation, Reason: `must be "process" or "inline"`}
	}
	if err := c.Limits.Validate(); err != nil {
		return &ConfigError{Field: "limits", Value: *c.Limits, Reason: err.Error()}
	}
	return nil
}

// MaxDuration converts the configured timeout for the executor
func (c *Config) MaxDuration() time.Duration {
	if c.MaxDurationSeconds == Unbounded {
		return executor.NoTimeout
	}
	return time.Duration(c.MaxDurationSeconds) * time.Second
}

// RepetitionDelay is the pause between repetitions
func (c *Config) RepetitionDelay() time.Duration {
	return time.Duration(c.ExperimentRepetitionDelay) * time.Second
}

// withDefaults fills fields whose zero value is not meaningful
func (c Config) withDefaults() Config {
	if c.ExperimentName == "" {
		c.ExperimentName = DefaultExperimentName
	}
	if c.Isolation == "" {
		c.Isolation = IsolationProcess
	}
	if c.Limits != nil {
		limits := *c.Limits
		c.Limits = &limits
	}
	return c
}

// String renders the config for logs
func (c *Config) String() string {
	return fmt.Sprintf("name=%s repetitions=%d delay=%ds timeout=%ds isolation=%s",
		c.ExperimentName, c.ExperimentRepetitions, c.ExperimentRepetitionDelay, c.MaxDurationSeconds, c.Isolation)
}
