package harness

import "fmt"

// ConfigError reports an invalid configuration. No repetition runs.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v %s", e.Field, e.Value, e.Reason)
}

// StorageError reports a repetition abandoned because an artifact could not
// be written. The summary log never gets a row for it.
type StorageError struct {
	Repetition int
	RunID      string
	Op         string
	Path       string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("repetition %d (%s): %s %s: %v", e.Repetition, e.RunID, e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
