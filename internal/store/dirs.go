package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names inside a run directory and the base directory
const (
	ParametersFile = "parameters.json"
	OutputFile     = "output.json"
	SummaryFile    = "experiments.csv"
)

// EnsureBaseDir creates the base directory if absent. Idempotent.
func EnsureBaseDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create experiment directory %s: %w", dir, err)
	}
	return nil
}

// CreateRunDir creates <base>/<runID>. It fails if the directory already
// exists so two runs can never share artifacts.
func CreateRunDir(base, runID string) (string, error) {
	path := filepath.Join(base, runID)
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// IsExist reports whether err means the run directory was already taken
func IsExist(err error) bool {
	return errors.Is(err, os.ErrExist)
}
