package cgroups

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultRoot is where the unified hierarchy is mounted on Linux
const DefaultRoot = "/sys/fs/cgroup"

// Manager handles worker cgroup lifecycle only.
// Create. Apply. Join. Delete. Nothing else.
type Manager struct {
	root    string
	version int
}

// New creates a manager rooted at DefaultRoot
func New() *Manager {
	return NewAt(DefaultRoot)
}

// NewAt creates a manager rooted at root
func NewAt(root string) *Manager {
	return &Manager{
		root:    root,
		version: Version(root),
	}
}

// Create creates the cgroup for one run.
// Returns "" without error when the hierarchy is not writable.
func (m *Manager) Create(runID string) (string, error) {
	if runID == "" {
		runID = fmt.Sprintf("unnamed-%d", os.Getpid())
	}

	base := m.root
	if m.version == 1 {
		base = filepath.Join(m.root, "cpu")
	}
	path := filepath.Join(base, "expharness", runID)

	if err := os.MkdirAll(path, 0755); err != nil {
		if errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

// Apply writes every non-zero limit into the cgroup
func (m *Manager) Apply(cgroupPath string, limits *Limits) error {
	if cgroupPath == "" || limits.IsZero() {
		return nil
	}
	return errors.Join(
		WriteCPUMax(cgroupPath, m.version, limits.CPUMax),
		WriteCPUWeight(cgroupPath, m.version, limits.CPUWeight),
		WriteMemoryMax(cgroupPath, m.version, limits.MemoryMaxBytes),
	)
}

// Join moves a PID into the cgroup
func (m *Manager) Join(cgroupPath string, pid int) error {
	if cgroupPath == "" {
		return nil
	}
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	procs := filepath.Join(cgroupPath, "cgroup.procs")
	return os.WriteFile(procs, []byte(strconv.Itoa(pid)), 0644)
}

// Delete removes the cgroup directory. The kernel refuses while it has members.
func (m *Manager) Delete(cgroupPath string) error {
	if cgroupPath == "" {
		return nil
	}
	return os.Remove(cgroupPath)
}
