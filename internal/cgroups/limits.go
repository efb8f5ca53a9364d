package cgroups

// Best effort only: a worker that cannot be constrained still runs.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Limits defines what can be written to a worker's cgroup.
// Zero values mean "leave unset".
type Limits struct {
	CPUMax         string `mapstructure:"cpu_max" yaml:"cpu_max,omitempty" json:"cpu_max,omitempty"`       // "quota period" or "max"
	CPUWeight      int    `mapstructure:"cpu_weight" yaml:"cpu_weight,omitempty" json:"cpu_weight,omitempty"` // 1-10000
	MemoryMaxBytes int64  `mapstructure:"memory_max_bytes" yaml:"memory_max_bytes,omitempty" json:"memory_max_bytes,omitempty"`
}

// IsZero reports whether no limit is set
func (l *Limits) IsZero() bool {
	return l == nil || (l.CPUMax == "" && l.CPUWeight == 0 && l.MemoryMaxBytes == 0)
}

// Validate rejects values the kernel would refuse
func (l *Limits) Validate() error {
	if l == nil {
		return nil
	}
	if l.CPUWeight < 0 || l.CPUWeight > 10000 {
		return fmt.Errorf("invalid cpu weight: %d (must be 1-10000)", l.CPUWeight)
	}
	if l.MemoryMaxBytes < 0 {
		return fmt.Errorf("invalid memory limit: %d", l.MemoryMaxBytes)
	}
	return nil
}

// Version returns detected cgroup version (1 or 2) under root
func Version(root string) int {
	if _, err := os.Stat(filepath.Join(root, "cgroup.controllers")); err == nil {
		return 2
	}
	return 1
}

// WriteCPUMax writes cpu.max (v2 only)
func WriteCPUMax(cgroupPath string, version int, value string) error {
	if value == "" || version != 2 {
		return nil
	}
	return os.WriteFile(filepath.Join(cgroupPath, "cpu.max"), []byte(value), 0644)
}

// WriteCPUWeight writes cpu.weight (v2) or cpu.shares (v1)
func WriteCPUWeight(cgroupPath string, version int, weight int) error {
	if weight == 0 {
		return nil
	}
	if weight < 0 || weight > 10000 {
		return fmt.Errorf("invalid cpu weight: %d (must be 1-10000)", weight)
	}

	if version == 2 {
		return os.WriteFile(filepath.Join(cgroupPath, "cpu.weight"), []byte(strconv.Itoa(weight)), 0644)
	}

	// v1: weight 100 = 1024 shares
	shares := (weight * 1024) / 100
	return os.WriteFile(filepath.Join(cgroupPath, "cpu.shares"), []byte(strconv.Itoa(shares)), 0644)
}

// WriteMemoryMax writes memory.max (v2) or memory.limit_in_bytes (v1)
func WriteMemoryMax(cgroupPath string, version int, bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("invalid memory limit: %d", bytes)
	}
	if bytes == 0 {
		return nil
	}

	value := []byte(strconv.FormatInt(bytes, 10))
	if version == 2 {
		return os.WriteFile(filepath.Join(cgroupPath, "memory.max"), value, 0644)
	}
	return os.WriteFile(filepath.Join(cgroupPath, "memory.limit_in_bytes"), value, 0644)
}
