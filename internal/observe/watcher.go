package observe

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is a point-in-time resource sample of a worker process
type Usage struct {
	CPUUserSeconds   float64 `json:"cpu_user_seconds"`
	CPUSystemSeconds float64 `json:"cpu_system_seconds"`
	RSSBytes         uint64  `json:"rss_bytes"`
}

// Watcher observes a worker PID. Nothing else.
type Watcher struct {
	pid       int32
	startTime time.Time
}

// New creates a watcher for a PID
func New(pid int) *Watcher {
	return &Watcher{
		pid:       int32(pid),
		startTime: time.Now(),
	}
}

// PID returns the watched PID
func (w *Watcher) PID() int {
	return int(w.pid)
}

// Exists reports whether the PID is still present (zombies count as present)
func (w *Watcher) Exists() bool {
	exists, err := process.PidExists(w.pid)
	if err != nil {
		return false
	}
	return exists
}

// Sample reads CPU times and RSS of the process.
// It fails once the process has been reaped.
func (w *Watcher) Sample(ctx context.Context) (Usage, error) {
	p, err := process.NewProcessWithContext(ctx, w.pid)
	if err != nil {
		return Usage{}, fmt.Errorf("process %d: %w", w.pid, err)
	}

	var u Usage
	if times, err := p.TimesWithContext(ctx); err == nil {
		u.CPUUserSeconds = times.User
		u.CPUSystemSeconds = times.System
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		u.RSSBytes = mem.RSS
	}
	return u, nil
}

// WaitGone polls until the PID disappears or timeout elapses.
// Returns true if the process is confirmed gone.
func (w *Watcher) WaitGone(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !w.Exists() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Duration returns how long we've been observing
func (w *Watcher) Duration() time.Duration {
	return time.Since(w.startTime)
}
