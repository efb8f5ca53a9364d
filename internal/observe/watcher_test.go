package observe

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"
)

func TestWatcher_Self(t *testing.T) {
	w := New(os.Getpid())
	if !w.Exists() {
		t.Fatal("own process should exist")
	}

	u, err := w.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if u.RSSBytes == 0 {
		t.Error("expected non-zero RSS for own process")
	}
}

func TestWatcher_WaitGone(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}

	w := New(cmd.Process.Pid)
	if w.WaitGone(50 * time.Millisecond) {
		t.Fatal("running process reported gone")
	}

	_ = cmd.Process.Kill()
	_ = cmd.Wait()

	if !w.WaitGone(2 * time.Second) {
		t.Error("reaped process still reported present")
	}
}
