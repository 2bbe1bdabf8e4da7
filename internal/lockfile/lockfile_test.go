package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireWritesInfo(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "worker-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	info := ParseInfo(string(data))
	if info.PID != os.Getpid() || info.InstanceID != "worker-a" || info.StartedAt.IsZero() {
		t.Errorf("info = %+v", info)
	}
	if lock.Info().InstanceID != "worker-a" {
		t.Errorf("Lock.Info = %+v", lock.Info())
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, "worker-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir, "worker-b")
	if err == nil {
		second.Release()
		t.Fatal("second Acquire should fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("err type = %T", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "already running") || !strings.Contains(msg, dir) || !strings.Contains(msg, "worker-a") {
		t.Errorf("message = %s", msg)
	}

	// The holder's info survives the failed attempt.
	data, _ := os.ReadFile(filepath.Join(dir, LockFileName))
	if ParseInfo(string(data)).InstanceID != "worker-a" {
		t.Errorf("lock file overwritten: %q", data)
	}
}

func TestReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}

	again, err := Acquire(dir, "")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := Acquire(dir, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestParseInfo(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Info
	}{
		{"full", "pid=12345\ninstance=w1\nstarted=2026-03-02T10:00:00Z\n",
			Info{PID: 12345, InstanceID: "w1", StartedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}},
		{"pid only", "pid=67890\n", Info{PID: 67890}},
		{"bad pid", "pid=abc", Info{}},
		{"no equals", "pid12345", Info{}},
		{"empty", "", Info{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseInfo(tt.content)
			if got.PID != tt.want.PID || got.InstanceID != tt.want.InstanceID || !got.StartedAt.Equal(tt.want.StartedAt) {
				t.Errorf("ParseInfo(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("own process should be running")
	}
}
