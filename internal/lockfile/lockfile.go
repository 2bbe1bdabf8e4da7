// Package lockfile guards a state directory so only one engine instance runs against it.
//
// The lock is an flock on a file in the directory. The kernel drops it when the process exits,
// however it exits, so a leftover file never blocks a restart.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "cadencepipe.lock"

// Info is what the holder writes into the lock file.
type Info struct {
	PID        int
	InstanceID string
	StartedAt  time.Time
}

func (i Info) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", i.PID)
	if i.InstanceID != "" {
		fmt.Fprintf(&b, "instance=%s\n", i.InstanceID)
	}
	if !i.StartedAt.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", i.StartedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// ParseInfo reads lock file content. Unknown or malformed lines are ignored.
func ParseInfo(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				info.PID = pid
			}
		case "instance":
			info.InstanceID = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.StartedAt = t
			}
		}
	}
	return info
}

// Lock is a held state directory lock.
type Lock struct {
	file     *os.File
	path     string
	info     Info
	acquired bool
}

// Info returns what was written into the lock file.
func (l *Lock) Info() Info { return l.info }

// Acquire takes the exclusive lock on stateDir, creating the directory if needed. When another
// process holds the lock it returns a *LockError describing that process.
func Acquire(stateDir, instanceID string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Attempting to acquire lock", "lock_path", lockPath, "state_dir", stateDir)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: the current holder's info must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("Failed to acquire lock, another CadencePipe instance is running",
			"error", err, "lock_path", lockPath, "holder", holder)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	info := Info{PID: os.Getpid(), InstanceID: instanceID, StartedAt: time.Now()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", info.PID, "instance", instanceID)
	return &Lock{file: file, path: lockPath, info: info, acquired: true}, nil
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(info.encode()), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "error", err, "lock_path", f.Name())
	}
	return nil
}

// Release drops the lock and removes the file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || !l.acquired || l.file == nil {
		return nil
	}

	// Remove while still holding the flock so a new holder never loses its file.
	if err := os.Remove(l.path); err != nil {
		slog.Warn("Failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Failed to close lock file", "error", err, "lock_path", l.path)
	}

	l.acquired = false
	l.file = nil
	slog.Info("Released state directory lock", "lock_path", l.path)
	return nil
}

// LockError reports that another process holds the lock.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another CadencePipe instance is already running against this state directory (lock file %s", e.LockPath)
	if e.Holder != "" {
		msg += ", held by " + e.Holder
	}
	msg += "); if no other instance is running, remove the lock file and retry"
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unknown process"
	}
	info := ParseInfo(string(data))
	if info.PID <= 0 {
		return "unknown process"
	}
	state := "running"
	if !isProcessRunning(info.PID) {
		state = "not running, stale lock"
	}
	desc := fmt.Sprintf("PID %d (%s)", info.PID, state)
	if info.InstanceID != "" {
		desc += " instance " + info.InstanceID
	}
	return desc
}

// isProcessRunning sends signal 0, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
