// Package fsx implements the cross-process file protocol shared with the
// dashboard reader: an exclusive-create lock sidecar and atomic JSON writes
// via temp file + rename. Readers never lock; atomic rename guarantees they
// observe whole-file snapshots.
package fsx

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// Lock timing defaults.
const (
	DefaultLockTimeout  = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStaleTimeout = 30 * time.Second
)

// LockTimeoutError is returned when a lock cannot be acquired before the
// deadline. Distinct from other I/O failures so callers can bubble it up.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not acquire lock on %s within %s", e.Path, e.Timeout)
}

// LockOptions configures lock acquisition.
type LockOptions struct {
	// Timeout is the max time to wait for acquisition (default 5s).
	Timeout time.Duration
	// PollInterval is the delay between acquisition attempts (default 100ms).
	PollInterval time.Duration
	// StaleTimeout is the age past which an orphaned lock may be removed
	// (default 30s).
	StaleTimeout time.Duration
	// Writer identifies the lock owner in the lock metadata (for debugging).
	Writer string
}

func (o LockOptions) withDefaults() LockOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultLockTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = DefaultStaleTimeout
	}
	if o.Writer == "" {
		o.Writer = "orchestrator"
	}
	return o
}

// lockMetadata is the JSON payload written into the lock file. The dashboard
// reader writes the same shape, which is what makes stale detection work
// across both processes.
type lockMetadata struct {
	PID       int     `json:"pid"`
	Host      string  `json:"host"`
	StartedAt float64 `json:"started_at"` // unix seconds
	Writer    string  `json:"writer"`
}

// FileLock is a held lock on a target file. Release it with Unlock.
type FileLock struct {
	lockPath string
}

// Lock acquires an exclusive cross-process lock protecting target. The lock
// lives in a <target>.lock sibling created with O_CREAT|O_EXCL. On conflict
// the caller sleeps PollInterval and retries until Timeout, removing stale
// locks along the way.
func Lock(target string, opts LockOptions) (*FileLock, error) {
	opts = opts.withDefaults()
	lockPath := target + ".lock"
	deadline := time.Now().Add(opts.Timeout)

	for time.Now().Before(deadline) {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			host, _ := os.Hostname()
			meta := lockMetadata{
				PID:       os.Getpid(),
				Host:      host,
				StartedAt: float64(time.Now().UnixNano()) / float64(time.Second),
				Writer:    opts.Writer,
			}
			enc := json.NewEncoder(f)
			_ = enc.Encode(meta)
			_ = f.Close()
			return &FileLock{lockPath: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", lockPath, err)
		}

		// Lock exists: check staleness and retry immediately after removal.
		if isStaleLock(lockPath, opts.StaleTimeout) {
			if rmErr := os.Remove(lockPath); rmErr == nil {
				continue
			}
			// Another process beat us to the removal; fall through to sleep.
		}
		time.Sleep(opts.PollInterval)
	}

	return nil, &LockTimeoutError{Path: target, Timeout: opts.Timeout}
}

// Unlock releases the lock. Safe to call once on every exit path.
func (l *FileLock) Unlock() {
	// Lock already removed is not actionable.
	_ = os.Remove(l.lockPath)
}

// WithLock runs fn while holding the lock on target, releasing it on all
// exit paths including fn failure.
func WithLock(target string, opts LockOptions, fn func() error) error {
	lock, err := Lock(target, opts)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return fn()
}

// isStaleLock reports whether the lock file may be force-removed: its
// recorded age exceeds staleTimeout AND (same host) its owner PID is dead.
// Cross-host locks go on age alone; unreadable metadata falls back to mtime.
func isStaleLock(lockPath string, staleTimeout time.Duration) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}

	var meta lockMetadata
	if jsonErr := json.Unmarshal(data, &meta); jsonErr != nil || meta.StartedAt == 0 {
		// Corrupt metadata: stale iff the file itself is old enough.
		info, statErr := os.Stat(lockPath)
		if statErr != nil {
			return false
		}
		return time.Since(info.ModTime()) > staleTimeout
	}

	started := time.Unix(0, int64(meta.StartedAt*float64(time.Second)))
	if time.Since(started) < staleTimeout {
		return false
	}

	host, _ := os.Hostname()
	if meta.Host == host && meta.PID > 0 {
		return !processAlive(meta.PID)
	}

	// Different host or no PID: age alone decides.
	return true
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
