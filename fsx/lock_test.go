package fsx

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLock_AcquireAndRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")

	lock, err := Lock(target, LockOptions{})
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	if _, err := os.Stat(target + ".lock"); err != nil {
		t.Fatalf("lock sidecar missing: %v", err)
	}

	lock.Unlock()

	if _, err := os.Stat(target + ".lock"); !errors.Is(err, os.ErrNotExist) {
		t.Error("lock sidecar not removed on Unlock")
	}
}

func TestLock_MetadataShape(t *testing.T) {
	target := filepath.Join(t.TempDir(), "index.json")

	lock, err := Lock(target, LockOptions{Writer: "test-writer"})
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(target + ".lock")
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("lock metadata is not JSON: %v", err)
	}
	for _, key := range []string{"pid", "host", "started_at", "writer"} {
		if _, ok := meta[key]; !ok {
			t.Errorf("lock metadata missing %q", key)
		}
	}
	if meta["writer"] != "test-writer" {
		t.Errorf("writer = %v, want test-writer", meta["writer"])
	}
}

func TestLock_ContentionTimesOut(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")

	held, err := Lock(target, LockOptions{})
	if err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}
	defer held.Unlock()

	_, err = Lock(target, LockOptions{
		Timeout:      200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})
	var timeoutErr *LockTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}
}

func TestLock_StaleDeadOwnerRemoved(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")
	lockPath := target + ".lock"

	host, _ := os.Hostname()
	// PID 1 is alive, so pick an implausible PID; age well past stale window.
	meta := lockMetadata{
		PID:       1 << 22,
		Host:      host,
		StartedAt: float64(time.Now().Add(-time.Minute).UnixNano()) / float64(time.Second),
		Writer:    "dead",
	}
	data, _ := json.Marshal(meta)
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := Lock(target, LockOptions{
		Timeout:      time.Second,
		PollInterval: 20 * time.Millisecond,
		StaleTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	lock.Unlock()
}

func TestLock_FreshLockNotStolen(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")
	lockPath := target + ".lock"

	host, _ := os.Hostname()
	meta := lockMetadata{
		PID:       1 << 22,
		Host:      host,
		StartedAt: float64(time.Now().UnixNano()) / float64(time.Second),
		Writer:    "fresh",
	}
	data, _ := json.Marshal(meta)
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Lock(target, LockOptions{
		Timeout:      200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})
	var timeoutErr *LockTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("fresh lock was stolen: %v", err)
	}
}

func TestLock_CorruptMetadataUsesMtime(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")
	lockPath := target + ".lock"

	if err := os.WriteFile(lockPath, []byte("{{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	lock, err := Lock(target, LockOptions{
		Timeout:      time.Second,
		PollInterval: 20 * time.Millisecond,
		StaleTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("old corrupt lock not reclaimed: %v", err)
	}
	lock.Unlock()
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")

	wantErr := errors.New("boom")
	err := WithLock(target, LockOptions{}, func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}

	if _, statErr := os.Stat(target + ".lock"); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("lock not released after fn error")
	}
}
