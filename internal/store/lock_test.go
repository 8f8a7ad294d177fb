package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/silhouette/hive/internal/errors"
)

func TestDirLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("AcquireDirLock failed: %v", err)
	}

	if _, err := AcquireDirLock(dir); !errors.Is(err, ErrDirLocked) {
		t.Errorf("second acquire error = %v, want ErrDirLocked", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	again, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
	_ = again.Release()
}

func TestDirLockBreaksStaleClaim(t *testing.T) {
	dir := t.TempDir()

	// A pid that cannot be running: beyond the default pid_max.
	path := filepath.Join(dir, lockFileName)
	if err := os.WriteFile(path, []byte("4999999\n"), 0644); err != nil {
		t.Fatalf("writing stale lock: %v", err)
	}

	lock, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("AcquireDirLock over stale claim failed: %v", err)
	}
	defer func() { _ = lock.Release() }()

	pid, ok := readLockOwner(path)
	if !ok || pid != os.Getpid() {
		t.Errorf("lock owner = %d, want this process %d", pid, os.Getpid())
	}
}

func TestDirLockBreaksGarbageClaim(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, lockFileName)
	if err := os.WriteFile(path, []byte("not a pid"), 0644); err != nil {
		t.Fatalf("writing garbage lock: %v", err)
	}

	lock, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("AcquireDirLock over garbage claim failed: %v", err)
	}
	_ = lock.Release()
}

func TestDirLockReleaseIdempotent(t *testing.T) {
	lock, err := AcquireDirLock(t.TempDir())
	if err != nil {
		t.Fatalf("AcquireDirLock failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}

	var nilLock *DirLock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release failed: %v", err)
	}
}

func TestDirLockRecordsOwnPid(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("AcquireDirLock failed: %v", err)
	}
	defer func() { _ = lock.Release() }()

	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		t.Fatalf("reading lock file: %v", err)
	}
	want := fmt.Sprintf("%d\n", os.Getpid())
	if string(data) != want {
		t.Errorf("lock contents = %q, want %q", data, want)
	}
}
