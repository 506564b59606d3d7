package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireWritesInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "daemon.lock")
	lock, err := Acquire(path, LockInfo{Command: "daemon", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	info, err := ReadLockInfo(path)
	if err != nil {
		t.Fatalf("ReadLockInfo: %v", err)
	}
	if info.PID != os.Getpid() || info.Command != "daemon" || info.StartedAt.IsZero() {
		t.Errorf("info = %+v", info)
	}
}

func TestAcquireBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	first, err := Acquire(path, LockInfo{Command: "daemon"})
	if err != nil {
		t.Fatal(err)
	}

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts just like another process would.
	_, err = Acquire(path, LockInfo{Command: "daemon"})
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("second Acquire err = %v, want ErrLockBusy", err)
	}
	var busy *BusyError
	if !errors.As(err, &busy) || busy.Holder == nil || busy.Holder.PID != os.Getpid() {
		t.Errorf("busy error = %#v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release: %v", err)
	}
	again, err := Acquire(path, LockInfo{Command: "daemon"})
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again.Release()
	if err := again.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestReadLockInfoPlainPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	if err := os.WriteFile(path, []byte("98765\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	info, err := ReadLockInfo(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.PID != 98765 {
		t.Errorf("PID = %d, want 98765", info.PID)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadLockInfo(path); err == nil {
		t.Error("expected error for garbage lock file")
	}
}
