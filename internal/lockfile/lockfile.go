// Package lockfile guards a project directory against two long-running
// storysync processes (daemons) working the same ledger at once.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLockBusy is returned when another process holds the lock.
var ErrLockBusy = errors.New("lock already held by another process")

// LockInfo is written into the lock file by the holder.
type LockInfo struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// BusyError reports who holds a lock. It matches ErrLockBusy with errors.Is.
type BusyError struct {
	Path   string
	Holder *LockInfo // nil when the file could not be read
}

func (e *BusyError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("%s: %v", e.Path, ErrLockBusy)
	}
	return fmt.Sprintf("%s: held by %s (pid %d) since %s", e.Path, e.Holder.Command, e.Holder.PID,
		e.Holder.StartedAt.Local().Format(time.RFC3339))
}

func (e *BusyError) Is(target error) bool { return target == ErrLockBusy }

// Lock is a held exclusive lock.
type Lock struct {
	path string
	f    *os.File
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Acquire takes the exclusive lock at path without blocking and records info
// in it. The directory is created if needed.
func Acquire(path string, info LockInfo) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600) // #nosec G304 - path built by caller
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockExclusiveNonBlock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			holder, _ := ReadLockInfo(path)
			return nil, &BusyError{Path: path, Holder: holder}
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(info)
	if err == nil {
		if err = f.Truncate(0); err == nil {
			_, err = f.WriteAt(data, 0)
		}
	}
	if err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write lock info: %w", err)
	}
	return &Lock{path: path, f: f}, nil
}

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	// Remove while still holding the lock so a waiting process never reads
	// a half-released file.
	_ = os.Remove(l.path)
	err := flockUnlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// ReadLockInfo reads the holder recorded at path. A file holding only a PID
// is accepted too.
func ReadLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path built by caller
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil {
		return &info, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unrecognized lock file format")
	}
	return &LockInfo{PID: pid}, nil
}
