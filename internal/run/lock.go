// Package run holds per-run infrastructure: ids, the run lock and retention pruning.
package run

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// LockFile is the lock file name under stateDir/locks.
const LockFile = "run.lock"

// Lock is an exclusive flock on stateDir/locks/run.lock. The holder writes a
// short owner line into the file so a blocked process can report who has it.
type Lock struct {
	file *os.File
}

func lockPath(stateDir string) string {
	return filepath.Join(stateDir, "locks", LockFile)
}

func acquire(stateDir, owner string, wait bool) (*Lock, bool, error) {
	path := lockPath(stateDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create locks dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}
	how := syscall.LOCK_EX
	if !wait {
		how |= syscall.LOCK_NB
	}
	if err := syscall.Flock(int(file.Fd()), how); err != nil {
		_ = file.Close()
		if !wait && errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock %s: %w", LockFile, err)
	}

	l := &Lock{file: file}
	if err := l.writeOwner(owner); err != nil {
		_ = l.Release()
		return nil, false, err
	}
	return l, true, nil
}

func (l *Lock) writeOwner(owner string) error {
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.file.WriteAt([]byte(fmt.Sprintf("%s pid=%d\n", owner, os.Getpid())), 0); err != nil {
		return fmt.Errorf("write lock owner: %w", err)
	}
	return nil
}

// AcquireLock blocks until the run lock is held.
func AcquireLock(stateDir, owner string) (*Lock, error) {
	l, _, err := acquire(stateDir, owner, true)
	return l, err
}

// TryAcquireLock takes the run lock without blocking. It reports false when
// another process holds it.
func TryAcquireLock(stateDir, owner string) (*Lock, bool, error) {
	return acquire(stateDir, owner, false)
}

// Holder returns the owner line written by the current or last lock holder.
func Holder(stateDir string) (string, error) {
	data, err := os.ReadFile(lockPath(stateDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read lock owner: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Release unlocks and closes the lock file. The owner line is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
