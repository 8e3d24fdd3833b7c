package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const sessionLockFilename = "session.lock"

// ErrSessionActive means another process already holds the session lock for
// the same data directory.
var ErrSessionActive = errors.New("another chat session is running")

// ErrSessionLockUnsupported indicates the current platform has no file lock backend.
var ErrSessionLockUnsupported = errors.New("session lock unsupported")

// SessionLock guards a data directory for the lifetime of one long-running
// session.
type SessionLock interface {
	Release() error
}

// AcquireSessionLock takes an exclusive, non-blocking lock on dir. The lock
// goes away with the process, so a crashed session never blocks the next one.
func AcquireSessionLock(dir string) (SessionLock, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("session lock dir is not configured")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create session lock dir: %w", err)
	}

	path := filepath.Join(dir, sessionLockFilename)
	// #nosec G304 -- path is built from the app's own data directory.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open session lock file: %w", err)
	}
	if err := lockFile(file); err != nil {
		_ = file.Close()

		return nil, err
	}
	writeOwner(file)

	return &fileSessionLock{file: file}, nil
}

// SessionOwner returns the pid recorded by the current lock holder, or 0.
func SessionOwner(dir string) int {
	// #nosec G304 -- path is built from the app's own data directory.
	raw, err := os.ReadFile(filepath.Join(dir, sessionLockFilename))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}

	return pid
}

type fileSessionLock struct {
	file *os.File
}

func (l *fileSessionLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return unlockErr
	}
	if closeErr != nil {
		return fmt.Errorf("close session lock file: %w", closeErr)
	}

	return nil
}

func writeOwner(file *os.File) {
	if err := file.Truncate(0); err != nil {
		return
	}
	_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
}
