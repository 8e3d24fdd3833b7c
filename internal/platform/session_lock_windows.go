//go:build windows

package platform

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// Locking the first byte is enough: every process locks the same range.
const lockedRange = 1

func lockFile(file *os.File) error {
	overlapped := new(windows.Overlapped)
	err := windows.LockFileEx(
		windows.Handle(file.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		lockedRange,
		0,
		overlapped,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return ErrSessionActive
		}

		return fmt.Errorf("acquire session file lock: %w", err)
	}

	return nil
}

func unlockFile(file *os.File) error {
	overlapped := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(file.Fd()), 0, lockedRange, 0, overlapped); err != nil {
		return fmt.Errorf("unlock session file lock: %w", err)
	}

	return nil
}
