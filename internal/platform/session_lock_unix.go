//go:build unix

package platform

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

func lockFile(file *os.File) error {
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return ErrSessionActive
		}

		return fmt.Errorf("acquire session file lock: %w", err)
	}

	return nil
}

func unlockFile(file *os.File) error {
	err := syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
	if err != nil && !errors.Is(err, syscall.EBADF) {
		return fmt.Errorf("unlock session file lock: %w", err)
	}

	return nil
}
