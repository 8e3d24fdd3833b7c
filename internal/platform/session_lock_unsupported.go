//go:build !unix && !windows

package platform

import (
	"fmt"
	"os"
	"runtime"
)

func lockFile(_ *os.File) error {
	return fmt.Errorf("%w on %s", ErrSessionLockUnsupported, runtime.GOOS)
}

func unlockFile(_ *os.File) error {
	return nil
}
