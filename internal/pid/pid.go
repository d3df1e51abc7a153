// Package pid keeps a single teractl process per host. The lock file lives
// in the system temporary directory.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/teralab/teractl/internal/errors"
	"golang.org/x/sys/unix"
)

const (
	pidFile = "teractl.pid"
)

// Path returns the location of the PID file.
func Path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write records the current process ID. It fails with
// errors.ErrAlreadyRunning when the recorded process is still alive; a
// stale file is overwritten.
func Write() error {
	errFactory := errors.New()
	path := Path()

	if raw, err := os.ReadFile(path); err == nil {
		if other, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil && alive(other) {
			return errFactory.WithData(errors.ErrAlreadyRunning, other)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	return nil
}

// Remove deletes the PID file if it exists.
func Remove() error {
	if err := os.Remove(Path()); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

// alive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
