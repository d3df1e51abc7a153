//go:build unix

package teraflash

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddr lets the fixed receive and transmit ports be rebound right
// after a disconnect.
func reuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
