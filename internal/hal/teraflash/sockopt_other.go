//go:build !unix

package teraflash

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
