//go:build unix

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ReuseAddrControl 监听前打开SO_REUSEADDR，重启时不用等TIME_WAIT
func ReuseAddrControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
