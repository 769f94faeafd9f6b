//go:build !unix

package netutil

import "syscall"

func ReuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
