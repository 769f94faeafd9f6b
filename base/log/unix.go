//go:build unix

package log

import (
	"os"

	"golang.org/x/sys/unix"
)

// redirectStderr 把fd 2指向文件，runtime的panic输出也会进入该文件
func redirectStderr(errorFile string) error {
	f, err := os.OpenFile(errorFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	if err := unix.Dup2(int(f.Fd()), int(os.Stderr.Fd())); err != nil {
		_ = f.Close()
		return err
	}
	os.Stderr = f
	return nil
}
