//go:build windows

package log

import (
	"os"

	"golang.org/x/sys/windows"
)

// redirectStderr 把运行时直接写到错误句柄的内容（如panic堆栈）重定向到文件
// 同时替换os.Stderr
func redirectStderr(errorFile string) error {
	f, err := os.OpenFile(errorFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	if err := windows.SetStdHandle(windows.STD_ERROR_HANDLE, windows.Handle(f.Fd())); err != nil {
		return err
	}
	os.Stderr = f
	return nil
}
