//go:build !unix && !windows

package log

func redirectStderr(string) error {
	return nil
}
