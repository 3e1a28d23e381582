//go:build !windows

package config

import "os"

// replaceFile moves tmp over path. On POSIX, rename replaces atomically.
func replaceFile(tmp, path string) error {
	return os.Rename(tmp, path)
}
