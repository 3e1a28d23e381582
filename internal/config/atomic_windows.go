//go:build windows

package config

import "golang.org/x/sys/windows"

// replaceFile moves tmp over path. os.Rename fails on Windows when the
// destination exists, so MoveFileEx with MOVEFILE_REPLACE_EXISTING is used.
func replaceFile(tmp, path string) error {
	src, err := windows.UTF16PtrFromString(tmp)
	if err != nil {
		return err
	}
	dst, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	return windows.MoveFileEx(src, dst, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH)
}
