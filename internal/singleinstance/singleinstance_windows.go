//go:build windows

package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/windows"

	"github.com/graaaaa/valheim-watcher/internal/appinfo"
)

// acquire owns the machine-wide named mutex; lockPath only receives the
// pid for operators.
func acquire(lockPath string) (release func(), ok bool, err error) {
	name, err := windows.UTF16PtrFromString(appinfo.MutexName)
	if err != nil {
		return nil, false, fmt.Errorf("mutex name: %w", err)
	}

	h, err := windows.CreateMutex(nil, false, name)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if h != 0 {
			_ = windows.CloseHandle(h)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create mutex: %w", err)
	}

	_ = os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)

	return func() {
		_ = windows.CloseHandle(h)
		_ = os.Remove(lockPath)
	}, true, nil
}
