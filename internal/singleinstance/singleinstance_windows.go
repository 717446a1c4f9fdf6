//go:build windows

package singleinstance

import (
	"golang.org/x/sys/windows"

	"github.com/graaaaa/attention-collector/internal/appinfo"
)

// AcquireLock creates the session-scoped named mutex appinfo.MutexName.
// lockPath is unused on Windows: the mutex already covers every data
// directory of the user session.
func AcquireLock(lockPath string) (release func(), ok bool, err error) {
	name, err := windows.UTF16PtrFromString(appinfo.MutexName)
	if err != nil {
		return nil, false, err
	}

	h, err := windows.CreateMutex(nil, false, name)
	if err == windows.ERROR_ALREADY_EXISTS {
		// the handle refers to the other instance's mutex
		if h != 0 {
			windows.CloseHandle(h)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return func() { windows.CloseHandle(h) }, true, nil
}
