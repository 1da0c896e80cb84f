//go:build windows

package platform

import "golang.org/x/sys/windows"

// currentProcessPrivileged reports whether the process token is elevated.
func currentProcessPrivileged() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
