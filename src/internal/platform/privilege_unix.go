//go:build !windows

package platform

import "golang.org/x/sys/unix"

// currentProcessPrivileged reports whether we already run as root.
func currentProcessPrivileged() bool {
	return unix.Geteuid() == 0
}
