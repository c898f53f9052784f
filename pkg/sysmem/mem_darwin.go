//go:build darwin

package sysmem

import "golang.org/x/sys/unix"

// systemMemory reads hw.memsize; macOS does not expose free memory via sysctl.
func systemMemory() (total, free uint64, ok bool) {
	mem, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, 0, false
	}
	return mem, 0, true
}
