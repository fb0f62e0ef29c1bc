//go:build windows

package crawler

import "golang.org/x/sys/windows"

// isHiddenAttr queries the FAT/NTFS hidden attribute via the same
// GetFileAttributes ioctl-equivalent the source uses on this platform
// (spec.md §4.5: "on one platform also the FAT hidden attribute via an
// ioctl").
func isHiddenAttr(path string) bool {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}

	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return false
	}

	return attrs&windows.FILE_ATTRIBUTE_HIDDEN != 0
}
