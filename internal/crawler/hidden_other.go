//go:build !windows

package crawler

// isHiddenAttr reports the FAT/NTFS hidden attribute. Unavailable on this
// platform, so every entry is treated as visible per spec.md §4.5's
// "unavailable -> treat as visible" fallback.
func isHiddenAttr(path string) bool {
	return false
}
