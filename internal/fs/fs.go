// Package fs provides the filesystem abstraction the crawler's directory
// reads are built against, instead of calling [os] directly.
package fs

import (
	"io"
	"os"
)

// File represents an open file descriptor. Satisfied by [os.File].
type File interface {
	io.ReadWriteCloser
	io.Seeker

	Fd() uintptr
	Stat() (os.FileInfo, error)
}

// Locker represents a held exclusive lock. Call Close to release it.
type Locker interface {
	io.Closer
}

// FS defines the filesystem operations the daemon performs, mirroring the
// [os] package equivalents but substitutable for testing.
type FS interface {
	Open(path string) (File, error)
	Create(path string) (File, error)
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	ReadFile(path string) ([]byte, error)
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	ReadDir(path string) ([]os.DirEntry, error)
	MkdirAll(path string, perm os.FileMode) error

	Stat(path string) (os.FileInfo, error)
	Lstat(path string) (os.FileInfo, error)
	Exists(path string) (bool, error)

	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error

	// Lock acquires the daemon's single-instance lock at path, blocking
	// until acquired or the internal timeout elapses.
	Lock(path string) (Locker, error)
}

var _ File = (*os.File)(nil)
