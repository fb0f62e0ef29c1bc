package fs

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
)

// Real implements FS against the real filesystem.
type Real struct{}

// NewReal returns a new Real filesystem.
func NewReal() *Real {
	return &Real{}
}

func (r *Real) Open(path string) (File, error) { return os.Open(path) }

func (r *Real) Create(path string) (File, error) { return os.Create(path) }

func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (r *Real) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// WriteFileAtomic writes data through a temp file + rename so a crash
// mid-write never leaves a half-written file. perm is not applied.
func (r *Real) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

func (r *Real) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }

func (r *Real) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (r *Real) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (r *Real) Lstat(path string) (os.FileInfo, error) { return os.Lstat(path) }

func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

func (r *Real) Remove(path string) error { return os.Remove(path) }

func (r *Real) RemoveAll(path string) error { return os.RemoveAll(path) }

func (r *Real) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

const (
	lockTimeout = 2 * time.Second
	lockPerms   = 0o644
	dirPerms    = 0o755
)

type realLock struct {
	path string
	file *os.File
}

func (l *realLock) Close() error {
	if l.file != nil {
		_ = os.Remove(l.path)
		_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
		err := l.file.Close()
		l.file = nil

		return err
	}

	return nil
}

// Lock takes an exclusive flock on path's lock file under a ".locks"
// directory beside it, giving up after lockTimeout.
func (r *Real) Lock(path string) (Locker, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	locksDir := filepath.Join(dir, ".locks")
	lockPath := filepath.Join(locksDir, base+".lock")

	deadline := time.Now().Add(lockTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, os.ErrDeadlineExceeded
		}

		if err := os.MkdirAll(locksDir, dirPerms); err != nil {
			return nil, err
		}

		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, lockPerms)
		if err != nil {
			return nil, err
		}

		var openStat syscall.Stat_t
		if err := syscall.Fstat(int(file.Fd()), &openStat); err != nil {
			file.Close()
			return nil, err
		}

		fd := int(file.Fd())
		done := make(chan error, 1)

		go func() {
			done <- syscall.Flock(fd, syscall.LOCK_EX)
		}()

		select {
		case err := <-done:
			if err != nil {
				file.Close()
				return nil, err
			}

			var pathStat syscall.Stat_t
			if err := syscall.Stat(lockPath, &pathStat); err != nil || pathStat.Ino != openStat.Ino {
				syscall.Flock(fd, syscall.LOCK_UN)
				file.Close()

				continue
			}

			return &realLock{path: lockPath, file: file}, nil

		case <-time.After(remaining):
			file.Close()
			return nil, os.ErrDeadlineExceeded
		}
	}
}

var _ FS = (*Real)(nil)
