//go:build !windows

// lock_unix.go implements the directory lock on Unix systems, grounded in
// the teacher's internal/vfs/lock.go (flock-based advisory locking).
package persistent

import (
	"io"
	"os"
	"syscall"
)

type fileLock struct {
	f *os.File
}

// lockDirectory acquires an exclusive advisory lock on the named file,
// creating it if necessary (spec §5 "a process holds an exclusive lock on
// the database directory while open; opening a locked directory fails with
// Locked").
func lockDirectory(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}
