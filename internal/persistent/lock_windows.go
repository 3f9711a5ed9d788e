//go:build windows

// lock_windows.go implements the directory lock on Windows systems, grounded
// in the teacher's internal/vfs/lock_windows.go.
package persistent

import (
	"io"
	"os"
)

type fileLock struct {
	f *os.File
}

// lockDirectory opens (creating if needed) the lock file but takes no lock
// on it: on Windows a second Open of the same directory is not refused.
func lockDirectory(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	return l.f.Close()
}
