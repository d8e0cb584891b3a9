package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another run holds the lock")

// RunLock is an exclusive lock file guarding the read-modify-write cycle.
type RunLock struct {
	path string
}

// Lock creates path exclusively. The file holds the owner's pid.
func Lock(path string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &PersistenceError{Op: "create dir", Path: filepath.Dir(path), Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			owner, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w (%s, pid %s)", ErrLocked, path, string(owner))
		}
		return nil, &PersistenceError{Op: "create lock", Path: path, Err: err}
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return nil, &PersistenceError{Op: "write lock", Path: path, Err: err}
	}
	return &RunLock{path: path}, nil
}

// Release removes the lock file.
func (l *RunLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &PersistenceError{Op: "remove lock", Path: l.path, Err: err}
	}
	return nil
}
