package storage

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the data lock.
var ErrLocked = errors.New("data directory is locked by another process")

// Lock is an exclusive advisory lock on a database path.
type Lock struct {
	fl *flock.Flock
}

// LockPath returns the lock file path for a database.
func LockPath(dbPath string) string {
	return dbPath + ".lock"
}

// AcquireLock takes a non-blocking exclusive lock next to dbPath.
func AcquireLock(dbPath string) (*Lock, error) {
	fl := flock.New(LockPath(dbPath))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Release unlocks the lock file.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
