//go:build !unix

package diskmanager

import (
	"errors"
	"os"
)

// LockFileName is the name of the lock file placed in a store directory.
const LockFileName = "LOCK"

// ErrLocked is returned when another process holds the directory lock.
var ErrLocked = errors.New("store directory is locked by another process")

// LockDir is a no-op on platforms without flock.
func LockDir(string) (func() error, error) {
	return func() error { return nil }, nil
}

func syncDir(*os.File) error {
	// Directory handles cannot be synced here; renames rely on the OS.
	return nil
}
