// Package singleinstance keeps two watchers from supervising the same
// server or writing the same database.
package singleinstance

import "errors"

// ErrLocked is returned when another instance holds the lock.
var ErrLocked = errors.New("another instance is running")

// Acquire takes the instance lock for the data directory containing
// lockPath. The returned release func must be called on shutdown.
// Returns ErrLocked when another process holds it.
func Acquire(lockPath string) (release func(), err error) {
	release, ok, err := acquire(lockPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return release, nil
}
