//go:build !unix && !windows

package singleinstance

// acquire is a no-op where neither flock nor named mutexes exist.
func acquire(lockPath string) (release func(), ok bool, err error) {
	return func() {}, true, nil
}
