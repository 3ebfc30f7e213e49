//go:build windows

package flock

import "os"

// Windows appenders fall back to the documented single-writer assumption.

func lock(f *os.File) error {
	return nil
}

func unlock(f *os.File) error {
	return nil
}
