//go:build !linux && !darwin

// Package rlimit raises the process's open file limit so a single generator
// can hold thousands of sockets.
package rlimit

// Raise is a no-op on other platforms.
func Raise(want uint64) (uint64, error) {
	return want, nil
}
