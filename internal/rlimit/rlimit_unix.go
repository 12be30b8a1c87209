//go:build linux || darwin

// Package rlimit raises the process's open file limit so a single generator
// can hold thousands of sockets.
package rlimit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Raise lifts the soft RLIMIT_NOFILE towards want, capped at the hard limit.
// want == 0 means "as high as the hard limit allows". It returns the soft
// limit in effect afterwards and never lowers it.
func Raise(want uint64) (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("rlimit: getrlimit: %w", err)
	}

	target := want
	if target == 0 || target > lim.Max {
		target = lim.Max
	}
	if target <= lim.Cur {
		return lim.Cur, nil
	}

	lim.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("rlimit: setrlimit %d: %w", target, err)
	}
	return current()
}

func current() (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("rlimit: getrlimit: %w", err)
	}
	return lim.Cur, nil
}
