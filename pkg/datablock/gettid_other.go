//go:build !linux

package datablock

import "os"

// osGettid falls back to the process PID on non-Linux platforms, where a
// portable thread-ID syscall isn't available through golang.org/x/sys/unix
// in the same form. Same-thread reentrancy detection degrades to
// same-process detection there.
func osGettid() int {
	return os.Getpid()
}
