// Package procutil provides portable-enough process-liveness checks used
// by the DataBlock spinlock and writer-acquisition paths to tell a live
// owner from a crashed one, per spec §4.8's "Liveness check".
package procutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Alive reports whether pid identifies a currently-running process. A PID
// of 0 or a negative PID is never considered alive (0 is the sentinel for
// "no owner" throughout this module).
func Alive(pid uint64) bool {
	if pid == 0 || pid > 1<<31 {
		return false
	}

	// Kill with signal 0 performs no actual signaling; it only validates
	// that the PID exists and is visible to this process, exactly as
	// gdbx's lock.go uses it for reader-slot liveness checks.
	err := syscall.Kill(int(pid), 0)
	if err == nil {
		return true
	}

	// ESRCH: no such process. EPERM: it exists but we can't signal it,
	// which still means it is alive.
	return err == syscall.EPERM
}

// StartTime returns a best-effort start-time marker for pid, read from
// /proc/<pid>/stat field 22 (on Linux; clock ticks since boot). The
// datablock package records it in the segment header as the producer's
// start marker at Create. The liveness checks in this module (writer and
// spinlock owner reclaim, heartbeat reaping, ForceReset) do not consult
// it: they use [Alive] alone, so a dead owner whose PID has been reused by
// another process reads as alive. A zero return with a non-nil error means
// the marker could not be read (process gone, or /proc unavailable).
func StartTime(pid uint64) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, fmt.Errorf("procutil: read stat for pid %d: %w", pid, err)
	}

	// Field 2 (comm) is parenthesized and may itself contain spaces or
	// parens, so locate fields from the last ')' rather than splitting
	// naively on spaces.
	close := strings.LastIndexByte(string(data), ')')
	if close < 0 || close+2 >= len(data) {
		return 0, fmt.Errorf("procutil: malformed /proc/%d/stat", pid)
	}

	fields := strings.Fields(string(data[close+2:]))
	const startTimeFieldIndex = 19 // field 22 overall, 0-indexed from field 3
	if len(fields) <= startTimeFieldIndex {
		return 0, fmt.Errorf("procutil: /proc/%d/stat missing starttime field", pid)
	}

	v, err := strconv.ParseUint(fields[startTimeFieldIndex], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("procutil: parse starttime for pid %d: %w", pid, err)
	}

	return v, nil
}

// CurrentPID returns the calling process's PID as a uint64, matching the
// width used for writer_pid/heartbeat pid fields in the wire layout.
func CurrentPID() uint64 {
	return uint64(os.Getpid())
}
