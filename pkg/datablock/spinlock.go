package datablock

import (
	"context"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/pylabhub/datablock/internal/procutil"
)

// Spinlock field offsets within its uniform 32-byte layout (spec §4.2):
// pid, tid, token, recursion_count.
const (
	offLockPID             = 0  // atomic uint64
	offLockTID             = 8  // atomic uint64
	offLockToken           = 16 // atomic uint64
	offLockRecursionCount  = 24 // atomic uint32
	// 4 bytes padding, 28..32
)

// spinlock is a typed accessor over one flexzone-style 32-byte spinlock
// region. It supports the two acquisition modes spec §4.2 describes: PID/TID
// mode for cross-process mutual exclusion, and token mode for in-process
// handoff between goroutines that already agree they're in the same
// process.
type spinlock struct {
	r region
}

func spinlockAt(r region) spinlock { return spinlock{r: r} }

// acquirePID blocks (spinning, then sleeping with exponential backoff)
// until it owns the lock under PID/TID mode, ctx is canceled, or deadline
// elapses. Reentrant: if the lock is already held by this process/thread
// it increments recursion_count instead of deadlocking.
func (s spinlock) acquirePID(ctx context.Context) (*lockGuard, error) {
	self := procutil.CurrentPID()
	tid := uint64(gettid())

	if s.r.loadU64(offLockPID) == self && s.r.loadU64(offLockTID) == tid {
		s.r.addU32(offLockRecursionCount, 1)
		return &lockGuard{lock: s, mode: lockModePID, reentrant: true}, nil
	}

	b := newBackoff()

	for {
		if s.r.casU64(offLockPID, 0, self) {
			s.r.storeU64(offLockTID, tid)
			s.r.storeU32(offLockRecursionCount, 1)
			return &lockGuard{lock: s, mode: lockModePID}, nil
		}

		owner := s.r.loadU64(offLockPID)
		if owner != 0 && !procutil.Alive(owner) {
			// Best-effort single-CAS reclaim of a dead owner's lock, spec
			// §4.2's zombie-owner handling.
			if s.r.casU64(offLockPID, owner, self) {
				s.r.storeU64(offLockTID, tid)
				s.r.storeU32(offLockRecursionCount, 1)
				return &lockGuard{lock: s, mode: lockModePID}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		default:
		}

		if !b.pause() {
			return nil, ErrTimeout
		}
	}
}

// acquireToken blocks until it owns the lock under token mode using
// tokenValue (a process-unique nonzero value the caller supplies), ctx is
// canceled, or deadline elapses.
func (s spinlock) acquireToken(ctx context.Context, tokenValue uint64) (*lockGuard, error) {
	if tokenValue == 0 {
		panic("datablock: token mode requires a nonzero token")
	}

	if s.r.loadU64(offLockToken) == tokenValue {
		return &lockGuard{lock: s, mode: lockModeToken, token: tokenValue, reentrant: true}, nil
	}

	b := newBackoff()

	for {
		if s.r.casU64(offLockToken, 0, tokenValue) {
			return &lockGuard{lock: s, mode: lockModeToken, token: tokenValue}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		default:
		}

		if !b.pause() {
			return nil, ErrTimeout
		}
	}
}

// release is called exactly once by lockGuard.Release/Detach; it is
// non-throwing by construction (no error path) matching the guard's RAII
// contract from spec §4.2.
func (s spinlock) release(mode lockMode, token uint64) {
	switch mode {
	case lockModePID:
		if s.r.addU32(offLockRecursionCount, ^uint32(0)) == 0 {
			s.r.storeU64(offLockTID, 0)
			atomic.StoreUint64(s.r.atomicU64(offLockPID), 0)
		}
	case lockModeToken:
		s.r.casU64(offLockToken, token, 0)
	}
}

type lockMode uint8

const (
	lockModePID lockMode = iota
	lockModeToken
)

// lockGuard is the RAII-style handle returned by acquirePID/acquireToken.
// Release is idempotent; a guard that has already released or been
// detached is a no-op on a second Release call.
type lockGuard struct {
	lock      spinlock
	mode      lockMode
	token     uint64
	reentrant bool
	released  bool
	detached  bool
}

// Release releases the lock (decrementing the reentrancy counter under
// PID/TID mode). Safe to call multiple times.
func (g *lockGuard) Release() {
	if g == nil || g.released || g.detached {
		return
	}

	g.lock.release(g.mode, g.token)
	g.released = true
}

// Detach marks the guard as not owning the lock without releasing it, for
// callers that hand ownership off elsewhere.
func (g *lockGuard) Detach() {
	if g == nil {
		return
	}

	g.detached = true
}

// backoff implements spec §4.2's "exponential, capped" pause/yield/sleep
// schedule: pure spin with runtime.Gosched for the first iterations, then
// increasingly long sleeps capped at spinlockSleepCap.
type backoff struct {
	iter     int
	deadline time.Time
	hasLimit bool
}

func newBackoff() *backoff {
	return &backoff{iter: spinlockBackoffMinIters}
}

func newBackoffWithDeadline(d time.Time) *backoff {
	return &backoff{iter: spinlockBackoffMinIters, deadline: d, hasLimit: true}
}

// pause performs one backoff step and reports whether the caller should
// keep trying (false means the backoff's own deadline, if any, elapsed).
func (b *backoff) pause() bool {
	if b.hasLimit && time.Now().After(b.deadline) {
		return false
	}

	if b.iter <= spinlockBackoffMaxIters {
		for i := 0; i < b.iter; i++ {
			runtime.Gosched()
		}

		b.iter *= 2

		return true
	}

	sleep := time.Duration(b.iter/spinlockBackoffMaxIters) * time.Microsecond
	if sleep >= spinlockSleepCap {
		sleep = spinlockSleepCap
	} else {
		b.iter *= 2
	}

	// Jitter avoids synchronized thundering-herd wakeups across processes
	// all backed off to the sleep cap at once.
	jitter := time.Duration(rand.Int63n(int64(sleep)/4 + 1))
	time.Sleep(sleep + jitter)

	return true
}

// gettid returns the OS thread ID of the calling goroutine's current
// thread. DataBlock's reentrancy model is per-OS-thread, matching the
// spec's "same-thread reentry"; Go callers that rely on reentrant locking
// must pin the goroutine with runtime.LockOSThread.
func gettid() int {
	return osGettid()
}
