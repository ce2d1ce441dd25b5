package datablock

import "time"

// Hardcoded implementation limits and protocol constants.
//
// These exist primarily to:
//   - keep a "magic number" out of code that the spec explicitly calls out
//     (MAX_CONSUMER_HEARTBEATS),
//   - bound resource usage for configurations this package does not test,
//   - keep backoff/timeout behavior predictable across platforms.
const (
	// MaxConsumerHeartbeats is the fixed capacity of the header's consumer
	// heartbeat table. A segment supports at most this many concurrently
	// registered consumers for liveness/heartbeat purposes; it does not
	// limit the number of readers of a LatestOnly segment, which need not
	// register at all.
	MaxConsumerHeartbeats = 8

	// MaxSlotCount bounds RingBuffer capacity to keep slot-index arithmetic
	// and layout offsets comfortably within uint32/uint64 ranges used by the
	// wire layout.
	MaxSlotCount = 1 << 20

	// MaxLogicalUnitSize bounds a single slot payload. Segments exist to
	// move small, fixed-size structured records; very large payloads belong
	// in a different transport.
	MaxLogicalUnitSize = 64 << 20 // 64 MiB

	// MaxFlexZoneSize bounds the flexible zone.
	MaxFlexZoneSize = 16 << 20 // 16 MiB

	// spinlockBackoffMin/Max bound the exponential pause/yield backoff used
	// while spinning for a spinlock or a slot's writer_pid/reader_count to
	// clear, per spec §4.2's "exponential, capped" backoff requirement.
	spinlockBackoffMinIters = 1
	spinlockBackoffMaxIters = 1024

	// spinlockSleepCap is the ceiling for the sleep_for phase of backoff
	// once pure spinning has backed off to its maximum.
	spinlockSleepCap = 4 * time.Millisecond

	// readerRetryBudget bounds the number of TOCTTOU double-check retries a
	// single reader acquisition attempt performs. Once it is exhausted the
	// attempt reports ErrWouldBlock to TryNext, which backs off and tries
	// again until the caller's deadline, so the double-check loop never
	// spins without backoff.
	readerRetryBudget = 10_000
)
