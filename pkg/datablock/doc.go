// Package datablock implements the DataBlock shared-memory streaming core:
// the segment layout, slot-coordination protocol, and producer/consumer
// APIs that give at-most-one-writer / many-reader streaming between
// cooperating processes on a single host.
//
// A producer publishes fixed-size records ("slots") into a shared-memory
// ring; one or more consumers read them with zero-copy access. Bulk data
// never passes through a broker — discovery is out of scope for this
// package and lives behind the [github.com/pylabhub/datablock/pkg/messenger]
// interface.
//
// # Basic Usage
//
//	prod, err := datablock.Create("orders", datablock.Config{
//	    Policy:            datablock.RingBuffer,
//	    ConsumerSync:      datablock.LatestOnly,
//	    LogicalUnitSize:   64,
//	    SlotCount:         256,
//	    SharedSecret:      secret,
//	})
//	defer prod.Close()
//
//	h, err := prod.AcquireWriteSlot(100 * time.Millisecond)
//	n := copy(h.Bytes(), payload)
//	err = prod.Commit(h, n)
//
//	cons, err := datablock.Attach("orders", secret, nil)
//	defer cons.Close()
//
//	ch, err := cons.TryNext(100 * time.Millisecond)
//	_ = ch.Bytes()
//	cons.Release(ch)
//
// # Concurrency
//
// A DataBlock is multi-process, multi-reader, single-writer per slot:
//   - Exactly one process may hold the write side of a given slot at a time.
//   - Any number of consumer processes may read committed slots concurrently.
//   - The flexible zone is guarded by its own spinlock, independent of slot
//     coordination.
//
// # Error Handling
//
// Errors fall into four categories (see [ErrBadMagic] and siblings):
// configuration errors (fatal at Create/Attach, not retryable), transient
// errors ([ErrTimeout], [ErrWouldBlock], retryable by the caller),
// data-integrity errors ([ErrChecksumFailed], [Lost], policy-configurable),
// and infrastructure errors ([ErrMapFailed], [ErrFatal], requiring the
// caller to detach).
package datablock
