package datablock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pylabhub/datablock/internal/procutil"
)

// Consumer is a reader handle to a DataBlock segment, returned by [Attach].
// Any number of Consumers, in any number of processes, may read a segment
// concurrently.
type Consumer struct {
	seg      *segment
	name     string
	diag     *Diagnostics
	syncMode ConsumerSync
	onFail   OnChecksumFail

	mu            sync.Mutex
	heartbeatSlot int // -1 if unregistered
	lastSeenSeq   CommitSeq
	haveSeenAny   bool
	closed        bool
}

// Attach opens an existing segment by name, validating magic, header
// version, shared secret, and (when expect is non-nil) the stored schema
// hashes, per spec §4.1/§4.7.
func Attach(name string, sharedSecret uint64, expect *ExpectedSchemas, opts ...Option) (*Consumer, error) {
	o := resolveOptions(opts)

	var internal *expectedSchemas
	if expect != nil {
		internal = &expectedSchemas{FlexZone: expect.FlexZone, DataBlock: expect.DataBlock}
	}

	seg, err := attachSegment(o.fsys, o.dir, name, sharedSecret, internal)
	if err != nil {
		return nil, err
	}

	h := seg.header()

	c := &Consumer{
		seg:           seg,
		name:          name,
		diag:          o.diag,
		syncMode:      h.consumerSync(),
		onFail:        Skip,
		heartbeatSlot: -1,
	}

	if c.syncMode == SingleReader || c.syncMode == SyncReader {
		if err := c.register(); err != nil {
			seg.close()
			return nil, err
		}
	}

	return c, nil
}

// ExpectedSchemas is the exported form of the internal expectedSchemas,
// supplied by callers of [Attach].
type ExpectedSchemas struct {
	FlexZone  *[32]byte
	DataBlock *[32]byte
}

// WithOnChecksumFail sets how this consumer reacts to a checksum
// verification failure under [ChecksumEnforced] (spec §4.7). Default is
// [Skip].
func (c *Consumer) WithOnChecksumFail(mode OnChecksumFail) *Consumer {
	c.onFail = mode
	return c
}

func (c *Consumer) register() error {
	h := c.seg.header()

	for i := 0; i < MaxConsumerHeartbeats; i++ {
		e := h.heartbeat(i)
		if e.registered() {
			continue
		}

		e.setPID(procutil.CurrentPID())
		e.touch(nowNs())
		e.setRegistered(true)
		h.addActiveConsumerCount(1)
		c.heartbeatSlot = i

		if c.diag != nil {
			c.diag.activeConsumers.Inc()
		}

		return nil
	}

	return fmt.Errorf("datablock: consumer heartbeat table full (max %d): %w", MaxConsumerHeartbeats, ErrInvalidConfig)
}

// Heartbeat updates this consumer's registered heartbeat entry. LatestOnly
// consumers never register (spec §6.2's heartbeat table only tracks
// SingleReader/SyncReader readers [ReapOrphanHeartbeats] can reclaim), so
// calling Heartbeat on one returns [ErrNotRegistered].
func (c *Consumer) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.heartbeatSlot < 0 {
		return ErrNotRegistered
	}

	c.seg.header().heartbeat(c.heartbeatSlot).touch(nowNs())

	return nil
}

// ConsumeSlotHandle borrows one committed slot's payload span for reading.
// It must be resolved by [Consumer.Release].
type ConsumeSlotHandle struct {
	index      uint32
	generation Generation
	payload    []byte
	released   bool
}

// Bytes returns the read-only payload span.
func (h *ConsumeSlotHandle) Bytes() []byte { return h.payload }

// Index returns the slot index this handle reads from.
func (h *ConsumeSlotHandle) Index() uint32 { return h.index }

// TryNext attempts to read the next slot this consumer should observe,
// blocking with backoff until one is ready, ctx is effectively canceled by
// timeout elapsing, or timeout elapses with nothing ready ([ErrWouldBlock]
// if timeout is zero, [ErrTimeout] otherwise). A [Lost] error may be
// returned instead when a SingleReader/SyncReader consumer detects
// wrap-around.
func (c *Consumer) TryNext(timeout time.Duration) (*ConsumeSlotHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	b := newBackoffWithDeadline(time.Now().Add(timeout))

	for {
		h, err := c.tryNextOnce()
		if err == nil {
			return h, nil
		}

		if err != ErrWouldBlock {
			return nil, err
		}

		select {
		case <-ctx.Done():
			if timeout <= 0 {
				return nil, ErrWouldBlock
			}

			return nil, ErrTimeout
		default:
		}

		if !b.pause() {
			if timeout <= 0 {
				return nil, ErrWouldBlock
			}

			return nil, ErrTimeout
		}
	}
}

func (c *Consumer) tryNextOnce() (*ConsumeSlotHandle, error) {
	hdr := c.seg.header()
	slotCount := uint64(hdr.slotCount())
	commitSeq := hdr.commitSequence()

	if commitSeq == 0 {
		return nil, ErrWouldBlock
	}

	var targetSeq CommitSeq

	switch c.syncMode {
	case LatestOnly:
		targetSeq = commitSeq - 1
	case SingleReader, SyncReader:
		if c.haveSeenAny {
			targetSeq = c.lastSeenSeq + 1
		} else if commitSeq > CommitSeq(slotCount) {
			// Nothing tracks this reader's position yet; start at the
			// oldest slot still inside the ring instead of replaying
			// history that has already been overwritten.
			targetSeq = commitSeq - CommitSeq(slotCount)
		} else {
			targetSeq = 0
		}

		if targetSeq > commitSeq-1 {
			return nil, ErrWouldBlock
		}

		if commitSeq-targetSeq > CommitSeq(slotCount) {
			// The producer has wrapped past this reader's expected slot
			// before it could be consumed. Resume at the oldest slot
			// still inside the ring rather than jumping straight to the
			// newest, so no further still-valid commits are skipped.
			windowStart := commitSeq - CommitSeq(slotCount)
			skipped := uint64(windowStart - targetSeq)
			c.lastSeenSeq = windowStart - 1
			c.haveSeenAny = true

			return nil, &Lost{Skipped: skipped}
		}
	default:
		targetSeq = commitSeq - 1
	}

	target := uint32(uint64(targetSeq) % slotCount)

	st := slotStateAt(c.seg.region(), c.seg.l, target)

	for attempt := 0; attempt < readerRetryBudget; attempt++ {
		gen1 := st.generation()

		st.acquireReader()

		writerPID := st.writerPID()
		gen2 := st.generation()

		if writerPID != 0 || gen1 != gen2 {
			st.releaseReader()
			continue
		}

		n := st.payloadLength()
		payload := payloadSpan(c.seg.region(), c.seg.l, target)

		if policy := hdr.checksumPolicy(); policy == ChecksumEnforced ||
			(policy == ChecksumManual && st.checksumTrunc() != 0) {
			if !verifySlotChecksum(payload.b, n, st.checksumTrunc()) {
				st.releaseReader()

				if c.diag != nil {
					c.diag.recordChecksumFailure(target, "consumer_release")
				}

				c.lastSeenSeq = targetSeq
				c.haveSeenAny = true

				if c.onFail == Pass {
					return nil, ErrChecksumFailed
				}

				return nil, ErrWouldBlock
			}
		}

		c.lastSeenSeq = targetSeq
		c.haveSeenAny = true

		return &ConsumeSlotHandle{index: target, generation: gen1, payload: payload.b[:n]}, nil
	}

	return nil, ErrWouldBlock
}

// Release returns ownership of h's slot, decrementing reader_count.
func (c *Consumer) Release(h *ConsumeSlotHandle) {
	if h == nil || h.released {
		return
	}

	st := slotStateAt(c.seg.region(), c.seg.l, h.index)
	st.releaseReader()
	h.released = true
}

// FlexZone returns the segment's flexible zone handle for structured
// metadata access.
func (c *Consumer) FlexZone() FlexZone { return c.seg.flexZone() }

// DebugSlotState returns a read-only snapshot of slot i's coordination
// state.
func (c *Consumer) DebugSlotState(i uint32) SlotDebugView {
	return slotStateAt(c.seg.region(), c.seg.l, i).debugView(i)
}

// SlotIterator is a lazy, restartable sequence of committed slots (spec
// §4.5). It is restartable from the producer's current state, not from the
// beginning of history: constructing a new SlotIterator after some slots
// have already been produced starts wherever [Consumer.TryNext] would.
type SlotIterator struct {
	c *Consumer
}

// SlotIterator returns an iterator bound to c.
func (c *Consumer) SlotIterator() *SlotIterator {
	return &SlotIterator{c: c}
}

// Next is equivalent to c.TryNext(timeout) on the iterator's consumer.
func (it *SlotIterator) Next(timeout time.Duration) (*ConsumeSlotHandle, error) {
	return it.c.TryNext(timeout)
}

// Close deregisters this consumer's heartbeat entry (if registered) and
// unmaps the segment.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if c.heartbeatSlot >= 0 {
		h := c.seg.header()
		h.heartbeat(c.heartbeatSlot).clear()
		h.addActiveConsumerCount(-1)

		if c.diag != nil {
			c.diag.activeConsumers.Dec()
		}
	}

	return c.seg.close()
}
