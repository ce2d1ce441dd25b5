package datablock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pylabhub/datablock/internal/procutil"
	"github.com/pylabhub/datablock/pkg/fs"
)

// Producer is the single-writer handle to a DataBlock segment, returned by
// [Create]. A Producer is safe for concurrent use by multiple goroutines in
// the creating process; cross-process mutual exclusion is provided by the
// writer_pid CAS protocol, but within one process AcquireWriteSlot calls
// are serialized by an internal mutex since the wire protocol models one
// OS-level writer per slot, not one per goroutine.
type Producer struct {
	seg    *segment
	name   string
	diag   *Diagnostics
	mu     sync.Mutex
	closed bool
}

// Create initializes a new named DataBlock segment and returns its
// Producer handle. name must not already be in use; see [ErrNameConflict].
func Create(name string, cfg Config, opts ...Option) (*Producer, error) {
	o := resolveOptions(opts)

	seg, err := createSegment(o.fsys, o.dir, name, cfg)
	if err != nil {
		return nil, err
	}

	return &Producer{seg: seg, name: name, diag: o.diag}, nil
}

// Option configures [Create]/[Attach] beyond [Config].
type Option func(*options)

type options struct {
	fsys fs.FS
	dir  string
	diag *Diagnostics
}

func resolveOptions(opts []Option) options {
	o := options{fsys: fs.NewReal(), dir: defaultShmDir, diag: nil}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// WithFS overrides the filesystem implementation backing segment creation,
// primarily for fault-injection tests via [fs.Chaos]/[fs.Crash].
func WithFS(fsys fs.FS) Option {
	return func(o *options) { o.fsys = fsys }
}

// WithDir overrides the directory named segments are created/attached in.
// Production code leaves this at its [defaultShmDir] default; tests point
// it at t.TempDir() so they never touch the real /dev/shm.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithDiagnostics attaches a [Diagnostics] collector.
func WithDiagnostics(d *Diagnostics) Option {
	return func(o *options) { o.diag = d }
}

// WriteSlotHandle borrows one slot's payload span for the duration of a
// write. It must be resolved by exactly one of [Producer.Commit] or
// [Producer.Discard].
type WriteSlotHandle struct {
	prod     *Producer
	index    uint32
	payload  []byte
	resolved bool
}

// Bytes returns the mutable payload span the caller writes into. Writing
// past the configured LogicalUnitSize panics (slice bounds), matching the
// fixed-stride wire layout: a slot cannot grow to hold an oversized record.
func (h *WriteSlotHandle) Bytes() []byte { return h.payload }

// Index returns the slot index this handle writes to.
func (h *WriteSlotHandle) Index() uint32 { return h.index }

// AcquireWriteSlot blocks (spinning with backoff, reclaiming a dead
// writer's ownership when detected) until it owns the next slot selected by
// the segment's policy, ctx is canceled, or timeout elapses. On success it
// returns a [WriteSlotHandle]; on timeout it returns [ErrTimeout] with no
// side effects, per spec §4.3.1. If the segment's header no longer decodes
// as the one this Producer created, it returns [ErrFatal] (see [AsFatal]):
// the mapping can no longer be trusted and the caller must detach.
func (p *Producer) AcquireWriteSlot(timeout time.Duration) (*WriteSlotHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	h := p.seg.header()

	if h.magic() != magicValue {
		return nil, &fatalError{reason: "segment header corrupted (bad magic) since create"}
	}

	slotCount := uint64(h.slotCount())
	target := uint32(h.commitSequence() % slotCount)

	st := slotStateAt(p.seg.region(), p.seg.l, target)
	self := procutil.CurrentPID()

	b := newBackoffWithDeadline(time.Now().Add(timeout))

	for {
		if owner := st.writerPID(); owner != 0 {
			if !procutil.Alive(owner) {
				if st.resetWriterPID(owner) {
					p.logOrphanReclaim(target, owner)
				}
			}
		}

		if st.readerCount() == 0 && st.casWriterPID(0, self) {
			st.setWriterStartNs(nowNs())

			payload := payloadSpan(p.seg.region(), p.seg.l, target)

			return &WriteSlotHandle{prod: p, index: target, payload: payload.b[:p.seg.l.LogicalUnitSize]}, nil
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

func (p *Producer) logOrphanReclaim(slot uint32, deadPID uint64) {
	if p.diag == nil {
		return
	}

	p.diag.orphanWriterReclaimed.Inc()
	p.diag.logger.Info().
		Str("event", "orphan_writer_reclaimed").
		Uint32("slot", slot).
		Uint64("dead_pid", deadPID).
		Msg("reclaimed slot from dead writer")
}

// Commit publishes usedLen bytes of h's payload span as the slot's new
// content: computes/stores the checksum per the segment's checksum policy,
// then publishes generation and clears writer_pid, then advances the
// segment's commit_sequence, per spec §4.3.2.
func (p *Producer) Commit(h *WriteSlotHandle, usedLen int) error {
	if h.resolved {
		return ErrAlreadyCommitted
	}

	if usedLen < 0 || usedLen > len(h.payload) {
		return fmt.Errorf("datablock: used length %d out of range [0,%d]: %w", usedLen, len(h.payload), ErrInvalidConfig)
	}

	st := slotStateAt(p.seg.region(), p.seg.l, h.index)
	st.setPayloadLength(uint32(usedLen))

	hdr := p.seg.header()

	if policy := hdr.checksumPolicy(); policy == ChecksumEnforced || policy == ChecksumManual {
		st.setChecksumTrunc(computeSlotChecksum(h.payload, uint32(usedLen)))
	}

	st.publishCommit()
	hdr.incCommitSequence()

	h.resolved = true

	if p.diag != nil {
		p.diag.commitsTotal.Inc()
	}

	return nil
}

// Discard abandons h without publishing: writer_pid is cleared but
// generation is not advanced, so no consumer observes this slot as
// updated.
func (p *Producer) Discard(h *WriteSlotHandle) error {
	if h.resolved {
		return ErrAlreadyCommitted
	}

	st := slotStateAt(p.seg.region(), p.seg.l, h.index)
	st.resetWriterPID(procutil.CurrentPID())
	h.resolved = true

	return nil
}

// FlexZone returns the segment's flexible zone handle for structured
// metadata access (spec §4.6).
func (p *Producer) FlexZone() FlexZone { return p.seg.flexZone() }

// SharedSecret returns the segment's shared secret, for distributing to
// consumers out of band (typically via [pkg/messenger]).
func (p *Producer) SharedSecret() uint64 { return p.seg.header().sharedSecret() }

// ReapOrphanHeartbeats scans the consumer heartbeat table and clears
// entries whose owning PID is dead and whose last heartbeat exceeds
// threshold, per spec §4.8.
func (p *Producer) ReapOrphanHeartbeats(threshold time.Duration) (int, error) {
	h := p.seg.header()
	reaped := 0
	now := nowNs()

	for i := 0; i < MaxConsumerHeartbeats; i++ {
		e := h.heartbeat(i)
		if !e.registered() {
			continue
		}

		age := time.Duration(now-e.lastHeartbeatNs()) * time.Nanosecond
		if age < threshold {
			continue
		}

		if procutil.Alive(e.pid()) {
			continue
		}

		e.clear()
		h.addActiveConsumerCount(-1)
		reaped++

		if p.diag != nil {
			p.diag.staleConsumerReaped.Inc()
			p.diag.activeConsumers.Dec()
			p.diag.logger.Info().
				Str("event", "stale_consumer_reaped").
				Int("slot", i).
				Msg("reaped stale consumer heartbeat")
		}
	}

	return reaped, nil
}

// ForceReset resets every slot to Free and zeroes commit_sequence. It fails
// with [ErrInUse] if any slot has a live writer or any registered consumer
// heartbeat belongs to a live PID.
func (p *Producer) ForceReset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.seg.header()

	for i := uint32(0); i < h.slotCount(); i++ {
		st := slotStateAt(p.seg.region(), p.seg.l, i)
		if pid := st.writerPID(); pid != 0 && procutil.Alive(pid) {
			return fmt.Errorf("datablock: slot %d has live writer pid %d: %w", i, pid, ErrInUse)
		}
	}

	for i := 0; i < MaxConsumerHeartbeats; i++ {
		e := h.heartbeat(i)
		if e.registered() && procutil.Alive(e.pid()) {
			return fmt.Errorf("datablock: consumer slot %d has live pid %d: %w", i, e.pid(), ErrInUse)
		}
	}

	for i := uint32(0); i < h.slotCount(); i++ {
		slotStateAt(p.seg.region(), p.seg.l, i).resetFree()
	}

	h.resetCommitSequence()

	for i := 0; i < MaxConsumerHeartbeats; i++ {
		h.heartbeat(i).clear()
	}

	return nil
}

// DebugSlotState returns a read-only snapshot of slot i's coordination
// state. Never a live pointer; see DESIGN.md's Open Question decision.
func (p *Producer) DebugSlotState(i uint32) SlotDebugView {
	return slotStateAt(p.seg.region(), p.seg.l, i).debugView(i)
}

// Close unmaps the segment. It does not unlink the segment's name; call
// [Producer.Unlink] once every participant is done.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	return p.seg.close()
}

// Unlink removes the segment's name from the filesystem namespace. Callers
// should only do this once no further Attach calls are expected.
func (p *Producer) Unlink() error {
	return p.seg.unlink()
}
