package datablock

import "sync/atomic"

// Generation counts commits to a single slot. It is distinct from
// [CommitSeq] (segment-wide commit order) by construction, per the Open
// Question decision recorded in DESIGN.md: the spec calls these out as
// separate fields, so this package gives them separate Go types rather than
// two uint64 variables that could be swapped at a call site without the
// compiler noticing.
type Generation uint64

// CommitSeq counts commits across the whole segment, in the order the
// producer published them. RingBuffer write-index selection and
// SingleReader/SyncReader lost-slot detection both derive from it.
type CommitSeq uint64

// slotState is a typed accessor over one slot's 64-byte stride in the
// slot-state array (spec §3's SlotRWState, 48 logical bytes cache-aligned
// to 64). It never copies; every method reads or writes the mapped memory
// directly.
type slotState struct {
	r region
}

func slotStateAt(seg region, l Layout, i uint32) slotState {
	off := l.slotStateOffset(i)
	return slotState{r: seg.slice(off, slotStateStride)}
}

func (s slotState) writerPID() uint64      { return s.r.loadU64(offSlotWriterPID) }
func (s slotState) writerStartNs() uint64  { return s.r.loadU64(offSlotWriterStartNs) }
func (s slotState) readerCount() uint32    { return s.r.loadU32(offSlotReaderCount) }
func (s slotState) payloadLength() uint32  { return s.r.loadU32(offSlotPayloadLength) }
func (s slotState) generation() Generation { return Generation(s.r.loadU64(offSlotGeneration)) }
func (s slotState) checksumTrunc() uint64  { return s.r.loadU64(offSlotChecksumTrunc) }

// casWriterPID attempts to take ownership of the slot for writing.
func (s slotState) casWriterPID(old, new uint64) bool {
	return s.r.casU64(offSlotWriterPID, old, new)
}

// resetWriterPID force-clears an orphaned writer's PID. Used only after a
// liveness check has established the owning PID is dead (spec §4.8's
// "single CAS reclaim").
func (s slotState) resetWriterPID(observed uint64) bool {
	return s.r.casU64(offSlotWriterPID, observed, 0)
}

func (s slotState) setWriterStartNs(ns uint64) { s.r.storeU64(offSlotWriterStartNs, ns) }

func (s slotState) acquireReader() uint32 {
	return s.r.addU32(offSlotReaderCount, 1)
}

func (s slotState) releaseReader() uint32 {
	return s.r.addU32(offSlotReaderCount, ^uint32(0)) // -1
}

func (s slotState) setPayloadLength(n uint32) { s.r.storeU32(offSlotPayloadLength, n) }

func (s slotState) setChecksumTrunc(v uint64) { s.r.storeU64(offSlotChecksumTrunc, v) }

// publishCommit performs the publish sequence from spec §4.3.2 step 3:
// generation += 1 (release), writer_pid = 0 (release). Both stores use
// atomic primitives with the Go memory model's sequentially-consistent
// total order for atomic operations, which subsumes the acquire/release
// ordering the spec asks for.
func (s slotState) publishCommit() {
	s.r.addU64(offSlotGeneration, 1)
	atomic.StoreUint64(s.r.atomicU64(offSlotWriterPID), 0)
}

// slotSnapshot is a copy of a slot's coordination fields. snapshot reads
// each field once, generation first, and does not re-read generation, so
// the copy is not guaranteed to be consistent; the reader path in
// tryNextOnce runs its own generation double-check instead.
type slotSnapshot struct {
	Generation    Generation
	WriterPID     uint64
	PayloadLength uint32
	ChecksumTrunc uint64
}

func (s slotState) snapshot() slotSnapshot {
	return slotSnapshot{
		Generation:    s.generation(),
		WriterPID:     s.writerPID(),
		PayloadLength: s.payloadLength(),
		ChecksumTrunc: s.checksumTrunc(),
	}
}

// SlotDebugView is a read-only, copied snapshot of a slot's coordination
// state, returned by the diagnostic handles (Open Question decision:
// never a live pointer, so it cannot be used to bypass the protocol).
type SlotDebugView struct {
	Index         uint32
	WriterPID     uint64
	WriterStartNs uint64
	ReaderCount   uint32
	Generation    Generation
	PayloadLength uint32
	ChecksumTrunc uint64
}

func (s slotState) debugView(index uint32) SlotDebugView {
	return SlotDebugView{
		Index:         index,
		WriterPID:     s.writerPID(),
		WriterStartNs: s.writerStartNs(),
		ReaderCount:   s.readerCount(),
		Generation:    s.generation(),
		PayloadLength: s.payloadLength(),
		ChecksumTrunc: s.checksumTrunc(),
	}
}

// resetFree zeroes the slot's coordination fields, used only by ForceReset
// under the "no live participants" precondition already verified by the
// caller.
func (s slotState) resetFree() {
	s.r.storeU64(offSlotWriterPID, 0)
	s.r.storeU64(offSlotWriterStartNs, 0)
	s.r.storeU32(offSlotReaderCount, 0)
	s.r.storeU32(offSlotPayloadLength, 0)
	s.r.storeU64(offSlotGeneration, 0)
	s.r.storeU64(offSlotChecksumTrunc, 0)
}

// payloadSpan returns slot i's full payload stride (SlotStride bytes).
// Callers narrow it: AcquireWriteSlot to LogicalUnitSize, TryNext to the
// committed payload_length.
func payloadSpan(seg region, l Layout, i uint32) region {
	off := l.slotPayloadOffset(i)
	return seg.slice(off, l.SlotStride)
}
