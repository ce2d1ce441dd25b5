package datablock

import (
	"fmt"
	"time"
)

// header is a typed accessor over the first 4096-byte page of a mapped
// segment. Like slotState, it never copies; every accessor reads or writes
// the mapped memory directly through named offXxx constants (spec
// SPEC_FULL.md §3).
type header struct {
	r region
}

func headerAt(seg region) header {
	return header{r: seg.slice(0, headerSize)}
}

func (h header) magic() uint64            { return h.r.getU64(offMagic) }
func (h header) versionMajor() uint16     { return h.r.getU16(offHeaderVersionMajor) }
func (h header) versionMinor() uint16     { return h.r.getU16(offHeaderVersionMinor) }
func (h header) configHash() [32]byte     { return [32]byte(h.r.getBytes(offConfigHash, 32)) }
func (h header) flexSchemaHash() [32]byte { return [32]byte(h.r.getBytes(offFlexSchemaHash, 32)) }
func (h header) dataSchemaHash() [32]byte { return [32]byte(h.r.getBytes(offDataSchemaHash, 32)) }
func (h header) schemaVersion() uint32    { return h.r.getU32(offSchemaVersion) }
func (h header) sharedSecret() uint64     { return h.r.getU64(offSharedSecret) }
func (h header) policy() Policy           { return Policy(h.r.b[offPolicy]) }
func (h header) consumerSync() ConsumerSync {
	return ConsumerSync(h.r.b[offConsumerSync])
}
func (h header) checksumPolicy() ChecksumPolicy {
	return ChecksumPolicy(h.r.b[offChecksumPolicy])
}
func (h header) logicalUnitSize() uint64      { return h.r.getU64(offLogicalUnitSize) }
func (h header) slotStride() uint64           { return h.r.getU64(offSlotStride) }
func (h header) slotCount() uint32            { return h.r.getU32(offSlotCount) }
func (h header) pageSize() uint32             { return h.r.getU32(offPageSize) }
func (h header) flexZoneSize() uint64         { return h.r.getU64(offFlexZoneSize) }
func (h header) flexZoneOffset() uint64       { return h.r.getU64(offFlexZoneOffset) }
func (h header) slotArrayOffset() uint64      { return h.r.getU64(offSlotArrayOffset) }
func (h header) slotStateArrayOffset() uint64 { return h.r.getU64(offSlotStateArrayOffset) }
func (h header) producerPID() uint64          { return h.r.getU64(offProducerPID) }
func (h header) producerStartNs() uint64      { return h.r.getU64(offProducerStartNs) }

func (h header) setProducerPID(pid uint64)      { h.r.putU64(offProducerPID, pid) }
func (h header) setProducerStartNs(ns uint64)   { h.r.putU64(offProducerStartNs, ns) }

// activeConsumerCount/commitSequence are the two header fields touched
// after creation under concurrent access, so they go through the atomic
// accessors rather than the plain little-endian ones.
func (h header) activeConsumerCount() uint32 { return h.r.loadU32(offActiveConsumerCount) }
func (h header) commitSequence() CommitSeq   { return CommitSeq(h.r.loadU64(offCommitSequence)) }

func (h header) incCommitSequence() CommitSeq {
	return CommitSeq(h.r.addU64(offCommitSequence, 1))
}

func (h header) addActiveConsumerCount(delta int32) uint32 {
	return h.r.addU32(offActiveConsumerCount, delta)
}

func (h header) resetCommitSequence() { h.r.storeU64(offCommitSequence, 0) }

// flexzoneSpinlock returns the accessor for the header's embedded flexible
// zone spinlock (spec §4.6).
func (h header) flexzoneSpinlock() spinlock {
	return spinlockAt(h.r.slice(offFlexzoneSpinlock, spinlockSize))
}

func (h header) flexZoneChecksum() [32]byte {
	return [32]byte(h.r.getBytes(offFlexZoneChecksum, 32))
}

func (h header) setFlexZoneChecksum(digest [32]byte) {
	h.r.putBytes(offFlexZoneChecksum, digest[:])
}

// heartbeatEntry is a typed accessor over one 24-byte consumer-heartbeat
// slot within the header.
type heartbeatEntry struct {
	r region
}

func (h header) heartbeat(i int) heartbeatEntry {
	return heartbeatEntry{r: h.r.slice(heartbeatOffset(i), heartbeatEntrySize)}
}

func (e heartbeatEntry) pid() uint64             { return e.r.getU64(offHeartbeatPID) }
func (e heartbeatEntry) lastHeartbeatNs() uint64 { return e.r.getU64(offHeartbeatLastNs) }
func (e heartbeatEntry) registered() bool {
	return e.r.getU32(offHeartbeatRegisteredFlag) != 0
}

func (e heartbeatEntry) setPID(pid uint64)      { e.r.putU64(offHeartbeatPID, pid) }
func (e heartbeatEntry) touch(ns uint64)        { e.r.putU64(offHeartbeatLastNs, ns) }
func (e heartbeatEntry) setRegistered(v bool) {
	if v {
		e.r.putU32(offHeartbeatRegisteredFlag, 1)
	} else {
		e.r.putU32(offHeartbeatRegisteredFlag, 0)
	}
}

func (e heartbeatEntry) clear() {
	e.r.putU64(offHeartbeatPID, 0)
	e.r.putU64(offHeartbeatLastNs, 0)
	e.r.putU32(offHeartbeatRegisteredFlag, 0)
}

// writeHeader populates a freshly zero-filled segment's header from cfg and
// its derived layout. Called exactly once, by Create, before magic is
// written (spec §4.1: "zero-fill; write the header; write the two schema
// hashes; mark magic" — magic is written last so a reader can never
// observe a partially-initialized header that already claims to be
// valid).
func writeHeader(seg region, cfg Config, l Layout) {
	h := headerAt(seg)

	h.r.putU16(offHeaderVersionMajor, headerVersionMajor)
	h.r.putU16(offHeaderVersionMinor, headerVersionMinor)

	cHash := configHash(cfg)
	h.r.putBytes(offConfigHash, cHash[:])

	flexHash := cfg.FlexZoneSchema.Hash()
	h.r.putBytes(offFlexSchemaHash, flexHash[:])

	dataHash := cfg.DataBlockSchema.Hash()
	h.r.putBytes(offDataSchemaHash, dataHash[:])

	h.r.putU32(offSchemaVersion, cfg.UserVersion)
	h.r.putU64(offSharedSecret, cfg.SharedSecret)

	h.r.b[offPolicy] = byte(cfg.Policy)
	h.r.b[offConsumerSync] = byte(cfg.ConsumerSync)
	h.r.b[offChecksumPolicy] = byte(cfg.ChecksumPolicy)

	h.r.putU64(offLogicalUnitSize, l.LogicalUnitSize)
	h.r.putU64(offSlotStride, l.SlotStride)
	h.r.putU32(offSlotCount, l.SlotCount)
	h.r.putU32(offPageSize, uint32(l.PageSize))
	h.r.putU64(offFlexZoneSize, l.FlexZoneSize)
	h.r.putU64(offFlexZoneOffset, l.FlexZoneOffset)
	h.r.putU64(offSlotArrayOffset, l.SlotArrayOffset)
	h.r.putU64(offSlotStateArrayOffset, l.SlotStateArrayOffset)

	h.setProducerPID(0)
	h.setProducerStartNs(0)

	// magic written last, per the ordering note above.
	h.r.putU64(offMagic, magicValue)
}

// expectedSchemas is supplied by a consumer at Attach to assert the stored
// schema hashes match what it expects, per spec §4.7's validation step.
type expectedSchemas struct {
	FlexZone  *[32]byte
	DataBlock *[32]byte
}

// validateHeader performs every check spec §4.1 assigns to attach: magic,
// version, schema hashes (when supplied), and shared secret.
func validateHeader(seg region, sharedSecret uint64, expect *expectedSchemas) error {
	h := headerAt(seg)

	if h.magic() != magicValue {
		return ErrBadMagic
	}

	if h.versionMajor() != headerVersionMajor {
		return fmt.Errorf("header major version %d, this build supports %d: %w",
			h.versionMajor(), headerVersionMajor, ErrVersionMismatch)
	}

	if h.sharedSecret() != sharedSecret {
		return ErrSecretMismatch
	}

	if expect != nil {
		if expect.FlexZone != nil {
			if got := h.flexSchemaHash(); got != *expect.FlexZone {
				return &schemaMismatchError{which: SchemaFlexZone, expected: *expect.FlexZone, actual: got}
			}
		}

		if expect.DataBlock != nil {
			if got := h.dataSchemaHash(); got != *expect.DataBlock {
				return &schemaMismatchError{which: SchemaDataBlock, expected: *expect.DataBlock, actual: got}
			}
		}
	}

	return nil
}

// layoutFromHeader reconstructs the Layout an attacher should use from the
// header fields actually stored on disk, so a consumer never has to
// recompute layoutOf from a guessed Config: it reads the producer's
// authoritative values directly.
func layoutFromHeader(seg region) Layout {
	h := headerAt(seg)

	return Layout{
		PageSize:             uint64(h.pageSize()),
		LogicalUnitSize:      h.logicalUnitSize(),
		SlotStride:           h.slotStride(),
		SlotCount:            h.slotCount(),
		FlexZoneSize:         h.flexZoneSize(),
		FlexZoneOffset:       h.flexZoneOffset(),
		SlotStateArrayOffset: h.slotStateArrayOffset(),
		SlotArrayOffset:      h.slotArrayOffset(),
		TotalSize:            uint64(len(seg.b)),
	}
}

func nowNs() uint64 {
	return uint64(time.Now().UnixNano())
}
