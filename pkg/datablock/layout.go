package datablock

import "fmt"

// Wire-format constants. These mirror the teacher's slc1Magic/slc1Version
// convention: a 4-byte tag plus an explicit major/minor pair, checked at
// Attach before anything else in the header is trusted.
const (
	// magicValue identifies an initialized DataBlock segment.
	magicValue uint64 = 0x4441_5441_424C_4B31 // "DATABLK1" (ASCII-derived)

	headerVersionMajor uint16 = 1
	headerVersionMinor uint16 = 0

	// headerSize is the fixed size of the first page of the segment, per
	// spec §3's "Header (fixed 4 KiB, first page)".
	headerSize = 4096

	// slotStateRecordSize is the logical size of one SlotRWState record
	// (spec §3: "slot coordination records are 48 bytes each").
	slotStateRecordSize = 48

	// slotStateStride is the cache-line-aligned stride reserved per slot in
	// the slot-state array (spec §6.1: "cache-aligned to 64 bytes").
	slotStateStride = 64

	// minSlotStride is the minimum payload stride: even a zero-payload
	// control channel reserves a full cache line, per spec §3's
	// "slot_stride ... ≥ 64 bytes".
	minSlotStride = 64

	// cacheLineSize is used to align the flexible zone and both arrays.
	cacheLineSize = 64
)

// Header field byte offsets within the first 4096-byte page. Centralized
// as named constants rather than inline literals, matching
// pkg/slotcache/format.go's offXxx convention.
const (
	offMagic              = 0x000 // uint64
	offHeaderVersionMajor = 0x008 // uint16
	offHeaderVersionMinor = 0x00A // uint16
	offConfigHash         = 0x00C // [32]byte
	offFlexSchemaHash     = 0x02C // [32]byte
	offDataSchemaHash     = 0x04C // [32]byte
	offSchemaVersion      = 0x06C // uint32
	offSharedSecret       = 0x070 // uint64
	offPolicy             = 0x078 // uint8
	offConsumerSync       = 0x079 // uint8
	offChecksumPolicy     = 0x07A // uint8
	// 5 reserved bytes at 0x07B..0x080
	offLogicalUnitSize       = 0x080 // uint64
	offSlotStride            = 0x088 // uint64
	offSlotCount             = 0x090 // uint32
	offPageSize              = 0x094 // uint32
	offFlexZoneSize          = 0x098 // uint64
	offFlexZoneOffset        = 0x0A0 // uint64
	offSlotArrayOffset       = 0x0A8 // uint64
	offSlotStateArrayOffset  = 0x0B0 // uint64
	offProducerPID           = 0x0B8 // uint64
	offProducerStartNs       = 0x0C0 // uint64
	offConsumerHeartbeats    = 0x0C8 // [MaxConsumerHeartbeats]heartbeatEntry
	// each heartbeatEntry is 24 bytes: pid(8) + last_heartbeat_ns(8) + registered(4) + pad(4)
	heartbeatEntrySize     = 24
	offFlexzoneSpinlock    = offConsumerHeartbeats + MaxConsumerHeartbeats*heartbeatEntrySize // 0x188 (0xC8 + 8*24 = 200 + 192 = 392), checked in init
	offActiveConsumerCount = offFlexzoneSpinlock + spinlockSize                               // atomic uint32
	offCommitSequence      = 0x1B0 // atomic uint64, 8-byte aligned
	offFlexZoneChecksum    = offCommitSequence + 8 // [32]byte, full BLAKE2b-256 digest

	// offReservedStart marks the start of the reserved padding tail, which
	// Create leaves zero through headerSize. validateHeader does not inspect
	// these bytes.
	offReservedStart = offFlexZoneChecksum + 32
)

// spinlockSize is the fixed width of the uniform spinlock state (spec
// §4.2: "one uniform 32-byte layout").
const spinlockSize = 32

func init() {
	// Compile-time-ish cross-checks on the hand-computed offsets above; a
	// mistake here corrupts every segment this package creates, so fail
	// loudly and immediately rather than at some unrelated call site.
	if offFlexzoneSpinlock != 0x188 {
		panic(fmt.Sprintf("datablock: offFlexzoneSpinlock miscomputed: got 0x%X, want 0x188", offFlexzoneSpinlock))
	}

	if offReservedStart > headerSize {
		panic("datablock: header layout overflows headerSize")
	}
}

// SlotRWState field offsets within one 64-byte slot-state-array stride.
const (
	offSlotWriterPID      = 0  // atomic uint64
	offSlotWriterStartNs  = 8  // atomic uint64
	offSlotReaderCount    = 16 // atomic uint32
	offSlotPayloadLength  = 20 // atomic uint32
	offSlotGeneration     = 24 // atomic uint64
	offSlotChecksumTrunc  = 32 // atomic uint64 (truncated BLAKE2b-256)
	// bytes 40..48 reserved (completes the 48-byte logical record);
	// 48..64 is cache-line padding.
)

// heartbeat entry field offsets, relative to the start of each 24-byte slot.
const (
	offHeartbeatPID            = 0
	offHeartbeatLastNs         = 8
	offHeartbeatRegisteredFlag = 16
)

// Layout describes the fully-resolved byte layout of a segment derived from
// a [Config]. It is a pure function of the config: both the creator and any
// attacher independently call [layoutOf] on the same fields and must agree,
// which is what makes header corruption detectable (spec §4.1).
type Layout struct {
	PageSize             uint64
	LogicalUnitSize      uint64
	SlotStride           uint64
	SlotCount            uint32
	FlexZoneSize         uint64
	FlexZoneOffset       uint64
	SlotStateArrayOffset uint64
	SlotArrayOffset      uint64
	TotalSize            uint64
}

// layoutOf computes the segment layout for cfg. It never fails: invalid
// configs are rejected earlier by [Config.validate]; layoutOf only performs
// arithmetic on an already-validated config.
func layoutOf(cfg Config) Layout {
	cfg = cfg.withDefaults()

	slotCount := cfg.effectiveSlotCount()

	flexZoneOffset := uint64(headerSize)
	slotStateArrayOffset := alignUp(flexZoneOffset+cfg.FlexZoneSize, cacheLineSize)
	slotStateArraySize := uint64(slotCount) * slotStateStride
	slotArrayOffset := alignUp(slotStateArrayOffset+slotStateArraySize, cacheLineSize)

	slotStride := alignUp(cfg.LogicalUnitSize, cacheLineSize)
	if slotStride < minSlotStride {
		slotStride = minSlotStride
	}

	slotArraySize := uint64(slotCount) * slotStride
	totalSize := alignUp(slotArrayOffset+slotArraySize, uint64(cfg.PageSize))

	return Layout{
		PageSize:             uint64(cfg.PageSize),
		LogicalUnitSize:      cfg.LogicalUnitSize,
		SlotStride:           slotStride,
		SlotCount:            slotCount,
		FlexZoneSize:         cfg.FlexZoneSize,
		FlexZoneOffset:       flexZoneOffset,
		SlotStateArrayOffset: slotStateArrayOffset,
		SlotArrayOffset:      slotArrayOffset,
		TotalSize:            totalSize,
	}
}

// alignUp rounds x up to the next multiple of align (align must be a power
// of two and non-zero).
func alignUp(x, align uint64) uint64 {
	if align == 0 {
		return x
	}

	return (x + align - 1) &^ (align - 1)
}

// validate cross-checks the invariants spec §3 demands of a Layout:
// the slot-state array must fit before the slot array, and the slot array
// must fit within the total segment size.
func (l Layout) validate() error {
	if l.SlotStateArrayOffset+uint64(l.SlotCount)*slotStateStride > l.SlotArrayOffset {
		return fmt.Errorf("slot state array overruns slot array at offset %d: %w", l.SlotArrayOffset, ErrSizeInconsistent)
	}

	if l.SlotArrayOffset+uint64(l.SlotCount)*l.SlotStride > l.TotalSize {
		return fmt.Errorf("slot array overruns segment size %d: %w", l.TotalSize, ErrSizeInconsistent)
	}

	if l.SlotStride < minSlotStride {
		return fmt.Errorf("slot_stride %d below minimum %d: %w", l.SlotStride, minSlotStride, ErrSizeInconsistent)
	}

	return nil
}

// slotStateOffset returns the byte offset of slot i's SlotRWState record.
func (l Layout) slotStateOffset(i uint32) uint64 {
	return l.SlotStateArrayOffset + uint64(i)*slotStateStride
}

// slotPayloadOffset returns the byte offset of slot i's payload.
func (l Layout) slotPayloadOffset(i uint32) uint64 {
	return l.SlotArrayOffset + uint64(i)*l.SlotStride
}

// heartbeatOffset returns the byte offset of heartbeat slot i within the
// header.
func heartbeatOffset(i int) uint64 {
	return offConsumerHeartbeats + uint64(i)*heartbeatEntrySize
}
