package datablock

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Field describes one named field of a flexible-zone or slot-payload
// layout, for the purpose of producing a canonical, endianness-normalized
// description string (spec §4.7's BLDS).
type Field struct {
	// Name identifies the field; used only in the description string, never
	// interpreted by the core.
	Name string

	// Type is a short primitive-type tag, e.g. "u8", "u16", "u32", "u64",
	// "i32", "f32", "f64", "bytes".
	Type string

	// Count is the number of repetitions (array length); 1 for a scalar.
	Count uint32

	// Align is the field's required alignment in bytes.
	Align uint32

	// Offset is the field's byte offset within its containing layout.
	Offset uint32
}

// BLDS ("Basic Layout Description String" source) is the set of field
// definitions describing a flexible-zone or slot-payload layout. The core
// never parses application data; it only hashes this description so two
// attached processes can detect they disagree about the shape of the bytes
// they are sharing.
//
// A nil or empty BLDS is valid and hashes to [emptyBLDSHash].
type BLDS []Field

// canonicalString renders b as the canonical, endianness-normalized
// description string hashed by [BLDS.Hash]. Fields are sorted by Offset so
// that two BLDS values describing the same layout in a different field
// order still hash identically; all multi-byte interpretation in this
// package is little-endian, so that is the only byte order named here.
func (b BLDS) canonicalString() string {
	fields := make([]Field, len(b))
	copy(fields, b)

	sort.Slice(fields, func(i, j int) bool { return fields[i].Offset < fields[j].Offset })

	var sb strings.Builder
	sb.WriteString("blds:le:v1")

	for _, f := range fields {
		fmt.Fprintf(&sb, ";%s:%s:%d:%d:%d", f.Name, f.Type, f.Count, f.Align, f.Offset)
	}

	return sb.String()
}

// Hash returns the BLAKE2b-256 hash of b's canonical description string.
// An empty BLDS (nil or zero-length) hashes to [emptyBLDSHash], matching
// spec §4.7's "empty hash if zone size = 0".
func (b BLDS) Hash() [32]byte {
	if len(b) == 0 {
		return emptyBLDSHash
	}

	return blake2b.Sum256([]byte(b.canonicalString()))
}

// emptyBLDSHash is the BLAKE2b-256 hash of the empty byte string, returned
// for a nil/empty BLDS so that flex-zone-less and schema-less segments have
// a well-defined, stable stored hash rather than an all-zero placeholder
// that could be confused with "not yet computed".
var emptyBLDSHash = blake2b.Sum256(nil)

// NewBLDS constructs a BLDS from field definitions, provided for call sites
// that prefer a constructor over a literal slice.
func NewBLDS(fields ...Field) BLDS {
	return BLDS(fields)
}

// configHash returns the BLAKE2b-256 hash of cfg's frozen, layout-relevant
// fields (spec §3: "config_hash ... BLAKE2b-256 of the frozen
// configuration"). It intentionally excludes FlexZoneSchema/DataBlockSchema
// (hashed separately as flexzone_schema_hash/datablock_schema_hash) and
// SharedSecret (stored and compared separately, never hashed into a value
// an attacker could brute-force offline from a public config_hash).
func configHash(cfg Config) [32]byte {
	cfg = cfg.withDefaults()

	var sb strings.Builder
	fmt.Fprintf(&sb, "config:v1;policy=%d;consumer_sync=%d;page_size=%d;logical_unit_size=%d;slot_count=%d;flex_zone_size=%d;checksum_policy=%d;user_version=%d",
		cfg.Policy, cfg.ConsumerSync, cfg.PageSize, cfg.LogicalUnitSize, cfg.effectiveSlotCount(), cfg.FlexZoneSize, cfg.ChecksumPolicy, cfg.UserVersion)

	return blake2b.Sum256([]byte(sb.String()))
}

// checksum256 computes the full BLAKE2b-256 digest of data.
func checksum256(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// truncate64 packs the first 8 bytes of a BLAKE2b-256 digest into a uint64,
// little-endian, matching spec §4.7's "BLAKE2b-256 truncated ... as
// declared by the layout" for the fixed-width slot checksum field (see
// [offSlotChecksumTrunc] and DESIGN.md for why the slot record always uses
// the truncated form).
func truncate64(digest [32]byte) uint64 {
	return byteOrder.Uint64(digest[:8])
}
