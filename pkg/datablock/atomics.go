package datablock

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// byteOrder is the fixed wire byte order for every multi-byte field in the
// header and slot records (spec SPEC_FULL.md §3: "all multi-byte
// header/slot fields are little-endian").
var byteOrder = binary.LittleEndian

// region is a typed view over a byte range of the mmap'd segment. It never
// copies; every accessor reads or writes directly through the backing
// slice, the same way AlephTX-aleph-tx/feeder/shm/seqlock.go overlays a
// struct on raw mmap'd bytes via unsafe.Pointer, generalized here to
// plain byte-offset accessors since the header and slot layouts are
// described by named offXxx constants rather than a fixed Go struct.
type region struct {
	b []byte
}

func newRegion(b []byte) region { return region{b: b} }

func (r region) atomicU32(off uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.b[off]))
}

func (r region) atomicU64(off uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.b[off]))
}

func (r region) loadU32(off uint64) uint32 {
	return atomic.LoadUint32(r.atomicU32(off))
}

func (r region) storeU32(off uint64, v uint32) {
	atomic.StoreUint32(r.atomicU32(off), v)
}

func (r region) addU32(off uint64, delta int32) uint32 {
	return atomic.AddUint32(r.atomicU32(off), uint32(delta))
}

func (r region) casU32(off uint64, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(r.atomicU32(off), old, new)
}

func (r region) loadU64(off uint64) uint64 {
	return atomic.LoadUint64(r.atomicU64(off))
}

func (r region) storeU64(off uint64, v uint64) {
	atomic.StoreUint64(r.atomicU64(off), v)
}

func (r region) addU64(off uint64, delta uint64) uint64 {
	return atomic.AddUint64(r.atomicU64(off), delta)
}

func (r region) casU64(off uint64, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(r.atomicU64(off), old, new)
}

// plain (non-atomic) little-endian accessors, for fields only ever touched
// under a spinlock or before publication (header metadata written once at
// creation, flexible-zone payload bytes guarded by the flexzone spinlock).

func (r region) getU16(off uint64) uint16 {
	return byteOrder.Uint16(r.b[off : off+2])
}

func (r region) putU16(off uint64, v uint16) {
	byteOrder.PutUint16(r.b[off:off+2], v)
}

func (r region) getU32(off uint64) uint32 {
	return byteOrder.Uint32(r.b[off : off+4])
}

func (r region) putU32(off uint64, v uint32) {
	byteOrder.PutUint32(r.b[off:off+4], v)
}

func (r region) getU64(off uint64) uint64 {
	return byteOrder.Uint64(r.b[off : off+8])
}

func (r region) putU64(off uint64, v uint64) {
	byteOrder.PutUint64(r.b[off:off+8], v)
}

func (r region) getBytes(off uint64, n int) []byte {
	return r.b[off : off+uint64(n)]
}

func (r region) putBytes(off uint64, data []byte) {
	copy(r.b[off:off+uint64(len(data))], data)
}

func (r region) slice(off, n uint64) region {
	return region{b: r.b[off : off+n]}
}
