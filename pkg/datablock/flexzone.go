package datablock

import "context"

// FlexZone is a handle to the segment's flexible zone: a contiguous byte
// region with its own spinlock, independent of slot coordination (spec
// §4.6). An empty flexible zone (size 0) is valid; its span is empty and
// checksum operations are no-ops.
type FlexZone struct {
	seg  region
	h    header
	size uint64
}

func flexZoneOf(seg region, l Layout) FlexZone {
	return FlexZone{
		seg:  seg.slice(l.FlexZoneOffset, l.FlexZoneSize),
		h:    headerAt(seg),
		size: l.FlexZoneSize,
	}
}

// Size returns the flexible zone's byte size.
func (z FlexZone) Size() uint64 { return z.size }

// WithWriteLock acquires the flexzone spinlock, runs fn with a mutable view
// of the zone's bytes, recomputes and stores the flexzone checksum, then
// releases the lock. fn must not retain the slice after returning.
func (z FlexZone) WithWriteLock(ctx context.Context, fn func(buf []byte)) error {
	if z.size == 0 {
		return nil
	}

	g, err := z.h.flexzoneSpinlock().acquirePID(ctx)
	if err != nil {
		return err
	}
	defer g.Release()

	fn(z.seg.b)

	digest := checksum256(z.seg.b)
	z.h.setFlexZoneChecksum(digest)

	return nil
}

// WithReadLock acquires the flexzone spinlock, verifies the stored
// checksum, and runs fn with a read-only view if verification passes.
// Returns [ErrChecksumFailed] without invoking fn if verification fails.
func (z FlexZone) WithReadLock(ctx context.Context, fn func(buf []byte)) error {
	if z.size == 0 {
		fn(nil)
		return nil
	}

	g, err := z.h.flexzoneSpinlock().acquirePID(ctx)
	if err != nil {
		return err
	}
	defer g.Release()

	if checksum256(z.seg.b) != z.h.flexZoneChecksum() {
		return ErrChecksumFailed
	}

	fn(z.seg.b)

	return nil
}

// ReadUnlocked gives a best-effort, lock-free read of the zone for
// consumers that have explicitly declared they accept inconsistent views
// (spec §4.6: "a best-effort lock-free read when the consumer declares it
// accepts inconsistent views"). The checksum is still verified; a mismatch
// still returns [ErrChecksumFailed], but no spinlock is taken, so a
// concurrent writer may produce a torn read that happens to still pass
// checksum validation's scope (the common case: it won't, because the
// checksum covers the whole zone).
func (z FlexZone) ReadUnlocked(fn func(buf []byte)) error {
	if z.size == 0 {
		fn(nil)
		return nil
	}

	if checksum256(z.seg.b) != z.h.flexZoneChecksum() {
		return ErrChecksumFailed
	}

	fn(z.seg.b)

	return nil
}
