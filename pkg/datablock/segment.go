package datablock

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/pylabhub/datablock/internal/procutil"
	"github.com/pylabhub/datablock/pkg/fs"
)

// defaultShmDir is where named segments live by default, mirroring POSIX
// shared-memory object convention. [WithDir] overrides it, primarily for
// tests that must not touch the real /dev/shm.
const defaultShmDir = "/dev/shm"

// segment owns the mapped bytes of one DataBlock and the file handle that
// backs them, closed together via Close.
type segment struct {
	fsys fs.FS
	path string
	file fs.File
	data []byte
	l    Layout
}

func segmentPath(dir, name string) string {
	return filepath.Join(dir, "datablock."+name)
}

// createSegment creates and initializes a new segment, going through fsys
// (production code passes [fs.NewReal]; tests pass [fs.Chaos]/[fs.Crash] to
// exercise creation-time fault injection per SPEC_FULL.md §4.1).
func createSegment(fsys fs.FS, dir, name string, cfg Config) (*segment, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l := layoutOf(cfg)
	if err := l.validate(); err != nil {
		return nil, err
	}

	path := segmentPath(dir, name)

	if exists, err := fsys.Exists(path); err != nil {
		return nil, fmt.Errorf("datablock: stat %s: %w", path, ErrMapFailed)
	} else if exists {
		return nil, fmt.Errorf("datablock: segment %q: %w", name, ErrNameConflict)
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, fmt.Errorf("datablock: create %s: %w", path, ErrMapFailed)
	}

	ok := false
	defer func() {
		if !ok {
			f.Close()
			fsys.Remove(path)
		}
	}()

	if err := growFile(f, int64(l.TotalSize)); err != nil {
		return nil, fmt.Errorf("datablock: grow %s to %d: %w", path, l.TotalSize, ErrMapFailed)
	}

	data, err := mapFile(f, int(l.TotalSize), true)
	if err != nil {
		return nil, fmt.Errorf("datablock: mmap %s: %w", path, ErrMapFailed)
	}

	// Zero-fill is implicit for a freshly truncated file on Linux
	// (sparse, reads as zero), but spec §4.1 calls it out explicitly, so
	// make it unconditional rather than relying on filesystem behavior we
	// didn't just create ourselves.
	for i := range data {
		data[i] = 0
	}

	seg := newRegion(data)
	writeHeader(seg, cfg, l)

	h := headerAt(seg)
	h.setProducerPID(procutil.CurrentPID())

	if startNs, err := procutil.StartTime(procutil.CurrentPID()); err == nil {
		h.setProducerStartNs(startNs)
	}

	ok = true

	return &segment{fsys: fsys, path: path, file: f, data: data, l: l}, nil
}

// attachSegment opens and validates an existing segment.
func attachSegment(fsys fs.FS, dir, name string, sharedSecret uint64, expect *expectedSchemas) (*segment, error) {
	path := segmentPath(dir, name)

	f, err := fsys.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("datablock: open %s: %w", path, ErrMapFailed)
	}

	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("datablock: stat %s: %w", path, ErrMapFailed)
	}

	if info.Size() < headerSize {
		return nil, fmt.Errorf("datablock: segment %s too small to hold a header: %w", path, ErrSizeInconsistent)
	}

	data, err := mapFile(f, int(info.Size()), true)
	if err != nil {
		return nil, fmt.Errorf("datablock: mmap %s: %w", path, ErrMapFailed)
	}

	seg := newRegion(data)

	if err := validateHeader(seg, sharedSecret, expect); err != nil {
		unix.Munmap(data)
		return nil, err
	}

	l := layoutFromHeader(seg)
	if err := l.validate(); err != nil {
		unix.Munmap(data)
		return nil, err
	}

	derived := layoutOf(Config{
		Policy:          headerAt(seg).policy(),
		PageSize:        PageSize(l.PageSize),
		LogicalUnitSize: l.LogicalUnitSize,
		SlotCount:       l.SlotCount,
		FlexZoneSize:    l.FlexZoneSize,
	})
	if derived != l {
		unix.Munmap(data)
		return nil, fmt.Errorf("datablock: segment %s stored layout does not match the layout its own fields derive: %w", path, ErrSizeInconsistent)
	}

	if uint64(info.Size()) != l.TotalSize {
		unix.Munmap(data)
		return nil, fmt.Errorf("datablock: segment %s size %d, header implies %d: %w",
			path, info.Size(), l.TotalSize, ErrSizeInconsistent)
	}

	ok = true

	return &segment{fsys: fsys, path: path, file: f, data: data, l: l}, nil
}

func (s *segment) region() region { return newRegion(s.data) }

func (s *segment) header() header { return headerAt(s.region()) }

func (s *segment) flexZone() FlexZone { return flexZoneOf(s.region(), s.l) }

// sync flushes dirty pages to the backing shm file, matching spec §4.1's
// durability expectations for explicit checkpoints; DataBlock's normal
// operation does not require it since /dev/shm is volatile by design.
func (s *segment) sync() error {
	return unix.Msync(s.data, unix.MS_SYNC)
}

// close unmaps and closes the backing file. It does not unlink the segment
// name; callers that own the last reference call unlink explicitly.
func (s *segment) close() error {
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("datablock: munmap %s: %w", s.path, err)
	}

	return s.file.Close()
}

// unlink removes the segment's name from the filesystem namespace. If
// another participant has already removed it, the FS's not-exist error is
// returned ([fs.Real] passes [os.Remove]'s error through unchanged), so
// callers treat a non-nil error here as advisory, never fatal.
func (s *segment) unlink() error {
	return s.fsys.Remove(s.path)
}
