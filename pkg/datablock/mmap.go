package datablock

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/pylabhub/datablock/pkg/fs"
)

// growFile extends f to size bytes using the classic seek-and-write-one-byte
// trick, since [fs.File] (unlike [os.File]) does not expose Truncate. The
// fs abstraction intentionally keeps the interface narrow so [fs.Chaos] and
// [fs.Crash] only have to model a handful of operations; extending a file
// this way reuses the Write fault-injection path those wrappers already
// simulate, rather than adding a new operation to the interface.
func growFile(f fs.File, size int64) error {
	if size == 0 {
		return nil
	}

	if _, err := f.Seek(size-1, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", size-1, err)
	}

	if _, err := f.Write([]byte{0}); err != nil {
		return fmt.Errorf("write sentinel byte at %d: %w", size-1, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek back to start: %w", err)
	}

	return nil
}

// mapFile mmaps the whole of f (which must already be size bytes long)
// MAP_SHARED so writes are visible to every process mapping the same
// segment, the precondition the entire single-writer/multi-reader protocol
// depends on.
func mapFile(f fs.File, size int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	return unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
}
