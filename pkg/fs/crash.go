package fs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// TempDirer is the minimal subset of *testing.T/*testing.B that [NewCrash]
// needs. It is intentionally tiny so Crash can remain in a non-test package
// without importing the standard library testing package.
type TempDirer interface {
	// TempDir returns a temporary directory path.
	TempDir() string
}

// CrashConfig controls [Crash] behavior. The zero value is usable.
type CrashConfig struct{}

// Crash is a test-only [FS] that simulates crash consistency against a real
// on-disk working directory. Its durability model is deliberately
// pessimistic: a path created through [Crash.OpenFile] with O_CREATE is
// tracked as live but not durable until it is removed through
// [Crash.Remove], and [Crash.SimulateCrash] deletes every tracked path.
// Crash has no operation that marks a path durable.
//
// DataBlock never syncs through the [File] layer at all (segment durability,
// where it matters, goes through [unix.Msync] directly on the mapped
// region), so under this package every path created through Crash
// disappears on [Crash.SimulateCrash] — matching /dev/shm's own volatility.
//
// Crash is not meant for production use.
type Crash struct {
	dir        string
	underlying FS

	mu      sync.Mutex
	created map[string]bool
}

// NewCrash creates a new crash-simulating filesystem rooted at a temporary
// directory obtained from tb. underlying performs the real operations and
// should be OS-backed, in practice [NewReal].
func NewCrash(tb TempDirer, underlying FS, config *CrashConfig) (*Crash, error) {
	if tb == nil {
		return nil, errors.New("crashfs: tb is nil")
	}

	if underlying == nil {
		return nil, errors.New("crashfs: fs is nil")
	}

	dir := tb.TempDir()
	if dir == "" {
		return nil, errors.New("crashfs: temp dir is empty")
	}

	return &Crash{dir: dir, underlying: underlying, created: make(map[string]bool)}, nil
}

func (c *Crash) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(c.dir, path)
}

// OpenFile implements [FS.OpenFile]. A path opened with O_CREATE is tracked
// as live-but-not-durable until a crash is simulated.
func (c *Crash) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	abs := c.resolve(path)

	f, err := c.underlying.OpenFile(abs, flag, perm)
	if err != nil {
		return nil, err
	}

	if flag&os.O_CREATE != 0 {
		c.mu.Lock()
		c.created[path] = true
		c.mu.Unlock()
	}

	return f, nil
}

// Exists implements [FS.Exists] against the live working directory.
func (c *Crash) Exists(path string) (bool, error) {
	return c.underlying.Exists(c.resolve(path))
}

// Remove implements [FS.Remove].
func (c *Crash) Remove(path string) error {
	err := c.underlying.Remove(c.resolve(path))
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.created, path)
	c.mu.Unlock()

	return nil
}

// SimulateCrash simulates a crash/power loss: every path created with
// O_CREATE since the last crash (or since construction) and not removed
// since is deleted from the working directory.
func (c *Crash) SimulateCrash() error {
	c.mu.Lock()
	pending := c.created
	c.created = make(map[string]bool)
	c.mu.Unlock()

	for path := range pending {
		if err := c.underlying.Remove(c.resolve(path)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

// Compile-time interface check.
var _ FS = (*Crash)(nil)
