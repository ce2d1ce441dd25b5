package fs

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
)

// ChaosConfig controls fault injection probabilities for [Chaos]. Each rate
// is a float64 from 0.0 (never) to 1.0 (always). The zero value disables
// all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often [Chaos.OpenFile] fails entirely,
	// simulating an out-of-space or permission-denied /dev/shm.
	OpenFailRate float64

	// WriteFailRate controls how often a write through a file opened via
	// [Chaos] fails entirely, simulating a write that hits a full or
	// read-only backing store mid-[growFile].
	WriteFailRate float64
}

// Chaos wraps an [FS], injecting deterministic faults (seeded by seed) at
// the rates in config. It exists to drive createSegment's and attachSegment's
// error paths (ErrMapFailed) without needing a real out-of-space /dev/shm.
type Chaos struct {
	underlying FS
	config     ChaosConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewChaos returns a [Chaos] wrapping underlying, seeded for reproducible
// fault injection.
func NewChaos(underlying FS, seed int64, config *ChaosConfig) *Chaos {
	cfg := ChaosConfig{}
	if config != nil {
		cfg = *config
	}

	return &Chaos{
		underlying: underlying,
		config:     cfg,
		rng:        rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
}

func (c *Chaos) should(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64() < rate
}

// OpenFile fails with a simulated I/O error at OpenFailRate; otherwise it
// delegates to the underlying FS and wraps the returned [File] so writes
// through it are subject to WriteFailRate.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		return nil, &os.PathError{Op: "open", Path: path, Err: fmt.Errorf("chaos: simulated open failure")}
	}

	f, err := c.underlying.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, chaos: c, path: path}, nil
}

// Exists delegates to the underlying FS unmodified.
func (c *Chaos) Exists(path string) (bool, error) {
	return c.underlying.Exists(path)
}

// Remove delegates to the underlying FS unmodified.
func (c *Chaos) Remove(path string) error {
	return c.underlying.Remove(path)
}

// Compile-time interface check.
var _ FS = (*Chaos)(nil)

// chaosFile wraps a [File], injecting a write failure at WriteFailRate.
type chaosFile struct {
	File
	chaos *Chaos
	path  string
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.chaos.should(f.chaos.config.WriteFailRate) {
		return 0, &os.PathError{Op: "write", Path: f.path, Err: fmt.Errorf("chaos: simulated write failure")}
	}

	return f.File.Write(p)
}
