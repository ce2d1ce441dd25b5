package datablock

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by datablock operations.
//
// Callers should classify errors with [errors.Is]:
//
//	if errors.Is(err, datablock.ErrSchemaMismatch) {
//	    // fatal: recreate the consumer against a compatible producer
//	}
var (
	// ErrBadMagic indicates the segment header does not start with the
	// DataBlock magic constant. Configuration-class: not retryable.
	ErrBadMagic = errors.New("datablock: bad magic")

	// ErrVersionMismatch indicates the header's major/minor version is
	// incompatible with this build. Configuration-class: not retryable.
	ErrVersionMismatch = errors.New("datablock: version mismatch")

	// ErrSchemaMismatch indicates a supplied expected schema hash does not
	// match the stored flexzone or datablock schema hash. Use
	// [AsSchemaMismatch] to recover which side mismatched.
	ErrSchemaMismatch = errors.New("datablock: schema mismatch")

	// ErrSecretMismatch indicates the shared secret presented by a consumer
	// at attach does not match the value stored in the header.
	ErrSecretMismatch = errors.New("datablock: secret mismatch")

	// ErrInvalidConfig indicates an invalid or inconsistent configuration was
	// supplied to Create. Configuration-class: not retryable.
	ErrInvalidConfig = errors.New("datablock: invalid config")

	// ErrNameConflict indicates a segment with the requested name already
	// exists.
	ErrNameConflict = errors.New("datablock: name conflict")

	// ErrSizeInconsistent indicates a segment's on-disk/on-shm size does not
	// match the size implied by its own header fields.
	ErrSizeInconsistent = errors.New("datablock: size inconsistent")

	// ErrMapFailed indicates the shared-memory segment could not be mapped.
	// Infrastructure-class: the caller must detach.
	ErrMapFailed = errors.New("datablock: map failed")

	// ErrTimeout indicates a blocking acquisition exceeded its caller-supplied
	// deadline. Transient: the caller may retry.
	ErrTimeout = errors.New("datablock: timeout")

	// ErrWouldBlock indicates a non-blocking call found no data ready.
	// Transient: the caller may retry.
	ErrWouldBlock = errors.New("datablock: would block")

	// ErrChecksumFailed indicates a stored BLAKE2b-256 checksum did not match
	// the payload (or flexible zone) bytes on verification. Data-integrity
	// class: not retryable for that slot/generation.
	ErrChecksumFailed = errors.New("datablock: checksum failed")

	// ErrInUse indicates an administrative operation (ForceReset) could not
	// proceed because live writers or readers were detected.
	ErrInUse = errors.New("datablock: in use")

	// ErrNotRegistered indicates [Consumer.Heartbeat] was called on a
	// consumer that holds no registered heartbeat entry.
	ErrNotRegistered = errors.New("datablock: not registered")

	// ErrFatal wraps an unrecoverable condition detected after a successful
	// attach (for example, a magic mismatch observed after attach succeeded).
	// The caller must detach; see [AsFatal] for the underlying reason.
	ErrFatal = errors.New("datablock: fatal")

	// ErrClosed indicates the Producer or Consumer handle has already been
	// closed/detached.
	ErrClosed = errors.New("datablock: closed")

	// ErrAlreadyCommitted indicates Commit or Discard was called on a
	// WriteSlotHandle that was already committed or discarded.
	ErrAlreadyCommitted = errors.New("datablock: already committed")
)

// SchemaKind identifies which stored schema hash mismatched.
type SchemaKind int

const (
	// SchemaFlexZone identifies the flexible-zone BLDS hash.
	SchemaFlexZone SchemaKind = iota
	// SchemaDataBlock identifies the per-slot BLDS hash.
	SchemaDataBlock
)

func (k SchemaKind) String() string {
	switch k {
	case SchemaFlexZone:
		return "FlexZone"
	case SchemaDataBlock:
		return "DataBlock"
	default:
		return "Unknown"
	}
}

// schemaMismatchError carries which schema hash mismatched alongside
// [ErrSchemaMismatch] so callers can both use errors.Is and recover detail.
type schemaMismatchError struct {
	which    SchemaKind
	expected [32]byte
	actual   [32]byte
}

func (e *schemaMismatchError) Error() string {
	return fmt.Sprintf("datablock: schema mismatch (%s): expected %x, got %x",
		e.which, e.expected, e.actual)
}

func (e *schemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// AsSchemaMismatch reports whether err is a schema mismatch error and, if
// so, which schema kind mismatched.
func AsSchemaMismatch(err error) (which SchemaKind, ok bool) {
	var e *schemaMismatchError
	if errors.As(err, &e) {
		return e.which, true
	}

	return 0, false
}

// fatalError wraps an arbitrary cause under [ErrFatal].
type fatalError struct {
	reason string
	cause  error
}

func (e *fatalError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("datablock: fatal: %s: %v", e.reason, e.cause)
	}

	return fmt.Sprintf("datablock: fatal: %s", e.reason)
}

func (e *fatalError) Unwrap() error { return ErrFatal }

// AsFatal reports whether err wraps [ErrFatal] and, if so, returns the
// human-readable reason recorded at the call site.
func AsFatal(err error) (reason string, ok bool) {
	var e *fatalError
	if errors.As(err, &e) {
		return e.reason, true
	}

	return "", false
}

// Lost indicates a SingleReader/SyncReader consumer detected wrap-around:
// the producer advanced generation(s) past what the reader could observe,
// so one or more committed slots were never seen by this reader.
type Lost struct {
	// Skipped is a lower bound on the number of commits this reader missed.
	Skipped uint64
}

func (l *Lost) Error() string {
	return fmt.Sprintf("datablock: lost %d slot(s) to wrap-around", l.Skipped)
}

// AsLost reports whether err is a [Lost] wrap-around report.
func AsLost(err error) (*Lost, bool) {
	var l *Lost
	if errors.As(err, &l) {
		return l, true
	}

	return nil, false
}
