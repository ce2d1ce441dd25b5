package datablock_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/pylabhub/datablock/pkg/datablock"
)

// Test_RingBuffer_RoundTrip_Sees_All_Committed_Slots covers scenario 1:
// single-producer/single-consumer, RingBuffer capacity 4, unit size 16.
func Test_RingBuffer_RoundTrip_Sees_All_Committed_Slots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	prod, err := datablock.Create("ring4", datablock.Config{
		Policy:          datablock.RingBuffer,
		ConsumerSync:    datablock.SingleReader,
		LogicalUnitSize: 16,
		SlotCount:       4,
		SharedSecret:    42,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	want := make([][]byte, 4)

	for i := 0; i < 4; i++ {
		buf := make([]byte, 16)
		for j := range buf {
			buf[j] = byte(0x01 + i*0x10 + j)
		}
		want[i] = buf

		h, err := prod.AcquireWriteSlot(100 * time.Millisecond)
		if err != nil {
			t.Fatalf("AcquireWriteSlot(%d): %v", i, err)
		}

		copy(h.Bytes(), buf)

		if err := prod.Commit(h, len(buf)); err != nil {
			t.Fatalf("Commit(%d): %v", i, err)
		}
	}

	cons, err := datablock.Attach("ring4", 42, nil, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer cons.Close()

	for i := 0; i < 4; i++ {
		h, err := cons.TryNext(100 * time.Millisecond)
		if err != nil {
			t.Fatalf("TryNext(%d): %v", i, err)
		}

		if !bytes.Equal(h.Bytes(), want[i]) {
			t.Fatalf("slot %d: got %x, want %x", i, h.Bytes(), want[i])
		}

		cons.Release(h)
	}
}

func Test_Commit_On_Already_Committed_Handle_Returns_AlreadyCommitted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	prod, err := datablock.Create("idempotent", datablock.Config{
		Policy:          datablock.Single,
		LogicalUnitSize: 8,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	h, err := prod.AcquireWriteSlot(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireWriteSlot: %v", err)
	}

	if err := prod.Commit(h, 8); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := prod.Commit(h, 8); err == nil {
		t.Fatalf("second Commit: got nil error, want ErrAlreadyCommitted")
	}
}

func Test_Release_On_Already_Released_Handle_Is_Noop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	prod, err := datablock.Create("release-idempotent", datablock.Config{
		Policy:          datablock.Single,
		LogicalUnitSize: 4,
		SharedSecret:    7,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	h, err := prod.AcquireWriteSlot(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireWriteSlot: %v", err)
	}

	if err := prod.Commit(h, 4); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	cons, err := datablock.Attach("release-idempotent", 7, nil, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer cons.Close()

	ch, err := cons.TryNext(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("TryNext: %v", err)
	}

	cons.Release(ch)
	cons.Release(ch) // must not panic or double-decrement
}

func Test_Heartbeat_Requires_Registration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	prod, err := datablock.Create("heartbeat", datablock.Config{
		Policy:          datablock.Single,
		ConsumerSync:    datablock.SingleReader,
		LogicalUnitSize: 4,
		SharedSecret:    9,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	registered, err := datablock.Attach("heartbeat", 9, nil, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Attach (SingleReader): %v", err)
	}
	defer registered.Close()

	if err := registered.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat on a registered SingleReader consumer: %v", err)
	}

	latestOnly, err := datablock.Create("heartbeat-latest", datablock.Config{
		Policy:          datablock.Single,
		ConsumerSync:    datablock.LatestOnly,
		LogicalUnitSize: 4,
		SharedSecret:    9,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create (LatestOnly segment): %v", err)
	}
	defer latestOnly.Close()
	defer latestOnly.Unlink()

	latestConsumer, err := datablock.Attach("heartbeat-latest", 9, nil, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Attach (LatestOnly): %v", err)
	}
	defer latestConsumer.Close()

	if err := latestConsumer.Heartbeat(); !errors.Is(err, datablock.ErrNotRegistered) {
		t.Fatalf("Heartbeat on a LatestOnly (never-registered) consumer: got %v, want ErrNotRegistered", err)
	}

	if err := latestConsumer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := latestConsumer.Heartbeat(); !errors.Is(err, datablock.ErrClosed) {
		t.Fatalf("Heartbeat on a closed consumer: got %v, want ErrClosed", err)
	}
}

func Test_Attach_With_Matching_Schema_Succeeds_Mismatched_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	schema := datablock.NewBLDS(datablock.Field{Name: "v", Type: "u32", Count: 1, Align: 4, Offset: 0})
	otherSchema := datablock.NewBLDS(datablock.Field{Name: "v", Type: "u64", Count: 1, Align: 8, Offset: 0})

	prod, err := datablock.Create("schema-check", datablock.Config{
		Policy:          datablock.Single,
		LogicalUnitSize: 4,
		SharedSecret:    99,
		DataBlockSchema: schema,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	h1 := schema.Hash()
	h2 := otherSchema.Hash()

	if _, err := datablock.Attach("schema-check", 99, &datablock.ExpectedSchemas{DataBlock: &h2}, datablock.WithDir(dir)); err == nil {
		t.Fatalf("Attach with mismatched schema: got nil error")
	} else if which, ok := datablock.AsSchemaMismatch(err); !ok || which != datablock.SchemaDataBlock {
		t.Fatalf("Attach with mismatched schema: got %v, want SchemaMismatch{DataBlock}", err)
	}

	cons, err := datablock.Attach("schema-check", 99, &datablock.ExpectedSchemas{DataBlock: &h1}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Attach with matching schema: %v", err)
	}
	cons.Close()
}

func Test_Checksum_Enforced_Detects_External_Corruption(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	prod, err := datablock.Create("corrupt", datablock.Config{
		Policy:          datablock.Single,
		LogicalUnitSize: 16,
		SharedSecret:    5,
		ChecksumPolicy:  datablock.ChecksumEnforced,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	h, err := prod.AcquireWriteSlot(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireWriteSlot: %v", err)
	}

	copy(h.Bytes(), bytes.Repeat([]byte{0xAB}, 16))

	if err := prod.Commit(h, 16); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Corrupt one payload byte directly, simulating external corruption.
	h.Bytes()[0] ^= 0xFF

	cons, err := datablock.Attach("corrupt", 5, nil, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer cons.Close()

	cons.WithOnChecksumFail(datablock.Pass)

	if _, err := cons.TryNext(50 * time.Millisecond); err != datablock.ErrChecksumFailed {
		t.Fatalf("TryNext after corruption: got %v, want ErrChecksumFailed", err)
	}
}

func Test_FlexZone_WriteLock_Then_ReadLock_RoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	prod, err := datablock.Create("flex", datablock.Config{
		Policy:          datablock.Single,
		LogicalUnitSize: 4,
		FlexZoneSize:    32,
		SharedSecret:    3,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	err = prod.FlexZone().WithWriteLock(testContext(t), func(buf []byte) {
		copy(buf, []byte("hello flexzone metadata"))
	})
	if err != nil {
		t.Fatalf("WithWriteLock: %v", err)
	}

	cons, err := datablock.Attach("flex", 3, nil, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer cons.Close()

	var got []byte

	err = cons.FlexZone().WithReadLock(testContext(t), func(buf []byte) {
		got = append(got, buf...)
	})
	if err != nil {
		t.Fatalf("WithReadLock: %v", err)
	}

	if !bytes.HasPrefix(got, []byte("hello flexzone metadata")) {
		t.Fatalf("got %q", got)
	}
}
