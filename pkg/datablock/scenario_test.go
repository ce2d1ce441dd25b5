package datablock_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/pylabhub/datablock/pkg/datablock"
)

// Test_LatestOnly_Slow_Consumer_Sees_Recent_Nondecreasing_Counters covers
// scenario 2: a fast producer and a slow LatestOnly consumer.
func Test_LatestOnly_Slow_Consumer_Sees_Recent_Nondecreasing_Counters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	prod, err := datablock.Create("latest-drop", datablock.Config{
		Policy:          datablock.RingBuffer,
		ConsumerSync:    datablock.LatestOnly,
		LogicalUnitSize: 4,
		SlotCount:       8,
		SharedSecret:    1,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		for i := uint32(0); i < 100; i++ {
			h, err := prod.AcquireWriteSlot(200 * time.Millisecond)
			if err != nil {
				t.Errorf("AcquireWriteSlot(%d): %v", i, err)
				return
			}

			binary.LittleEndian.PutUint32(h.Bytes(), i)

			if err := prod.Commit(h, 4); err != nil {
				t.Errorf("Commit(%d): %v", i, err)
				return
			}
		}
	}()

	cons, err := datablock.Attach("latest-drop", 1, nil, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer cons.Close()

	var lastCounter int64 = -1
	var maxCounter uint32

	for i := 0; i < 12; i++ {
		time.Sleep(10 * time.Millisecond)

		h, err := cons.TryNext(50 * time.Millisecond)
		if err != nil {
			continue // producer may not have committed yet on the first iteration
		}

		counter := int64(binary.LittleEndian.Uint32(h.Bytes()))
		cons.Release(h)

		if counter < lastCounter {
			t.Fatalf("counter went backwards: %d then %d", lastCounter, counter)
		}

		lastCounter = counter
		if uint32(counter) > maxCounter {
			maxCounter = uint32(counter)
		}
	}

	wg.Wait()

	if maxCounter < 90 {
		t.Fatalf("slow consumer never observed counter >= 90, max seen %d", maxCounter)
	}
}

// Test_SingleReader_Detects_Lost_Slots_On_WrapAround covers scenario 3.
func Test_SingleReader_Detects_Lost_Slots_On_WrapAround(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	prod, err := datablock.Create("loss-detect", datablock.Config{
		Policy:          datablock.RingBuffer,
		ConsumerSync:    datablock.SingleReader,
		LogicalUnitSize: 4,
		SlotCount:       4,
		SharedSecret:    1,
	}, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	commitN := func(n int) {
		for i := 0; i < n; i++ {
			h, err := prod.AcquireWriteSlot(50 * time.Millisecond)
			if err != nil {
				t.Fatalf("AcquireWriteSlot: %v", err)
			}

			if err := prod.Commit(h, 0); err != nil {
				t.Fatalf("Commit: %v", err)
			}
		}
	}

	commitN(5)

	cons, err := datablock.Attach("loss-detect", 1, nil, datablock.WithDir(dir))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer cons.Close()

	if _, err := cons.TryNext(50 * time.Millisecond); err != nil {
		t.Fatalf("first TryNext: %v", err)
	}

	commitN(10)

	_, err = cons.TryNext(50 * time.Millisecond)

	lost, ok := datablock.AsLost(err)
	if !ok {
		t.Fatalf("second TryNext: got %v, want Lost", err)
	}

	if lost.Skipped < 8 {
		t.Fatalf("Lost.Skipped = %d, want >= 8", lost.Skipped)
	}

	if _, err := cons.TryNext(50 * time.Millisecond); err != nil {
		t.Fatalf("TryNext after loss report: %v", err)
	}
}
