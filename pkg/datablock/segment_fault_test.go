package datablock_test

import (
	"errors"
	"testing"

	"github.com/pylabhub/datablock/pkg/datablock"
	"github.com/pylabhub/datablock/pkg/fs"
)

// Test_Create_Surfaces_ErrMapFailed_On_Open_Failure exercises
// createSegment's failure path through fs.Chaos, the fault-injecting
// wrapper this package's segment creation is routed through precisely so
// failures like this are testable without a real out-of-space /dev/shm.
func Test_Create_Surfaces_ErrMapFailed_On_Open_Failure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	real := fs.NewReal()
	chaos := fs.NewChaos(real, 1, &fs.ChaosConfig{OpenFailRate: 1.0})

	_, err := datablock.Create("chaos-open", datablock.Config{
		Policy:          datablock.Single,
		LogicalUnitSize: 8,
	}, datablock.WithFS(chaos), datablock.WithDir(dir))

	if !errors.Is(err, datablock.ErrMapFailed) {
		t.Fatalf("Create with forced open failure: got %v, want ErrMapFailed", err)
	}
}

// Test_Create_Surfaces_ErrMapFailed_On_Grow_Write_Failure exercises the
// growFile path (a Seek+Write sequence on fs.File) under a forced write
// failure.
func Test_Create_Surfaces_ErrMapFailed_On_Grow_Write_Failure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	real := fs.NewReal()
	chaos := fs.NewChaos(real, 2, &fs.ChaosConfig{WriteFailRate: 1.0})

	_, err := datablock.Create("chaos-grow", datablock.Config{
		Policy:          datablock.Single,
		LogicalUnitSize: 8,
	}, datablock.WithFS(chaos), datablock.WithDir(dir))

	if !errors.Is(err, datablock.ErrMapFailed) {
		t.Fatalf("Create with forced write failure: got %v, want ErrMapFailed", err)
	}
}

// Test_Create_Survives_Simulated_Crash_Before_Sync exercises fs.Crash:
// a segment created but never explicitly synced should not be durable
// across a simulated crash, since /dev/shm itself never survives a crash
// either — the Crash wrapper is exercised here purely as a fault-injection
// harness for the creation path, not as a durability guarantee this package
// makes.
func Test_Create_Does_Not_Survive_Simulated_Crash_Before_Sync(t *testing.T) {
	t.Parallel()

	real := fs.NewReal()

	crash, err := fs.NewCrash(t, real, &fs.CrashConfig{})
	if err != nil {
		t.Fatalf("NewCrash: %v", err)
	}

	prod, err := datablock.Create("crash-seg", datablock.Config{
		Policy:          datablock.Single,
		LogicalUnitSize: 8,
		SharedSecret:    1,
	}, datablock.WithFS(crash), datablock.WithDir("."))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer prod.Close()
	defer prod.Unlink()

	if exists, err := crash.Exists("datablock.crash-seg"); err != nil || !exists {
		t.Fatalf("segment file missing in Crash's live view before crash: exists=%v err=%v", exists, err)
	}

	if err := crash.SimulateCrash(); err != nil {
		t.Fatalf("SimulateCrash: %v", err)
	}

	if exists, err := crash.Exists("datablock.crash-seg"); err != nil || exists {
		t.Fatalf("unsynced segment file survived SimulateCrash: exists=%v err=%v", exists, err)
	}
}
