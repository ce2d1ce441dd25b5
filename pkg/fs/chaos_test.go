package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pylabhub/datablock/pkg/fs"
)

func Test_Chaos_OpenFile_Fails_At_OpenFailRate_One(t *testing.T) {
	dir := t.TempDir()

	chaos := fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{OpenFailRate: 1.0})

	if _, err := chaos.OpenFile(filepath.Join(dir, "seg"), os.O_RDWR|os.O_CREATE, 0o666); err == nil {
		t.Fatalf("OpenFile with OpenFailRate=1.0: got nil error")
	}
}

func Test_Chaos_Write_Fails_At_WriteFailRate_One(t *testing.T) {
	dir := t.TempDir()

	chaos := fs.NewChaos(fs.NewReal(), 2, &fs.ChaosConfig{WriteFailRate: 1.0})

	f, err := chaos.OpenFile(filepath.Join(dir, "seg"), os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{0}); err == nil {
		t.Fatalf("Write with WriteFailRate=1.0: got nil error")
	}
}

func Test_Chaos_Zero_Config_Never_Injects_Faults(t *testing.T) {
	dir := t.TempDir()

	chaos := fs.NewChaos(fs.NewReal(), 3, &fs.ChaosConfig{})

	f, err := chaos.OpenFile(filepath.Join(dir, "seg"), os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		t.Fatalf("OpenFile with zero ChaosConfig: %v", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write with zero ChaosConfig: %v", err)
	}
}
