package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pylabhub/datablock/pkg/fs"
)

func Test_Real_OpenFile_Exists_Remove_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg")

	real := fs.NewReal()

	if exists, err := real.Exists(path); err != nil || exists {
		t.Fatalf("Exists before creation = %v, %v, want false, nil", exists, err)
	}

	f, err := real.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	if _, err := f.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if exists, err := real.Exists(path); err != nil || !exists {
		t.Fatalf("Exists after creation = %v, %v, want true, nil", exists, err)
	}

	if err := real.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if exists, err := real.Exists(path); err != nil || exists {
		t.Fatalf("Exists after removal = %v, %v, want false, nil", exists, err)
	}
}
