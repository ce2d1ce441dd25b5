package datablock_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pylabhub/datablock/pkg/datablock"
)

func Test_BLDS_Hash_Is_Deterministic_And_Order_Independent(t *testing.T) {
	t.Parallel()

	a := datablock.NewBLDS(
		datablock.Field{Name: "seq", Type: "u64", Count: 1, Align: 8, Offset: 0},
		datablock.Field{Name: "price", Type: "f64", Count: 1, Align: 8, Offset: 8},
	)

	b := datablock.NewBLDS(
		datablock.Field{Name: "price", Type: "f64", Count: 1, Align: 8, Offset: 8},
		datablock.Field{Name: "seq", Type: "u64", Count: 1, Align: 8, Offset: 0},
	)

	if diff := cmp.Diff(a.Hash(), b.Hash()); diff != "" {
		t.Fatalf("hash differs by field order (-a +b):\n%s", diff)
	}
}

func Test_BLDS_Hash_Differs_For_Different_Layouts(t *testing.T) {
	t.Parallel()

	a := datablock.NewBLDS(datablock.Field{Name: "x", Type: "u32", Count: 1, Align: 4, Offset: 0})
	b := datablock.NewBLDS(datablock.Field{Name: "x", Type: "u64", Count: 1, Align: 8, Offset: 0})

	if a.Hash() == b.Hash() {
		t.Fatalf("expected distinct hashes for distinct field types")
	}
}

func Test_BLDS_Empty_Hashes_To_Canonical_Empty_Hash(t *testing.T) {
	t.Parallel()

	var empty datablock.BLDS

	h1 := empty.Hash()
	h2 := datablock.NewBLDS().Hash()

	if diff := cmp.Diff(h1, h2); diff != "" {
		t.Fatalf("nil and empty BLDS hash differently (-nil +empty):\n%s", diff)
	}
}
