package merkletree

import (
	"context"
	"testing"

	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/store/memstore"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/poseidon"
)

func zeroLeaf() field.Element {
	// Poseidon2_preimage("XLM") stand-in: any fixed non-zero domain
	// constant works for these structural tests.
	h := poseidon.Hash2(field.U64ToField(0x584c4d), field.U64ToField(0), poseidon.DomainCommitment)
	return h
}

// S3 — Empty approved tree root, D_A=5.
func TestEmptyTreeRootAndZeroLeafNoOp(t *testing.T) {
	ctx := context.Background()
	z := zeroLeaf()
	tr, err := New(ctx, 5, z, memstore.NewTreeStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	zeros := tr.Zeros()
	if !tr.Root().Equal(&zeros[5]) {
		t.Fatalf("empty tree root must equal zeros[5]")
	}

	if _, err := tr.Insert(ctx, z); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !tr.Root().Equal(&zeros[5]) {
		t.Errorf("inserting the zero leaf at index 0 must be a no-op against an empty tree")
	}
}

func TestInsertAndVerifyProof(t *testing.T) {
	ctx := context.Background()
	z := zeroLeaf()
	tr, err := New(ctx, 4, z, memstore.NewTreeStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	leaves := make([]field.Element, 0)
	for i := 0; i < 6; i++ {
		leaf := field.U64ToField(uint64(1000 + i))
		idx, err := tr.Insert(ctx, leaf)
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		if idx != uint64(i) {
			t.Fatalf("insert index = %d, want %d", idx, i)
		}
		leaves = append(leaves, leaf)
	}

	root := tr.Root()
	for i, leaf := range leaves {
		proof, err := tr.GetProof(ctx, uint64(i))
		if err != nil {
			t.Fatalf("GetProof(%d): %v", i, err)
		}
		if !VerifyPath(leaf, proof, root) {
			t.Errorf("VerifyPath failed for index %d", i)
		}
		for k := 0; k < len(proof.PathIndices); k++ {
			want := (uint64(i)>>uint(k))&1 == 1
			if proof.PathIndices[k] != want {
				t.Errorf("path bit %d for index %d = %v, want %v", k, i, proof.PathIndices[k], want)
			}
		}
	}
}

func TestTreeFull(t *testing.T) {
	ctx := context.Background()
	z := zeroLeaf()
	tr, err := New(ctx, 1, z, memstore.NewTreeStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Insert(ctx, field.U64ToField(1)); err != nil {
		t.Fatalf("insert 0: %v", err)
	}
	if _, err := tr.Insert(ctx, field.U64ToField(2)); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	_, err = tr.Insert(ctx, field.U64ToField(3))
	if !poolerr.Is(err, poolerr.TreeFull) {
		t.Errorf("expected TreeFull, got %v", err)
	}
}
