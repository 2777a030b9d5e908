// Package merkletree implements the fixed-depth, append-only incremental
// Merkle tree (C5) shared by the pool tree and the approved-sender tree.
// It is grounded directly on m1zr-ccoin's internal/zkp/merkle.go
// (CommitmentTree / TreeStore / emptyHash-precompute pattern), adapted from
// sha256 leaves to domain-tagged Poseidon2 leaves over the BN254 field and
// from a fixed depth to a caller-supplied depth and zero leaf.
package merkletree

import (
	"context"
	"fmt"

	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/poseidon"
)

// Store is the pluggable persistence contract for one tree instance,
// mirroring m1zr-ccoin's TreeStore interface (GetNode/SetNode/GetRoot/
// SetRoot/GetSize/SetSize, all context-aware) — named per the spec's
// persisted-store table (pool_leaves / approved_leaves). Every node at
// every level the tree has ever touched is addressable by (level, index),
// so that GetProof can recover historical sibling paths; level 0 holds
// leaves.
type Store interface {
	GetNode(ctx context.Context, level uint32, index uint64) (field.Element, bool, error)
	SetNode(ctx context.Context, level uint32, index uint64, value field.Element) error
	GetNextIndex(ctx context.Context) (uint64, error)
	SetNextIndex(ctx context.Context, next uint64) error
}

// Proof is the inclusion witness returned by GetProof.
type Proof struct {
	PathElements []field.Element
	PathIndices  []bool // k-th entry is the k-th bit of the leaf index, LSB first
}

// Tree is a single append-only Merkle tree instance backed by Store.
type Tree struct {
	depth     uint32
	zero      field.Element
	zeros     []field.Element // zeros[0]=Z, zeros[i+1]=Poseidon2(zeros[i],zeros[i],0x01)
	nextIndex uint64
	root      field.Element
	store     Store
}

// New constructs a Tree of the given depth and zero leaf, backed by store.
// Pass memstore.NewTreeStore() for a purely in-memory tree (tests, the
// txbuilder's local-fallback path).
func New(ctx context.Context, depth uint32, zero field.Element, store Store) (*Tree, error) {
	if store == nil {
		return nil, fmt.Errorf("merkletree: store must not be nil")
	}
	zeros := make([]field.Element, depth+1)
	zeros[0] = zero
	for i := uint32(0); i < depth; i++ {
		zeros[i+1] = poseidon.Hash2(zeros[i], zeros[i], poseidon.DomainCommitment)
	}

	t := &Tree{
		depth: depth,
		zero:  zero,
		zeros: zeros,
		store: store,
	}

	next, err := store.GetNextIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("merkletree: loading next index: %w", err)
	}
	t.nextIndex = next

	if next == 0 {
		t.root = zeros[depth]
	} else {
		root, ok, err := store.GetNode(ctx, depth, 0)
		if err != nil {
			return nil, fmt.Errorf("merkletree: loading persisted root: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("merkletree: next_index=%d but no persisted root found", next)
		}
		t.root = root
	}
	return t, nil
}

// NextIndex returns the number of leaves inserted so far.
func (t *Tree) NextIndex() uint64 {
	return t.nextIndex
}

// Root returns the current root (zeros[depth] on an empty tree).
func (t *Tree) Root() field.Element {
	return t.root
}

// Insert appends leaf at position NextIndex() in O(depth), persisting every
// touched node and the new next index. Callers that need atomicity across
// the cursor advance and the inserted nodes (§4.8's transactionality
// requirement) should use a Store whose methods participate in the same
// underlying transaction — see internal/store.
func (t *Tree) Insert(ctx context.Context, leaf field.Element) (uint64, error) {
	capacity := uint64(1) << t.depth
	if t.nextIndex >= capacity {
		return 0, poolerr.New(poolerr.TreeFull, "tree at depth %d is full (next_index=%d)", t.depth, t.nextIndex)
	}
	index := t.nextIndex

	if err := t.store.SetNode(ctx, 0, index, leaf); err != nil {
		return 0, fmt.Errorf("merkletree: persisting leaf idx=%d: %w", index, err)
	}

	current := leaf
	idx := index
	for level := uint32(0); level < t.depth; level++ {
		siblingIdx := idx ^ 1
		sibling, ok, err := t.store.GetNode(ctx, level, siblingIdx)
		if err != nil {
			return 0, fmt.Errorf("merkletree: reading sibling level=%d idx=%d: %w", level, siblingIdx, err)
		}
		if !ok {
			sibling = t.zeros[level]
		}

		var left, right field.Element
		if idx%2 == 0 {
			left, right = current, sibling
		} else {
			left, right = sibling, current
		}
		current = poseidon.Hash2(left, right, poseidon.DomainCommitment)
		idx /= 2

		if err := t.store.SetNode(ctx, level+1, idx, current); err != nil {
			return 0, fmt.Errorf("merkletree: persisting node level=%d idx=%d: %w", level+1, idx, err)
		}
	}

	if err := t.store.SetNextIndex(ctx, index+1); err != nil {
		return 0, fmt.Errorf("merkletree: persisting next index: %w", err)
	}
	t.nextIndex = index + 1
	t.root = current
	return index, nil
}

// GetProof returns the inclusion witness for leaf index i, i < NextIndex().
func (t *Tree) GetProof(ctx context.Context, i uint64) (Proof, error) {
	if i >= t.nextIndex {
		return Proof{}, poolerr.New(poolerr.InvalidInput, "index %d >= next_index %d", i, t.nextIndex)
	}
	elements := make([]field.Element, t.depth)
	indices := make([]bool, t.depth)
	idx := i
	for level := uint32(0); level < t.depth; level++ {
		bit := idx % 2
		indices[level] = bit == 1
		siblingIdx := idx ^ 1
		node, ok, err := t.store.GetNode(ctx, level, siblingIdx)
		if err != nil {
			return Proof{}, fmt.Errorf("merkletree: reading sibling level=%d idx=%d: %w", level, siblingIdx, err)
		}
		if ok {
			elements[level] = node
		} else {
			elements[level] = t.zeros[level]
		}
		idx /= 2
	}
	return Proof{PathElements: elements, PathIndices: indices}, nil
}

// VerifyPath checks that leaf at the path described by proof hashes up to
// expectedRoot.
func VerifyPath(leaf field.Element, proof Proof, expectedRoot field.Element) bool {
	current := leaf
	for level, sibling := range proof.PathElements {
		if proof.PathIndices[level] {
			current = poseidon.Hash2(sibling, current, poseidon.DomainCommitment)
		} else {
			current = poseidon.Hash2(current, sibling, poseidon.DomainCommitment)
		}
	}
	return current.Equal(&expectedRoot)
}

// Zeros exposes the precomputed zero-hash vector, primarily for the empty
// approved-tree-root test scenario (S3).
func (t *Tree) Zeros() []field.Element {
	out := make([]field.Element, len(t.zeros))
	copy(out, t.zeros)
	return out
}
