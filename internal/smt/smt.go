// Package smt implements the sparse Merkle tree non-membership client
// (C6): prove_non_membership queries the remote node's find_key view call
// and packs the result into a witness usable as a circuit input. No SMT
// implementation appears anywhere in the retrieval pack (the teacher and
// its siblings only carry append-only commitment trees), so this package
// is built from first principles against spec §4.6 and general SMT theory,
// following the teacher's request/response shape (internal/zerocash/api.go's
// REST handlers: decode request, dispatch, encode response) for how the
// remote call itself is wired through rpcnode.NodeClient.
package smt

import (
	"context"
	"fmt"

	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/rpcnode"
	"github.com/shieldedpool/client/pkg/field"
)

// Witness is the non-membership proof handed to the transaction builder.
type Witness struct {
	Root          field.Element
	Key           field.Element
	Siblings      []field.Element // length D_S after pad/trim normalization
	NotFoundKey   field.Element
	NotFoundValue field.Element
	IsOld0        bool
}

// Client proves non-membership against the blocked-key SMT exposed by a
// remote node.
type Client struct {
	Node  rpcnode.NodeClient
	Depth uint32 // D_S
}

// New constructs a Client bound to node with sibling vector length depth.
func New(node rpcnode.NodeClient, depth uint32) *Client {
	return &Client{Node: node, Depth: depth}
}

// ProveNonMembership simulates find_key(key) against the remote node. If
// the contract reports the key present, this is a hard gate: the caller
// cannot proceed (poolerr.KeyExists). If absent, the current root and
// siblings are packed into a Witness, with the sibling vector padded or
// trimmed to exactly Depth entries (trimming is logged by the caller as a
// warning — see internal/txbuilder, which holds the logger).
func (c *Client) ProveNonMembership(ctx context.Context, key field.Element) (Witness, bool, error) {
	keyBytes := field.FieldToBEBytes(key)
	result, err := c.Node.SimulateFindKey(ctx, keyBytes[:])
	if err != nil {
		return Witness{}, false, poolerr.Wrap(poolerr.Transient, err, "simulating find_key")
	}
	if result.Found {
		return Witness{}, false, poolerr.New(poolerr.KeyExists, "note public key is present in the blocked set")
	}

	// Empty-tree shortcut: root == 0 (never the zero-leaf constant) means
	// there is nothing to prove against.
	if isZero(result.Root) {
		siblings := make([]field.Element, c.Depth)
		return Witness{
			Root:          field.Element{},
			Key:           key,
			Siblings:      siblings,
			NotFoundKey:   field.Element{},
			NotFoundValue: field.Element{},
			IsOld0:        true,
		}, false, nil
	}

	root, err := field.BEBytesToField(result.Root)
	if err != nil {
		return Witness{}, false, fmt.Errorf("smt: decoding root: %w", err)
	}
	notFoundKey, err := field.BEBytesToField(result.NotFoundKey)
	if err != nil {
		return Witness{}, false, fmt.Errorf("smt: decoding not_found_key: %w", err)
	}
	notFoundValue, err := field.BEBytesToField(result.NotFoundValue)
	if err != nil {
		return Witness{}, false, fmt.Errorf("smt: decoding not_found_value: %w", err)
	}

	siblings, trimmed, err := normalizeSiblings(result.Siblings, c.Depth)
	if err != nil {
		return Witness{}, false, err
	}

	return Witness{
		Root:          root,
		Key:           key,
		Siblings:      siblings,
		NotFoundKey:   notFoundKey,
		NotFoundValue: notFoundValue,
		IsOld0:        result.IsOld0,
	}, trimmed, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// normalizeSiblings pads with zero field elements or trims to depth,
// reporting whether a trim occurred (the caller logs a warning in that
// case — a trim indicates an on-chain-tree depth change the operator must
// reconcile, per spec §4.6).
func normalizeSiblings(raw [][]byte, depth uint32) ([]field.Element, bool, error) {
	out := make([]field.Element, depth)
	trimmed := false
	n := uint32(len(raw))
	if n > depth {
		trimmed = true
		n = depth
	}
	for i := uint32(0); i < n; i++ {
		f, err := field.BEBytesToField(raw[i])
		if err != nil {
			return nil, false, fmt.Errorf("smt: decoding sibling %d: %w", i, err)
		}
		out[i] = f
	}
	// Remaining entries beyond n stay zero-valued (pad).
	return out, trimmed, nil
}
