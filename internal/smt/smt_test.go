package smt

import (
	"context"
	"testing"

	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/rpcnode/fakenode"
	"github.com/shieldedpool/client/pkg/field"
)

func TestProveNonMembershipSucceeds(t *testing.T) {
	node := fakenode.New()
	node.SetSMTRoot(append(make([]byte, 31), 0x01))
	c := New(node, 32)
	w, trimmed, err := c.ProveNonMembership(context.Background(), field.U64ToField(7))
	if err != nil {
		t.Fatalf("ProveNonMembership: %v", err)
	}
	if trimmed {
		t.Errorf("did not expect a trim")
	}
	if len(w.Siblings) != 32 {
		t.Errorf("siblings length = %d, want 32", len(w.Siblings))
	}
	if !w.IsOld0 {
		t.Errorf("expected is_old_0=true for a not-found key")
	}
}

func TestProveNonMembershipKeyExists(t *testing.T) {
	node := fakenode.New()
	node.SetSMTRoot(append(make([]byte, 31), 0x01))
	key := field.U64ToField(9)
	keyBytes := field.FieldToBEBytes(key)
	node.BlockKey(string(keyBytes[:]))

	c := New(node, 32)
	_, _, err := c.ProveNonMembership(context.Background(), key)
	if !poolerr.Is(err, poolerr.KeyExists) {
		t.Errorf("expected KeyExists, got %v", err)
	}
}

func TestSiblingTrimWarning(t *testing.T) {
	raw := make([][]byte, 40)
	for i := range raw {
		raw[i] = make([]byte, 32)
	}
	out, trimmed, err := normalizeSiblings(raw, 32)
	if err != nil {
		t.Fatalf("normalizeSiblings: %v", err)
	}
	if !trimmed {
		t.Errorf("expected trim to be reported")
	}
	if len(out) != 32 {
		t.Errorf("expected 32 siblings after trim, got %d", len(out))
	}
}

func TestSiblingPad(t *testing.T) {
	raw := make([][]byte, 4)
	for i := range raw {
		raw[i] = make([]byte, 32)
	}
	out, trimmed, err := normalizeSiblings(raw, 32)
	if err != nil {
		t.Fatalf("normalizeSiblings: %v", err)
	}
	if trimmed {
		t.Errorf("did not expect a trim")
	}
	if len(out) != 32 {
		t.Errorf("expected 32 siblings after pad, got %d", len(out))
	}
}

func TestEmptyTreeShortcut(t *testing.T) {
	node := fakenode.New() // no root set -> nil -> treated as zero
	c := New(node, 16)
	w, _, err := c.ProveNonMembership(context.Background(), field.U64ToField(1))
	if err != nil {
		t.Fatalf("ProveNonMembership: %v", err)
	}
	if !w.IsOld0 {
		t.Errorf("expected is_old_0=true on empty tree shortcut")
	}
	var zero field.Element
	if !w.Root.Equal(&zero) {
		t.Errorf("expected zero root on empty tree shortcut")
	}
}
