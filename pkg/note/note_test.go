package note

import (
	"testing"

	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/poseidon"
)

// S2 — Commitment round-trip.
func TestCommitmentRoundTrip(t *testing.T) {
	priv := field.U64ToField(1)
	pk := poseidon.NotePubkey(priv)
	blinding := field.U64ToField(0x42)
	n := Note{Amount: 1_000_000, OwnerNotePubkey: pk, Blinding: blinding}

	c := n.Commitment()
	le := field.FieldToLEBytes(c)
	back, err := field.LEBytesToField(le[:])
	if err != nil {
		t.Fatalf("LEBytesToField: %v", err)
	}
	if field.FieldToHex(back) != field.FieldToHex(c) {
		t.Errorf("commitment round-trip mismatch")
	}
}

func TestCommitmentMatchesDirectHash(t *testing.T) {
	priv := field.U64ToField(7)
	pk := poseidon.NotePubkey(priv)
	n := Note{Amount: 42, OwnerNotePubkey: pk, Blinding: field.U64ToField(99)}
	want := poseidon.Hash3(field.U64ToField(42), pk, field.U64ToField(99), poseidon.DomainCommitment)
	got := n.Commitment()
	if !got.Equal(&want) {
		t.Errorf("Commitment() diverged from direct Poseidon2 call")
	}
}

func TestNullifierIsPureFunctionOfNoteAndKey(t *testing.T) {
	priv := field.U64ToField(123)
	pk := poseidon.NotePubkey(priv)
	n := Note{Amount: 5, OwnerNotePubkey: pk, Blinding: field.U64ToField(1), LeafIndex: 3}

	n1, err := DeriveNullifier(priv, n)
	if err != nil {
		t.Fatalf("DeriveNullifier: %v", err)
	}
	n2, err := DeriveNullifier(priv, n)
	if err != nil {
		t.Fatalf("DeriveNullifier: %v", err)
	}
	if !n1.Equal(&n2) {
		t.Errorf("nullifier must be a pure function of (note, spending key)")
	}
}

func TestToExportedAmountIsDecimalString(t *testing.T) {
	n := Note{Amount: 1_000_000, OwnerNotePubkey: field.U64ToField(1), Blinding: field.U64ToField(2)}
	ex := n.ToExported()
	if ex.Amount != "1000000" {
		t.Errorf("Amount = %q, want decimal string 1000000", ex.Amount)
	}
	if ex.ID == "" || ex.ID[:2] != "0x" {
		t.Errorf("ID must be 0x-prefixed hex, got %q", ex.ID)
	}
}
