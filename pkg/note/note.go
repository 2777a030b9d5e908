// Package note defines the Note entity and its derived values
// (commitment, nullifier), generalizing the teacher's internal/zerocash
// Note (note.go: Value/PkOwner/Rho/Rand/Cm) from a two-field
// (coins, energy) Zerocash note to the single-amount privacy-pool note
// this spec describes, with Poseidon2 replacing MiMC throughout.
package note

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/poseidon"
)

// Note is the private record that authorizes a spend (spec §3).
type Note struct {
	Amount          uint64
	Blinding        field.Element
	OwnerNotePubkey field.Element
	LeafIndex       uint32 // set when observed in the pool tree
	HasLeafIndex    bool
	Spent           bool
	SpentAtLedger   uint64
	IsReceived      bool
	CreatedAtLedger uint64
	OwnerAddress    string
}

// Commitment computes commitment = Poseidon2(amount, owner_note_pubkey,
// blinding, domain=0x01).
func (n Note) Commitment() field.Element {
	return poseidon.Hash3(field.U64ToField(n.Amount), n.OwnerNotePubkey, n.Blinding, poseidon.DomainCommitment)
}

// Signature computes sig = Poseidon2(priv, commitment, leaf_index,
// domain=0x04), the intermediate value feeding Nullifier.
func Signature(priv, commitment field.Element, leafIndex uint32) field.Element {
	return poseidon.Hash3(priv, commitment, field.U64ToField(uint64(leafIndex)), poseidon.DomainSpendSignature)
}

// Nullifier computes nullifier = Poseidon2(commitment, leaf_index, sig,
// domain=0x05), the unforgeable one-time spending tag.
func Nullifier(commitment field.Element, leafIndex uint32, sig field.Element) field.Element {
	return poseidon.Hash3(commitment, field.U64ToField(uint64(leafIndex)), sig, poseidon.DomainNullifier)
}

// DeriveNullifier is the convenience composition of Signature + Nullifier
// for a note spent with spending key priv.
func DeriveNullifier(priv field.Element, n Note) (field.Element, error) {
	c := n.Commitment()
	sig := Signature(priv, c, n.LeafIndex)
	return Nullifier(c, n.LeafIndex, sig), nil
}

// ExportedNote is the JSON wire shape for note export (spec §6):
// amount is a decimal string of stroops; blinding is 0x-hex; id is the
// lower-case 0x-hex commitment.
type ExportedNote struct {
	ID              string `json:"id"`
	Amount          string `json:"amount"`
	Blinding        string `json:"blinding"`
	OwnerNotePubkey string `json:"owner_note_pubkey"`
	LeafIndex       *uint32 `json:"leaf_index,omitempty"`
	Spent           bool   `json:"spent"`
	SpentAtLedger   *uint64 `json:"spent_at_ledger,omitempty"`
	IsReceived      bool   `json:"is_received"`
	CreatedAtLedger uint64 `json:"created_at_ledger"`
	OwnerAddress    string `json:"owner_address"`
}

// ToExported converts a Note to its wire shape.
func (n Note) ToExported() ExportedNote {
	out := ExportedNote{
		ID:              field.FieldToHex(n.Commitment()),
		Amount:          decimalString(n.Amount),
		Blinding:        field.FieldToHex(n.Blinding),
		OwnerNotePubkey: field.FieldToHex(n.OwnerNotePubkey),
		Spent:           n.Spent,
		IsReceived:      n.IsReceived,
		CreatedAtLedger: n.CreatedAtLedger,
		OwnerAddress:    n.OwnerAddress,
	}
	if n.HasLeafIndex {
		li := n.LeafIndex
		out.LeafIndex = &li
	}
	if n.Spent {
		s := n.SpentAtLedger
		out.SpentAtLedger = &s
	}
	return out
}

func decimalString(x uint64) string {
	return strconv.FormatUint(x, 10)
}

// ExportDocument is the top-level export file shape: {version, exported_at,
// notes}.
type ExportDocument struct {
	Version    int            `json:"version"`
	ExportedAt time.Time      `json:"exported_at"`
	Notes      []ExportedNote `json:"notes"`
}

// Export marshals notes into the versioned export document.
func Export(notes []Note, now time.Time) ExportDocument {
	out := make([]ExportedNote, len(notes))
	for i, n := range notes {
		out[i] = n.ToExported()
	}
	return ExportDocument{Version: 1, ExportedAt: now, Notes: out}
}

// FromExported parses one wire-shape note back into a Note, validating the
// decimal amount, the two field-element hex strings, and that the declared
// id matches the recomputed commitment (guards against a hand-edited or
// corrupted export file being imported silently).
func FromExported(e ExportedNote) (Note, error) {
	amount, err := strconv.ParseUint(e.Amount, 10, 64)
	if err != nil {
		return Note{}, fmt.Errorf("note: parsing amount %q: %w", e.Amount, err)
	}
	blinding, err := field.HexToField(e.Blinding)
	if err != nil {
		return Note{}, fmt.Errorf("note: parsing blinding: %w", err)
	}
	ownerPub, err := field.HexToField(e.OwnerNotePubkey)
	if err != nil {
		return Note{}, fmt.Errorf("note: parsing owner_note_pubkey: %w", err)
	}
	n := Note{
		Amount:          amount,
		Blinding:        blinding,
		OwnerNotePubkey: ownerPub,
		Spent:           e.Spent,
		IsReceived:      e.IsReceived,
		CreatedAtLedger: e.CreatedAtLedger,
		OwnerAddress:    e.OwnerAddress,
	}
	if e.LeafIndex != nil {
		n.HasLeafIndex = true
		n.LeafIndex = *e.LeafIndex
	}
	if e.SpentAtLedger != nil {
		n.SpentAtLedger = *e.SpentAtLedger
	}
	if got := field.FieldToHex(n.Commitment()); got != e.ID {
		return Note{}, fmt.Errorf("note: id %q does not match recomputed commitment %q", e.ID, got)
	}
	return n, nil
}

// Import parses an ExportDocument back into Notes, rejecting the whole
// document on the first malformed entry rather than importing a partial,
// possibly-inconsistent set.
func Import(doc ExportDocument) ([]Note, error) {
	if doc.Version != 1 {
		return nil, fmt.Errorf("note: unsupported export version %d", doc.Version)
	}
	out := make([]Note, len(doc.Notes))
	for i, e := range doc.Notes {
		n, err := FromExported(e)
		if err != nil {
			return nil, fmt.Errorf("note: importing entry %d (%s): %w", i, e.ID, err)
		}
		out[i] = n
	}
	return out, nil
}
