// Package notestore implements the note store / scanner (C8): persists the
// user's notes, decrypts observed encrypted outputs, and marks notes spent
// on nullifier observation. It is grounded on the teacher's
// internal/zerocash/api.go Wallet (AddNote/MarkNoteAsSpent/
// GetUnspentNotes/CheckNoteStatusAgainstLedger) for the save/list/
// mark-spent shape, generalized from the teacher's JSON-file-backed wallet
// to the pluggable store.UserNoteStore interface, and on m1zr-ccoin's
// nullifier.go for the "check cache/store, mark spent" pattern.
package notestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shieldedpool/client/internal/noteseal"
	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/store"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/note"
	"github.com/shieldedpool/client/pkg/poseidon"
)

// Store glues the user-note persistence with the lower-level encrypted
// output and nullifier stores it scans.
type Store struct {
	Notes            store.UserNoteStore
	EncryptedOutputs store.EncryptedOutputStore
	Nullifiers       store.NullifierStore
	Log              zerolog.Logger

	lastScannedLedger uint64
}

// New constructs a Store.
func New(notes store.UserNoteStore, outputs store.EncryptedOutputStore, nullifiers store.NullifierStore, log zerolog.Logger) *Store {
	return &Store{Notes: notes, EncryptedOutputs: outputs, Nullifiers: nullifiers, Log: log}
}

// Save persists a note, rejecting plaintexts the spec forbids at this
// boundary: a zero amount (dummy) must never be saved as an owned note.
func (s *Store) Save(ctx context.Context, rec store.NoteRecord) error {
	if rec.Amount == 0 {
		return poolerr.New(poolerr.InvalidInput, "refusing to save a zero-amount (dummy) note")
	}
	return s.Notes.Save(ctx, rec)
}

// GetByCommitment looks up a note by its lower-case 0x-hex commitment.
func (s *Store) GetByCommitment(ctx context.Context, commitmentHex string) (*store.NoteRecord, bool, error) {
	return s.Notes.GetByCommitment(ctx, commitmentHex)
}

// List returns an owner's notes, optionally filtered to unspent only.
func (s *Store) List(ctx context.Context, owner string, unspentOnly bool) ([]store.NoteRecord, error) {
	return s.Notes.List(ctx, owner, unspentOnly)
}

// MarkSpent marks a note spent at the given ledger.
func (s *Store) MarkSpent(ctx context.Context, commitmentHex string, ledger uint64) error {
	return s.Notes.MarkSpent(ctx, commitmentHex, ledger)
}

// Delete removes a note.
func (s *Store) Delete(ctx context.Context, commitmentHex string) error {
	return s.Notes.Delete(ctx, commitmentHex)
}

// Clear removes every note for owner (or every note if owner is empty).
func (s *Store) Clear(ctx context.Context, owner string) error {
	return s.Notes.Clear(ctx, owner)
}

// ScanResult summarizes one scan pass.
type ScanResult struct {
	Discovered int
	MarkedSpent int
}

// ScanEncryptionKey pairs an owner address with the secret needed to
// attempt decryption of observed encrypted outputs.
type ScanEncryptionKey struct {
	OwnerAddress string
	SecretKey    [32]byte
	NotePubkey   field.Element
}

// ScanForReceived iterates encrypted outputs with ledger >= last-scanned,
// attempting decrypt with each cached encryption secret. On success it
// recomputes the expected commitment and compares (case-insensitive hex)
// against the event-supplied commitment; a match with a non-zero amount is
// saved as a received note and emitted via the returned discovered list.
func (s *Store) ScanForReceived(ctx context.Context, keys []ScanEncryptionKey) ([]store.NoteRecord, error) {
	outputs, err := s.EncryptedOutputs.ListFromLedger(ctx, s.lastScannedLedger)
	if err != nil {
		return nil, fmt.Errorf("notestore: listing encrypted outputs: %w", err)
	}

	var discovered []store.NoteRecord
	maxLedger := s.lastScannedLedger
	for _, out := range outputs {
		if out.Ledger > maxLedger {
			maxLedger = out.Ledger
		}
		for _, k := range keys {
			pt, ok := noteseal.Decrypt(k.SecretKey, out.Envelope)
			if !ok {
				continue
			}
			if pt.Amount == 0 {
				continue // reject dummies
			}
			expected := poseidon.Hash3(field.U64ToField(pt.Amount), k.NotePubkey, pt.Blinding, poseidon.DomainCommitment)
			if !strings.EqualFold(field.FieldToHex(expected), field.FieldToHex(out.Commitment)) {
				continue
			}
			rec := store.NoteRecord{
				Commitment:   out.Commitment,
				Amount:       pt.Amount,
				Blinding:     pt.Blinding,
				OwnerNotePub: k.NotePubkey,
				OwnerAddress: k.OwnerAddress,
				LeafIndex:    out.LeafIndex,
				IsReceived:   true,
				CreatedAt:    out.Ledger,
			}
			if err := s.Save(ctx, rec); err != nil {
				return nil, fmt.Errorf("notestore: saving discovered note: %w", err)
			}
			discovered = append(discovered, rec)
			s.Log.Info().Str("commitment", field.FieldToHex(out.Commitment)).Msg("note_discovered")
			break
		}
	}
	s.lastScannedLedger = maxLedger
	return discovered, nil
}

// ScanForSpent computes each unspent note's nullifier and checks it
// against the nullifier store, marking matches spent.
func (s *Store) ScanForSpent(ctx context.Context, owner string, priv field.Element) ([]store.NoteRecord, error) {
	unspent, err := s.Notes.List(ctx, owner, true)
	if err != nil {
		return nil, fmt.Errorf("notestore: listing unspent notes: %w", err)
	}
	var spent []store.NoteRecord
	for _, rec := range unspent {
		n := note.Note{
			Amount:          rec.Amount,
			Blinding:        rec.Blinding,
			OwnerNotePubkey: rec.OwnerNotePub,
			LeafIndex:       rec.LeafIndex,
		}
		nullifier, err := note.DeriveNullifier(priv, n)
		if err != nil {
			return nil, err
		}
		info, found, err := s.Nullifiers.GetNullifierInfo(ctx, nullifier)
		if err != nil {
			return nil, fmt.Errorf("notestore: checking nullifier: %w", err)
		}
		if !found {
			continue
		}
		commitHex := field.FieldToHex(rec.Commitment)
		if err := s.Notes.MarkSpent(ctx, commitHex, info.Ledger); err != nil {
			return nil, fmt.Errorf("notestore: marking spent: %w", err)
		}
		rec.Spent = true
		rec.SpentAtLedger = info.Ledger
		spent = append(spent, rec)
		s.Log.Info().Str("commitment", commitHex).Msg("note_spent")
	}
	return spent, nil
}

// Export lists owner's notes (all, spent and unspent) and marshals them
// into the versioned export document (spec §4.9/§6).
func (s *Store) Export(ctx context.Context, owner string, now time.Time) (note.ExportDocument, error) {
	recs, err := s.Notes.List(ctx, owner, false)
	if err != nil {
		return note.ExportDocument{}, fmt.Errorf("notestore: listing notes for export: %w", err)
	}
	notes := make([]note.Note, len(recs))
	for i, rec := range recs {
		notes[i] = note.Note{
			Amount:          rec.Amount,
			Blinding:        rec.Blinding,
			OwnerNotePubkey: rec.OwnerNotePub,
			LeafIndex:       rec.LeafIndex,
			HasLeafIndex:    true,
			Spent:           rec.Spent,
			SpentAtLedger:   rec.SpentAtLedger,
			IsReceived:      rec.IsReceived,
			CreatedAtLedger: rec.CreatedAt,
			OwnerAddress:    rec.OwnerAddress,
		}
	}
	return note.Export(notes, now), nil
}

// Import parses doc and saves every entry, skipping (not erroring on) notes
// already present by commitment so re-importing the same file is harmless.
func (s *Store) Import(ctx context.Context, doc note.ExportDocument) (int, error) {
	notes, err := note.Import(doc)
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, n := range notes {
		commitHex := field.FieldToHex(n.Commitment())
		if _, ok, err := s.Notes.GetByCommitment(ctx, commitHex); err == nil && ok {
			continue
		}
		rec := store.NoteRecord{
			Commitment:    n.Commitment(),
			Amount:        n.Amount,
			Blinding:      n.Blinding,
			OwnerNotePub:  n.OwnerNotePubkey,
			OwnerAddress:  n.OwnerAddress,
			LeafIndex:     n.LeafIndex,
			Spent:         n.Spent,
			SpentAtLedger: n.SpentAtLedger,
			IsReceived:    n.IsReceived,
			CreatedAt:     n.CreatedAtLedger,
		}
		if n.Amount == 0 {
			continue // reject dummies, same rule as Save
		}
		if err := s.Notes.Save(ctx, rec); err != nil {
			return imported, fmt.Errorf("notestore: importing %s: %w", commitHex, err)
		}
		imported++
	}
	return imported, nil
}
