package notestore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/shieldedpool/client/internal/noteseal"
	"github.com/shieldedpool/client/internal/store"
	"github.com/shieldedpool/client/internal/store/memstore"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/poseidon"
)

func TestScanForReceivedDiscoversOwnedNote(t *testing.T) {
	ctx := context.Background()
	notes := memstore.NewUserNoteStore()
	outputs := memstore.NewEncryptedOutputStore()
	nullifiers := memstore.NewNullifierStore()
	s := New(notes, outputs, nullifiers, zerolog.Nop())

	notePub := field.U64ToField(55)
	var sk [32]byte
	for i := range sk {
		sk[i] = byte(i + 1)
	}
	pk := derivePublic(t, sk)

	pt := noteseal.Plaintext{Amount: 1000, Blinding: field.U64ToField(7)}
	env, err := noteseal.Encrypt(pk, pt)
	require.NoError(t, err)

	commitment := poseidon.Hash3(field.U64ToField(pt.Amount), notePub, pt.Blinding, poseidon.DomainCommitment)
	require.NoError(t, outputs.Save(ctx, store.EncryptedOutputRecord{
		Commitment: commitment,
		Envelope:   env,
		Ledger:     10,
		LeafIndex:  2,
	}))

	discovered, err := s.ScanForReceived(ctx, []ScanEncryptionKey{{
		OwnerAddress: "GABC",
		SecretKey:    sk,
		NotePubkey:   notePub,
	}})
	require.NoError(t, err)
	require.Len(t, discovered, 1)
	require.Equal(t, uint64(1000), discovered[0].Amount)

	rec, ok, err := notes.GetByCommitment(ctx, field.FieldToHex(commitment))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "GABC", rec.OwnerAddress)
}

func TestScanForReceivedRejectsZeroAmount(t *testing.T) {
	ctx := context.Background()
	notes := memstore.NewUserNoteStore()
	outputs := memstore.NewEncryptedOutputStore()
	nullifiers := memstore.NewNullifierStore()
	s := New(notes, outputs, nullifiers, zerolog.Nop())

	notePub := field.U64ToField(1)
	var sk [32]byte
	sk[0] = 9
	pk := derivePublic(t, sk)

	pt := noteseal.Plaintext{Amount: 0, Blinding: field.U64ToField(1)}
	env, err := noteseal.Encrypt(pk, pt)
	require.NoError(t, err)
	commitment := poseidon.Hash3(field.U64ToField(0), notePub, pt.Blinding, poseidon.DomainCommitment)
	require.NoError(t, outputs.Save(ctx, store.EncryptedOutputRecord{Commitment: commitment, Envelope: env, Ledger: 1}))

	discovered, err := s.ScanForReceived(ctx, []ScanEncryptionKey{{SecretKey: sk, NotePubkey: notePub}})
	require.NoError(t, err)
	require.Empty(t, discovered)
}

func derivePublic(t *testing.T, sk [32]byte) [32]byte {
	t.Helper()
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	require.NoError(t, err)
	var out [32]byte
	copy(out[:], pub)
	return out
}
