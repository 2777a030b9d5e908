package txbuilder

import (
	"context"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shieldedpool/client/internal/merkletree"
	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/prover"
	"github.com/shieldedpool/client/internal/rpcnode/fakenode"
	"github.com/shieldedpool/client/internal/smt"
	"github.com/shieldedpool/client/internal/store/memstore"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/note"
)

func newTestBuilder(t *testing.T) (*Builder, *prover.Prover) {
	t.Helper()
	ctx := context.Background()

	poolTree, err := merkletree.New(ctx, 20, field.Element{}, memstore.NewTreeStore())
	require.NoError(t, err)
	approvedTree, err := merkletree.New(ctx, 20, field.Element{}, memstore.NewTreeStore())
	require.NoError(t, err)

	node := fakenode.New()
	smtClient := smt.New(node, 20)

	p := prover.New(zerolog.Nop())
	require.NoError(t, p.InitModules(ctx))

	b := New(zerolog.Nop(), poolTree, approvedTree, nil, smtClient, p)
	return b, p
}

func selfKeys() (field.Element, [32]byte) {
	return field.U64ToField(42), [32]byte{1, 2, 3}
}

func TestDepositBuildsVerifiableProof(t *testing.T) {
	ctx := context.Background()
	b, p := newTestBuilder(t)
	priv, encKey := selfKeys()
	notePubkey := prover.DerivePublicKey(priv)

	result, err := b.Deposit(ctx, DepositRequest{
		SpendPrivateKey:       priv,
		SenderASPBlinding:     field.U64ToField(7),
		AmountIn:              100,
		SelfNotePubkey:        notePubkey,
		SelfEncryptionKey:     encKey,
		Recipient:             "depositor",
		AllowLocalASPFallback: true,
	})
	require.NoError(t, err)
	require.Len(t, result.PublicInputs, 11*32)
	require.NotEmpty(t, result.ProofWire)

	ok, err := p.Verify(ctx, result.ProofWire, result.PublicInputs)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, result.Submit.Recipient, "depositor")
	require.Len(t, result.Submit.EncryptedOutput0, 112)
	require.Len(t, result.Submit.EncryptedOutput1, 112)
}

func TestWithdrawSpendsRealNoteAndProducesChange(t *testing.T) {
	ctx := context.Background()
	b, p := newTestBuilder(t)
	priv, encKey := selfKeys()
	notePubkey := prover.DerivePublicKey(priv)

	spendNote := noteWithAmount(t, b, priv, notePubkey, 100)

	result, err := b.Withdraw(ctx, WithdrawRequest{
		SpendPrivateKey:       priv,
		SenderASPBlinding:     field.U64ToField(7),
		Spends:                [2]*SpendNote{spendNote, nil},
		AmountOut:             40,
		ChangeAmount:          60,
		SelfNotePubkey:        notePubkey,
		SelfEncryptionKey:     encKey,
		Recipient:             "withdrawer",
		AllowLocalASPFallback: true,
	})
	require.NoError(t, err)

	ok, err := p.Verify(ctx, result.ProofWire, result.PublicInputs)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBuildRejectsUnbalancedTransaction(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBuilder(t)
	priv, encKey := selfKeys()
	notePubkey := prover.DerivePublicKey(priv)

	_, err := b.Build(ctx, Request{
		SpendPrivateKey:   priv,
		SenderASPBlinding: field.U64ToField(7),
		Outputs: [2]*OutputSpec{{
			Amount:                 100,
			RecipientNotePubkey:    notePubkey,
			RecipientEncryptionKey: encKey,
		}, nil},
		SelfNotePubkey:        notePubkey,
		SelfEncryptionKey:     encKey,
		Recipient:             "depositor",
		ExtAmount:             big.NewInt(1), // should be 100 to balance
		AllowLocalASPFallback: true,
	})
	require.Error(t, err)
	require.True(t, poolerr.Is(err, poolerr.Unbalanced))
}

func TestBuildRejectsMissingASPWitnessWithoutFallback(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBuilder(t)
	priv, encKey := selfKeys()
	notePubkey := prover.DerivePublicKey(priv)

	_, err := b.Deposit(ctx, DepositRequest{
		SpendPrivateKey:       priv,
		SenderASPBlinding:     field.U64ToField(7),
		AmountIn:              10,
		SelfNotePubkey:        notePubkey,
		SelfEncryptionKey:     encKey,
		Recipient:             "depositor",
		AllowLocalASPFallback: false,
	})
	require.Error(t, err)
	require.True(t, poolerr.Is(err, poolerr.RootDivergence))
}

// noteWithAmount deposits amount into the pool tree directly (bypassing
// Build) so Withdraw/Transfer tests have a real, provable spend note.
func noteWithAmount(t *testing.T, b *Builder, priv, notePubkey field.Element, amount uint64) *SpendNote {
	t.Helper()
	ctx := context.Background()

	blinding := field.U64ToField(99)
	commitment := prover.ComputeCommitment(amount, notePubkey, blinding)
	idx, err := b.PoolTree.Insert(ctx, commitment)
	require.NoError(t, err)
	proof, err := b.PoolTree.GetProof(ctx, idx)
	require.NoError(t, err)

	return &SpendNote{
		Note: note.Note{Amount: amount, Blinding: blinding, OwnerNotePubkey: notePubkey, LeafIndex: uint32(idx), HasLeafIndex: true},
		Proof: merkletree.Proof{
			PathElements: proof.PathElements,
			PathIndices:  proof.PathIndices,
		},
	}
}
