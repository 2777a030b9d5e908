// Package txbuilder implements the transaction builder (C11): it turns a
// caller's spend/output intent into a proved, submit-ready transaction.
// Grounded on the teacher's internal/zerocash/tx.go CreateTx (11-step
// assemble-witness-then-prove algorithm: compute serial number, derive
// randomness, build commitment, construct the circuit assignment, prove,
// serialize) generalized from its single fixed old/new note pair to the
// spec's two-input/two-output slot layout with membership and
// non-membership witnesses added (spec §4.10).
package txbuilder

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/shieldedpool/client/internal/merkletree"
	"github.com/shieldedpool/client/internal/noteseal"
	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/prover"
	"github.com/shieldedpool/client/internal/prover/circuit"
	"github.com/shieldedpool/client/internal/rpcnode"
	"github.com/shieldedpool/client/internal/smt"
	"github.com/shieldedpool/client/internal/store"
	"github.com/shieldedpool/client/internal/store/memstore"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/note"
	"github.com/shieldedpool/client/pkg/poseidon"
)

// SpendNote is one real input the builder consumes: a note the caller owns
// plus its current pool-tree inclusion proof (spec §4.10 step 1).
type SpendNote struct {
	Note  note.Note
	Proof merkletree.Proof
}

// OutputSpec is one real output the builder produces (spec §4.10 step 2).
type OutputSpec struct {
	Amount                 uint64
	RecipientNotePubkey    field.Element
	RecipientEncryptionKey [32]byte
}

// Request is the builder's input for the general two-in/two-out shape;
// Deposit/Withdraw/Transfer below assemble one of these for their
// respective conventions.
type Request struct {
	// SpendPrivateKey is the spending key shared by every real input slot
	// (and the identity checked against the approved/blocked sets).
	SpendPrivateKey field.Element

	// Spends holds up to two real notes to spend; a nil entry becomes a
	// dummy (amount=0) slot.
	Spends [2]*SpendNote

	// Outputs holds up to two real outputs to create; a nil entry becomes
	// a padding dummy sealed to SelfEncryptionKey.
	Outputs [2]*OutputSpec

	// SenderASPBlinding is the blinding used when this sender's leaf was
	// inserted into the approved-set tree. Required whenever the sender
	// has already been approved (every transaction type, including
	// deposit: the depositor must itself be an approved, unblocked
	// identity).
	SenderASPBlinding field.Element

	// SelfNotePubkey/SelfEncryptionKey seal unused output slots to the
	// caller's own keys so every output slot is still a valid envelope
	// (spec §4.10 step 2), even when its amount is 0.
	SelfNotePubkey    field.Element
	SelfEncryptionKey [32]byte

	// Recipient and ExtAmount feed ext-data (spec §4.2/§4.10 step 3).
	// ExtAmount is signed: positive for deposit, negative for withdraw,
	// zero for transfer.
	Recipient string
	ExtAmount *big.Int

	// AllowLocalASPFallback permits the builder to fall back to a local,
	// single-leaf ASP tree when the sender's leaf isn't found in the
	// synced tree (a testing/bootstrap path; spec §4.10 step 4).
	AllowLocalASPFallback bool
}

// Result is everything the caller needs to submit the proved transaction
// and to update local state (spec §4.10 step 8).
type Result struct {
	ProofWire    []byte
	PublicInputs []byte
	Submit       rpcnode.SubmitRequest

	// OutputCommitments/Nullifiers let the caller record its own new notes
	// and spent inputs without recomputing them.
	OutputCommitments [2]field.Element
	InputNullifiers   [2]field.Element

	BuildDuration time.Duration
	ProveDuration time.Duration
}

// Builder wires together the pool tree, the approved-set tree and its
// by-leaf index, the blocked-set SMT client, and the prover façade.
type Builder struct {
	Log zerolog.Logger

	PoolTree          *merkletree.Tree
	ApprovedTree      *merkletree.Tree
	ApprovedLeafIndex store.ApprovedLeafIndexStore // optional; nil forces the local fallback path
	SMT               *smt.Client
	Prover            *prover.Prover
}

// New constructs a Builder from its component dependencies.
func New(log zerolog.Logger, poolTree, approvedTree *merkletree.Tree, leafIndex store.ApprovedLeafIndexStore, smtClient *smt.Client, p *prover.Prover) *Builder {
	return &Builder{
		Log:               log,
		PoolTree:          poolTree,
		ApprovedTree:      approvedTree,
		ApprovedLeafIndex: leafIndex,
		SMT:               smtClient,
		Prover:            p,
	}
}

// Build runs the full 8-step algorithm of spec §4.10 and returns a
// submit-ready transaction.
func (b *Builder) Build(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	notePubkey := poseidon.NotePubkey(req.SpendPrivateKey)

	// Step 4: approved-set membership witness, keyed by this sender's
	// note pubkey, shared by every input slot (dummy slots skip the
	// check in-circuit, but the same witness is reused for them too).
	aspPathElements, aspPathIndices, aspRoot, err := b.approvedWitness(ctx, notePubkey, req.SenderASPBlinding, req.AllowLocalASPFallback)
	if err != nil {
		return Result{}, err
	}

	// Step 5: blocked-set non-membership witness for the same identity.
	// KeyExists here is a hard gate propagated straight through.
	smtWitness, trimmed, err := b.SMT.ProveNonMembership(ctx, notePubkey)
	if err != nil {
		return Result{}, err
	}
	if trimmed {
		b.Log.Warn().Msg("txbuilder: blocked-set sibling vector trimmed to configured SMT depth")
	}

	// Step 1: input slots.
	var inputSlots [2]prover.InputWitness
	var inputNullifiers [2]field.Element
	for i, spend := range req.Spends {
		slot, nullifier, err := b.buildInputSlot(req.SpendPrivateKey, notePubkey, spend, aspPathElements, aspPathIndices, req.SenderASPBlinding, smtWitness)
		if err != nil {
			return Result{}, err
		}
		inputSlots[i] = slot
		inputNullifiers[i] = nullifier
	}

	// Step 2: output slots.
	var outputSlots [2]prover.OutputWitness
	var outputCommitments [2]field.Element
	var envelopes [2]noteseal.Envelope
	for i, out := range req.Outputs {
		slot, commitment, env, err := b.buildOutputSlot(out, req.SelfNotePubkey, req.SelfEncryptionKey)
		if err != nil {
			return Result{}, err
		}
		outputSlots[i] = slot
		outputCommitments[i] = commitment
		envelopes[i] = env
	}

	// Step 3: ext-data assembly and hash.
	ext := poseidon.ExtData{
		EncryptedOutput0: envelopes[0][:],
		EncryptedOutput1: envelopes[1][:],
		ExtAmount:        req.ExtAmount,
		Recipient:        req.Recipient,
	}
	extHashField, extHashBE, err := poseidon.ExtDataHash(ext)
	if err != nil {
		return Result{}, fmt.Errorf("txbuilder: hashing ext data: %w", err)
	}

	publicAmount := field.SignedToField(req.ExtAmount)

	// Step 6: off-circuit value conservation.
	if err := checkConservation(inputSlots, outputSlots, publicAmount); err != nil {
		return Result{}, err
	}

	// Step 7: call the prover façade.
	in := prover.Inputs{
		Root:                 b.PoolTree.Root(),
		ASPMembershipRoot:    aspRoot,
		ASPNonMembershipRoot: smtWitness.Root,
		PublicAmount:         publicAmount,
		ExtDataHash:          extHashField,
		Inputs:               inputSlots,
		Outputs:              outputSlots,
	}

	proveStart := time.Now()
	proof, publicInputs, err := b.Prover.Prove(ctx, in)
	if err != nil {
		return Result{}, err
	}
	proveDuration := time.Since(proveStart)

	// Step 8: assemble the submit-ready record.
	rootBE := field.FieldToBEBytes(in.Root)
	aspRootBE := field.FieldToBEBytes(in.ASPMembershipRoot)
	smtRootBE := field.FieldToBEBytes(in.ASPNonMembershipRoot)
	publicAmountBE := field.FieldToBEBytes(publicAmount)
	nullifier0BE := field.FieldToBEBytes(inputNullifiers[0])
	nullifier1BE := field.FieldToBEBytes(inputNullifiers[1])
	commitment0BE := field.FieldToBEBytes(outputCommitments[0])
	commitment1BE := field.FieldToBEBytes(outputCommitments[1])

	submit := rpcnode.SubmitRequest{
		Proof:                proof,
		Root:                 rootBE[:],
		InputNullifiers:      [][]byte{nullifier0BE[:], nullifier1BE[:]},
		OutputCommitment0:    commitment0BE[:],
		OutputCommitment1:    commitment1BE[:],
		PublicAmount:         publicAmountBE[:],
		ExtDataHash:          extHashBE,
		ASPMembershipRoot:    aspRootBE[:],
		ASPNonMembershipRoot: smtRootBE[:],
		Recipient:            req.Recipient,
		ExtAmount:            i256BEBytes(req.ExtAmount),
		EncryptedOutput0:     envelopes[0][:],
		EncryptedOutput1:     envelopes[1][:],
	}

	return Result{
		ProofWire:         proof,
		PublicInputs:      publicInputs,
		Submit:            submit,
		OutputCommitments: outputCommitments,
		InputNullifiers:   inputNullifiers,
		BuildDuration:     time.Since(start),
		ProveDuration:     proveDuration,
	}, nil
}

// buildInputSlot fills one InputSlot's witness, either from a real spend
// note or as a dummy.
func (b *Builder) buildInputSlot(
	priv, notePubkey field.Element,
	spend *SpendNote,
	aspPathElements [circuit.ApprovedDepth]field.Element,
	aspPathIndices [circuit.ApprovedDepth]bool,
	aspBlinding field.Element,
	smtWitness smt.Witness,
) (prover.InputWitness, field.Element, error) {
	slot := prover.InputWitness{
		PrivKey:          priv,
		ASPPathElements:  aspPathElements,
		ASPPathIndices:   aspPathIndices,
		ASPBlinding:      aspBlinding,
		SMTNotFoundKey:   smtWitness.NotFoundKey,
		SMTNotFoundValue: smtWitness.NotFoundValue,
		SMTIsOld0:        smtWitness.IsOld0,
	}
	for i, s := range smtWitness.Siblings {
		if i >= circuit.SMTDepth {
			break
		}
		slot.SMTSiblings[i] = s
	}

	if spend != nil {
		n := spend.Note
		if n.Amount == 0 {
			return prover.InputWitness{}, field.Element{}, poolerr.New(poolerr.InvalidInput, "spend note amount must not be 0")
		}
		if len(spend.Proof.PathElements) != circuit.PoolDepth || len(spend.Proof.PathIndices) != circuit.PoolDepth {
			return prover.InputWitness{}, field.Element{}, poolerr.New(poolerr.InvalidInput, "pool-tree proof depth mismatch")
		}
		commitment := n.Commitment()
		sig := note.Signature(priv, commitment, n.LeafIndex)
		nullifier := note.Nullifier(commitment, n.LeafIndex, sig)

		slot.Amount = n.Amount
		slot.Blinding = n.Blinding
		slot.Commitment = commitment
		slot.Nullifier = nullifier
		for i := 0; i < circuit.PoolDepth; i++ {
			slot.PathElements[i] = spend.Proof.PathElements[i]
			slot.PathIndices[i] = spend.Proof.PathIndices[i]
		}
		return slot, nullifier, nil
	}

	// Dummy: amount 0, random blinding, zero pool-tree path — the
	// circuit's isDummy gate exempts this slot from every membership
	// check, so the path value is never inspected.
	blinding, err := randomField()
	if err != nil {
		return prover.InputWitness{}, field.Element{}, err
	}
	commitment := poseidon.Hash3(field.U64ToField(0), notePubkey, blinding, poseidon.DomainCommitment)
	sig := note.Signature(priv, commitment, 0)
	nullifier := note.Nullifier(commitment, 0, sig)

	slot.Amount = 0
	slot.Blinding = blinding
	slot.Commitment = commitment
	slot.Nullifier = nullifier
	return slot, nullifier, nil
}

// buildOutputSlot fills one OutputSlot's witness and seals its envelope,
// either from a real output spec or as a self-sealed padding dummy.
func (b *Builder) buildOutputSlot(out *OutputSpec, selfNotePubkey field.Element, selfEncryptionKey [32]byte) (prover.OutputWitness, field.Element, noteseal.Envelope, error) {
	blinding, err := randomField()
	if err != nil {
		return prover.OutputWitness{}, field.Element{}, noteseal.Envelope{}, err
	}

	amount := uint64(0)
	pubKey := selfNotePubkey
	recipientEncryptionKey := selfEncryptionKey
	if out != nil {
		amount = out.Amount
		pubKey = out.RecipientNotePubkey
		recipientEncryptionKey = out.RecipientEncryptionKey
	}

	commitment := poseidon.Hash3(field.U64ToField(amount), pubKey, blinding, poseidon.DomainCommitment)
	env, err := noteseal.Encrypt(recipientEncryptionKey, noteseal.Plaintext{Amount: amount, Blinding: blinding})
	if err != nil {
		return prover.OutputWitness{}, field.Element{}, noteseal.Envelope{}, fmt.Errorf("txbuilder: sealing output envelope: %w", err)
	}

	slot := prover.OutputWitness{
		Amount:     amount,
		Blinding:   blinding,
		PubKey:     pubKey,
		Commitment: commitment,
	}
	return slot, commitment, env, nil
}

// approvedWitness locates notePubkey's leaf in the synced approved-set
// tree by hash, falling back to a local single-leaf tree (with a warning)
// when it isn't found and the fallback is allowed (spec §4.10 step 4).
func (b *Builder) approvedWitness(ctx context.Context, notePubkey, aspBlinding field.Element, allowLocalFallback bool) ([circuit.ApprovedDepth]field.Element, [circuit.ApprovedDepth]bool, field.Element, error) {
	var pathElements [circuit.ApprovedDepth]field.Element
	var pathIndices [circuit.ApprovedDepth]bool

	leaf := poseidon.Hash2(notePubkey, aspBlinding, poseidon.DomainCommitment)

	if b.ApprovedLeafIndex != nil {
		idx, ok, err := b.ApprovedLeafIndex.FindIndexByLeaf(ctx, leaf)
		if err != nil {
			return pathElements, pathIndices, field.Element{}, fmt.Errorf("txbuilder: looking up approved leaf: %w", err)
		}
		if ok {
			proof, err := b.ApprovedTree.GetProof(ctx, idx)
			if err != nil {
				return pathElements, pathIndices, field.Element{}, fmt.Errorf("txbuilder: fetching approved-set proof: %w", err)
			}
			for i := 0; i < circuit.ApprovedDepth && i < len(proof.PathElements); i++ {
				pathElements[i] = proof.PathElements[i]
				pathIndices[i] = proof.PathIndices[i]
			}
			return pathElements, pathIndices, b.ApprovedTree.Root(), nil
		}
	}

	if !allowLocalFallback {
		return pathElements, pathIndices, field.Element{}, poolerr.New(poolerr.RootDivergence, "sender not found in synced approved-set tree and local fallback not allowed")
	}

	b.Log.Warn().Msg("txbuilder: sender not found in synced approved-set tree; building a local single-leaf fallback tree")
	fallback, err := merkletree.New(ctx, circuit.ApprovedDepth, field.Element{}, memstore.NewTreeStore())
	if err != nil {
		return pathElements, pathIndices, field.Element{}, fmt.Errorf("txbuilder: building local approved-set fallback tree: %w", err)
	}
	idx, err := fallback.Insert(ctx, leaf)
	if err != nil {
		return pathElements, pathIndices, field.Element{}, fmt.Errorf("txbuilder: inserting into local fallback tree: %w", err)
	}
	proof, err := fallback.GetProof(ctx, idx)
	if err != nil {
		return pathElements, pathIndices, field.Element{}, fmt.Errorf("txbuilder: fetching local fallback proof: %w", err)
	}
	for i := 0; i < circuit.ApprovedDepth && i < len(proof.PathElements); i++ {
		pathElements[i] = proof.PathElements[i]
		pathIndices[i] = proof.PathIndices[i]
	}
	return pathElements, pathIndices, fallback.Root(), nil
}

func checkConservation(inputs [2]prover.InputWitness, outputs [2]prover.OutputWitness, publicAmount field.Element) error {
	var sumIn, sumOut field.Element
	for _, in := range inputs {
		amt := field.U64ToField(in.Amount)
		sumIn.Add(&sumIn, &amt)
	}
	for _, out := range outputs {
		amt := field.U64ToField(out.Amount)
		sumOut.Add(&sumOut, &amt)
	}
	var lhs field.Element
	lhs.Add(&sumIn, &publicAmount)
	if !lhs.Equal(&sumOut) {
		return poolerr.New(poolerr.Unbalanced, "sum(inputs) + public_amount != sum(outputs)")
	}
	return nil
}

// randomField draws 32 random bytes and reduces them onto the scalar
// field, mirroring the teacher's crypto.go randomBytes helper.
func randomField() (field.Element, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return field.Element{}, fmt.Errorf("txbuilder: generating randomness: %w", err)
	}
	var f field.Element
	f.SetBytes(buf[:])
	return f, nil
}

// i256BEBytes encodes v as a 32-byte two's-complement big-endian i256, the
// on-chain wire representation of ext_amount (distinct from its
// field-wrapped form used as the circuit's PublicAmount).
func i256BEBytes(v *big.Int) []byte {
	out := make([]byte, 32)
	if v == nil || v.Sign() >= 0 {
		if v != nil {
			v.FillBytes(out)
		}
		return out
	}
	// Two's complement: 2^256 + v.
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	wrapped := new(big.Int).Add(mod, v)
	wrapped.FillBytes(out)
	return out
}

// DepositRequest builds a deposit: no real spend notes, a single real
// output credited to the depositor's own keys (spec §4.10's deposit
// convenience constructor).
type DepositRequest struct {
	SpendPrivateKey       field.Element
	SenderASPBlinding     field.Element
	AmountIn              uint64
	SelfNotePubkey        field.Element
	SelfEncryptionKey     [32]byte
	Recipient             string
	AllowLocalASPFallback bool
}

// Deposit submits amount_in into the pool as a single new note to self;
// ext_amount = +amount_in, both input slots are dummy.
func (b *Builder) Deposit(ctx context.Context, req DepositRequest) (Result, error) {
	return b.Build(ctx, Request{
		SpendPrivateKey:   req.SpendPrivateKey,
		SenderASPBlinding: req.SenderASPBlinding,
		Outputs: [2]*OutputSpec{{
			Amount:                 req.AmountIn,
			RecipientNotePubkey:    req.SelfNotePubkey,
			RecipientEncryptionKey: req.SelfEncryptionKey,
		}, nil},
		SelfNotePubkey:        req.SelfNotePubkey,
		SelfEncryptionKey:     req.SelfEncryptionKey,
		Recipient:             req.Recipient,
		ExtAmount:             new(big.Int).SetUint64(req.AmountIn),
		AllowLocalASPFallback: req.AllowLocalASPFallback,
	})
}

// WithdrawRequest builds a withdraw: real spend notes, an external amount
// leaving the pool, and an optional change output back to self.
type WithdrawRequest struct {
	SpendPrivateKey       field.Element
	SenderASPBlinding     field.Element
	Spends                [2]*SpendNote
	AmountOut             uint64
	ChangeAmount          uint64
	SelfNotePubkey        field.Element
	SelfEncryptionKey     [32]byte
	Recipient             string
	AllowLocalASPFallback bool
}

// Withdraw spends real input notes and sends amount_out to recipient;
// ext_amount = -amount_out. A change output is included to self when
// ChangeAmount > 0, otherwise both output slots are dummy.
func (b *Builder) Withdraw(ctx context.Context, req WithdrawRequest) (Result, error) {
	var outputs [2]*OutputSpec
	if req.ChangeAmount > 0 {
		outputs[0] = &OutputSpec{
			Amount:                 req.ChangeAmount,
			RecipientNotePubkey:    req.SelfNotePubkey,
			RecipientEncryptionKey: req.SelfEncryptionKey,
		}
	}
	return b.Build(ctx, Request{
		SpendPrivateKey:       req.SpendPrivateKey,
		SenderASPBlinding:     req.SenderASPBlinding,
		Spends:                req.Spends,
		Outputs:               outputs,
		SelfNotePubkey:        req.SelfNotePubkey,
		SelfEncryptionKey:     req.SelfEncryptionKey,
		Recipient:             req.Recipient,
		ExtAmount:             new(big.Int).Neg(new(big.Int).SetUint64(req.AmountOut)),
		AllowLocalASPFallback: req.AllowLocalASPFallback,
	})
}

// TransferRequest builds an internal transfer: real spend notes moved
// entirely into one or two outputs with no external amount.
type TransferRequest struct {
	SpendPrivateKey       field.Element
	SenderASPBlinding     field.Element
	Spends                [2]*SpendNote
	Outputs               [2]*OutputSpec
	SelfNotePubkey        field.Element
	SelfEncryptionKey     [32]byte
	Recipient             string
	AllowLocalASPFallback bool
}

// Transfer spends real input notes into one or two outputs (one or both
// to the recipient's note key, any remainder as change to self);
// ext_amount = 0.
func (b *Builder) Transfer(ctx context.Context, req TransferRequest) (Result, error) {
	return b.Build(ctx, Request{
		SpendPrivateKey:       req.SpendPrivateKey,
		SenderASPBlinding:     req.SenderASPBlinding,
		Spends:                req.Spends,
		Outputs:               req.Outputs,
		SelfNotePubkey:        req.SelfNotePubkey,
		SelfEncryptionKey:     req.SelfEncryptionKey,
		Recipient:             req.Recipient,
		ExtAmount:             big.NewInt(0),
		AllowLocalASPFallback: req.AllowLocalASPFallback,
	})
}
