package circuit

import (
	"context"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/shieldedpool/client/internal/merkletree"
	"github.com/shieldedpool/client/internal/store/memstore"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/poseidon"
)

var _ frontend.Circuit = (*Tx)(nil)

func TestDepthConstantsArePositive(t *testing.T) {
	if PoolDepth <= 0 {
		t.Fatalf("PoolDepth must be positive, got %d", PoolDepth)
	}
	if ApprovedDepth <= 0 {
		t.Fatalf("ApprovedDepth must be positive, got %d", ApprovedDepth)
	}
	if SMTDepth <= 0 {
		t.Fatalf("SMTDepth must be positive, got %d", SMTDepth)
	}
}

func TestTxSlotCounts(t *testing.T) {
	var c Tx
	if len(c.Inputs) != 2 {
		t.Fatalf("want 2 input slots, got %d", len(c.Inputs))
	}
	if len(c.Outputs) != 2 {
		t.Fatalf("want 2 output slots, got %d", len(c.Outputs))
	}
}

func bVar(b bool) frontend.Variable {
	if b {
		return 1
	}
	return 0
}

// dummySlot builds an amount-zero input slot: a valid commitment/nullifier
// (the circuit asserts these unconditionally) with an all-zero, unused
// tree-membership witness (isDummy exempts those assertions). Every
// frontend.Variable field is filled explicitly — the zero value of an
// unset interface field is nil, not a field element, and gnark rejects a
// nil assignment.
func dummySlot() InputSlot {
	zero := field.U64ToField(0)
	notePubkey := poseidon.NotePubkey(zero)
	commitment := poseidon.Hash3(zero, notePubkey, zero, poseidon.DomainCommitment)
	sig := poseidon.Hash3(zero, commitment, zero, poseidon.DomainSpendSignature)
	nullifier := poseidon.Hash3(commitment, zero, sig, poseidon.DomainNullifier)
	slot := InputSlot{
		Amount:           field.U64ToField(0),
		Blinding:         zero,
		PrivKey:          zero,
		Commitment:       commitment,
		Nullifier:        nullifier,
		ASPBlinding:      zero,
		SMTNotFoundKey:   zero,
		SMTNotFoundValue: zero,
		SMTIsOld0:        bVar(true),
	}
	for lvl := 0; lvl < PoolDepth; lvl++ {
		slot.PathElements[lvl] = zero
		slot.PathIndices[lvl] = bVar(false)
	}
	for lvl := 0; lvl < ApprovedDepth; lvl++ {
		slot.ASPPathElements[lvl] = zero
		slot.ASPPathIndices[lvl] = bVar(false)
	}
	for lvl := 0; lvl < SMTDepth; lvl++ {
		slot.SMTSiblings[lvl] = zero
	}
	return slot
}

// TestTxRoundTripWithRealMembershipWitness compiles the reference circuit,
// runs a real Groth16 Setup/Prove/Verify against a witness built entirely
// through the production path (pkg/poseidon for every hash, internal/
// merkletree for the pool and approved-tree inclusion paths, an
// empty-branch SMT witness hashed up to a non-zero root so the
// non-membership check is enforced), and checks the proof verifies. One input slot carries a
// real amount and real membership paths (isDummy=false), so this exercises
// every AssertIsEqual in Define — unlike the prover package's dummy-witness
// round trip, which only pins the commitment/nullifier checks.
func TestTxRoundTripWithRealMembershipWitness(t *testing.T) {
	ctx := context.Background()

	poolTree, err := merkletree.New(ctx, PoolDepth, field.Element{}, memstore.NewTreeStore())
	if err != nil {
		t.Fatalf("pool tree: %v", err)
	}
	approvedTree, err := merkletree.New(ctx, ApprovedDepth, field.Element{}, memstore.NewTreeStore())
	if err != nil {
		t.Fatalf("approved tree: %v", err)
	}

	zero := field.U64ToField(0)
	priv := field.U64ToField(99)
	notePubkey := poseidon.NotePubkey(priv)
	blinding := field.U64ToField(7)
	amount := uint64(50)

	commitment := poseidon.Hash3(field.U64ToField(amount), notePubkey, blinding, poseidon.DomainCommitment)
	leafIdx, err := poolTree.Insert(ctx, commitment)
	if err != nil {
		t.Fatalf("inserting leaf: %v", err)
	}
	poolProof, err := poolTree.GetProof(ctx, leafIdx)
	if err != nil {
		t.Fatalf("pool proof: %v", err)
	}

	aspBlinding := field.U64ToField(11)
	aspLeaf := poseidon.Hash2(notePubkey, aspBlinding, poseidon.DomainCommitment)
	aspIdx, err := approvedTree.Insert(ctx, aspLeaf)
	if err != nil {
		t.Fatalf("inserting asp leaf: %v", err)
	}
	aspProof, err := approvedTree.GetProof(ctx, aspIdx)
	if err != nil {
		t.Fatalf("asp proof: %v", err)
	}

	sig := poseidon.Hash3(priv, commitment, zero, poseidon.DomainSpendSignature)
	nullifier := poseidon.Hash3(commitment, zero, sig, poseidon.DomainNullifier)

	// Empty SMT non-membership witness: is_old_0 with all-zero siblings,
	// matching internal/smt.Client's empty-tree shortcut.
	smtSiblings := [SMTDepth]field.Element{}
	smtCur := zero
	for lvl := 0; lvl < SMTDepth; lvl++ {
		smtCur = poseidon.Hash2(smtCur, smtSiblings[lvl], poseidon.DomainCommitment)
	}

	real := InputSlot{
		Amount:           field.U64ToField(amount),
		Blinding:         blinding,
		PrivKey:          priv,
		Commitment:       commitment,
		Nullifier:        nullifier,
		ASPBlinding:      aspBlinding,
		SMTNotFoundKey:   zero,
		SMTNotFoundValue: zero,
		SMTIsOld0:        bVar(true),
	}
	for lvl := 0; lvl < PoolDepth; lvl++ {
		real.PathElements[lvl] = poolProof.PathElements[lvl]
		real.PathIndices[lvl] = bVar(poolProof.PathIndices[lvl])
	}
	for lvl := 0; lvl < ApprovedDepth; lvl++ {
		real.ASPPathElements[lvl] = aspProof.PathElements[lvl]
		real.ASPPathIndices[lvl] = bVar(aspProof.PathIndices[lvl])
	}
	for lvl := 0; lvl < SMTDepth; lvl++ {
		real.SMTSiblings[lvl] = smtSiblings[lvl]
	}

	outCommitment := poseidon.Hash3(field.U64ToField(amount), notePubkey, blinding, poseidon.DomainCommitment)
	realOut := OutputSlot{Amount: field.U64ToField(amount), Blinding: blinding, PubKey: notePubkey, Commitment: outCommitment}
	dummyOutCommitment := poseidon.Hash3(zero, zero, zero, poseidon.DomainCommitment)
	dummyOut := OutputSlot{Amount: field.U64ToField(0), Blinding: zero, PubKey: zero, Commitment: dummyOutCommitment}

	assignment := &Tx{
		Root:                 poolTree.Root(),
		ASPMembershipRoot:    approvedTree.Root(),
		ASPNonMembershipRoot: smtCur,
		PublicAmount:         zero,
		ExtDataHash:          zero,
		Inputs:               [2]InputSlot{real, dummySlot()},
		Outputs:              [2]OutputSlot{realOut, dummyOut},
	}

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &Tx{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		t.Fatalf("witness: %v", err)
	}
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	pubW, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		t.Fatalf("public witness: %v", err)
	}
	if err := groth16.Verify(proof, vk, pubW); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
