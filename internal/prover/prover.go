// Package prover implements the prover façade (C10): Setup/Prove/Verify
// against a loaded constraint.ConstraintSystem + Groth16 keys, exposed as
// plain synchronous methods (InitModules, LoadKeys, InitWitness,
// CheckCache, ClearCache, GetCircuitInfo, GetVerifyingKey, Prove, Verify,
// DerivePublicKey, ComputeCommitment, Ping). Grounded on the teacher's
// internal/zerocash/tx.go (CreateTx/VerifyTx: frontend.NewWitness +
// groth16.Prove/Verify, WriteTo/ReadFrom proof (de)serialization,
// SetupOrLoadKeys), generalized from BW6-761 to BN254. Every call runs on
// the caller's goroutine: there is no separate worker, no request/response
// channel, no InitProver message and no progress reporting. At most one
// proof is in flight at a time, enforced by
// golang.org/x/sync/semaphore.Weighted(1).
package prover

import (
	"bytes"
	"context"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/prover/circuit"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/poseidon"
)

// Curve is the scalar field the whole pool (and this façade) operates over.
const Curve = ecc.BN254

// Inputs is the flat, named-field witness record built by internal/txbuilder
// (spec §4.10 step 7): everything the reference circuit's Tx struct needs,
// in plain Go types rather than frontend.Variable.
type Inputs struct {
	Root                 field.Element
	ASPMembershipRoot    field.Element
	ASPNonMembershipRoot field.Element
	PublicAmount         field.Element
	ExtDataHash          field.Element

	Inputs  [2]InputWitness
	Outputs [2]OutputWitness
}

// InputWitness is one spend-note slot's private witness data.
type InputWitness struct {
	Amount       uint64
	Blinding     field.Element
	PrivKey      field.Element
	Commitment   field.Element
	Nullifier    field.Element
	PathElements [circuit.PoolDepth]field.Element
	PathIndices  [circuit.PoolDepth]bool

	ASPPathElements [circuit.ApprovedDepth]field.Element
	ASPPathIndices  [circuit.ApprovedDepth]bool
	ASPBlinding     field.Element

	SMTSiblings      [circuit.SMTDepth]field.Element
	SMTNotFoundKey   field.Element
	SMTNotFoundValue field.Element
	SMTIsOld0        bool
}

// OutputWitness is one output-note slot's witness data.
type OutputWitness struct {
	Amount     uint64
	Blinding   field.Element
	PubKey     field.Element
	Commitment field.Element
}

// CircuitInfo is the GetCircuitInfo response (spec §4.7).
type CircuitInfo struct {
	NumConstraints  int
	NumPublicInputs int
	NumSecretInputs int
	Curve           string
}

// Prover hosts the constraint system and keys, serializing proof requests
// onto a single worker via a weight-1 semaphore.
type Prover struct {
	Log zerolog.Logger

	mu  semaphore.Weighted
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// New constructs an uninitialized Prover; call InitModules (or Setup) before
// Prove/Verify.
func New(log zerolog.Logger) *Prover {
	return &Prover{Log: log, mu: *semaphore.NewWeighted(1)}
}

// InitModules compiles the reference circuit and performs a trusted
// (insecure, dev-only) Groth16 setup. Production deployments instead load
// pk/vk bytes fetched through internal/artifacts via LoadKeys.
func (p *Prover) InitModules(ctx context.Context) error {
	if err := p.mu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.mu.Release(1)

	var c circuit.Tx
	ccs, err := frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, &c)
	if err != nil {
		return poolerr.Wrap(poolerr.WorkerFailure, err, "compiling reference circuit")
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return poolerr.Wrap(poolerr.WorkerFailure, err, "groth16 setup")
	}
	p.ccs, p.pk, p.vk = ccs, pk, vk
	return nil
}

// LoadKeys installs a proving/verifying key pair fetched out-of-band (e.g.
// via internal/artifacts), bypassing InitModules' dev setup. It always
// recompiles the reference circuit locally rather than deserializing an
// opaque constraint system from the artifact: the production circuit_binary
// artifact is consumed by the witness generator, not by this façade (spec
// §1's Non-goal on reproducing the production circuit), so pk/vk fetched
// for the reference circuit must pair with a freshly compiled ccs.
func (p *Prover) LoadKeys(ctx context.Context, pkBytes, vkBytes []byte) error {
	if err := p.mu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.mu.Release(1)

	var c circuit.Tx
	ccs, err := frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, &c)
	if err != nil {
		return poolerr.Wrap(poolerr.WorkerFailure, err, "compiling reference circuit")
	}
	pk := groth16.NewProvingKey(Curve)
	if _, err := pk.ReadFrom(bytes.NewReader(pkBytes)); err != nil {
		return poolerr.Wrap(poolerr.ArtifactDownloadFailed, err, "decoding proving key")
	}
	vk := groth16.NewVerifyingKey(Curve)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return poolerr.Wrap(poolerr.ArtifactDownloadFailed, err, "decoding verifying key")
	}
	p.ccs, p.pk, p.vk = ccs, pk, vk
	return nil
}

// InitWitness answers spec §4.7's InitWitness message: Prove builds the
// full witness inline from Inputs, so this only checks readiness, letting
// callers that mirror the spec's InitModules -> InitWitness -> Prove
// message sequence do so without a behavior change.
func (p *Prover) InitWitness(_ context.Context, _ Inputs) error {
	if !p.CheckCache() {
		return poolerr.New(poolerr.ProverUninitialized, "call InitModules or LoadKeys first")
	}
	return nil
}

// CheckCache reports whether the façade is initialized (spec §4.7's
// CheckCache message, narrowed to "do we already have keys loaded").
func (p *Prover) CheckCache() bool {
	return p.ccs != nil && p.pk != nil && p.vk != nil
}

// ClearCache drops the loaded circuit/keys, forcing the next operation to
// re-initialize.
func (p *Prover) ClearCache() {
	p.ccs, p.pk, p.vk = nil, nil, nil
}

// GetCircuitInfo returns static circuit metadata (spec §4.7).
func (p *Prover) GetCircuitInfo() (CircuitInfo, error) {
	if !p.CheckCache() {
		return CircuitInfo{}, poolerr.New(poolerr.ProverUninitialized, "call InitModules or LoadKeys first")
	}
	return CircuitInfo{
		NumConstraints:  p.ccs.GetNbConstraints(),
		NumPublicInputs: p.ccs.GetNbPublicVariables(),
		NumSecretInputs: p.ccs.GetNbSecretVariables(),
		Curve:           Curve.String(),
	}, nil
}

// GetVerifyingKey serializes the loaded verifying key.
func (p *Prover) GetVerifyingKey() ([]byte, error) {
	if !p.CheckCache() {
		return nil, poolerr.New(poolerr.ProverUninitialized, "call InitModules or LoadKeys first")
	}
	var buf bytes.Buffer
	if _, err := p.vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("prover: serializing verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

func toCircuitAssignment(in Inputs) *circuit.Tx {
	assign := &circuit.Tx{
		Root:                 in.Root,
		ASPMembershipRoot:    in.ASPMembershipRoot,
		ASPNonMembershipRoot: in.ASPNonMembershipRoot,
		PublicAmount:         in.PublicAmount,
		ExtDataHash:          in.ExtDataHash,
	}
	for i, slot := range in.Inputs {
		s := circuit.InputSlot{
			Amount:           field.U64ToField(slot.Amount),
			Blinding:         slot.Blinding,
			PrivKey:          slot.PrivKey,
			Commitment:       slot.Commitment,
			Nullifier:        slot.Nullifier,
			ASPBlinding:      slot.ASPBlinding,
			SMTNotFoundKey:   slot.SMTNotFoundKey,
			SMTNotFoundValue: slot.SMTNotFoundValue,
			SMTIsOld0:        boolToVar(slot.SMTIsOld0),
		}
		for lvl := 0; lvl < circuit.PoolDepth; lvl++ {
			s.PathElements[lvl] = slot.PathElements[lvl]
			s.PathIndices[lvl] = boolToVar(slot.PathIndices[lvl])
		}
		for lvl := 0; lvl < circuit.ApprovedDepth; lvl++ {
			s.ASPPathElements[lvl] = slot.ASPPathElements[lvl]
			s.ASPPathIndices[lvl] = boolToVar(slot.ASPPathIndices[lvl])
		}
		for lvl := 0; lvl < circuit.SMTDepth; lvl++ {
			s.SMTSiblings[lvl] = slot.SMTSiblings[lvl]
		}
		assign.Inputs[i] = s
	}
	for i, slot := range in.Outputs {
		assign.Outputs[i] = circuit.OutputSlot{
			Amount:     field.U64ToField(slot.Amount),
			Blinding:   slot.Blinding,
			PubKey:     slot.PubKey,
			Commitment: slot.Commitment,
		}
	}
	return assign
}

func boolToVar(b bool) frontend.Variable {
	if b {
		return 1
	}
	return 0
}

// Prove builds the full witness and produces a Groth16 proof plus its
// extracted public inputs (spec §4.7's prove/extract_public_inputs pair).
func (p *Prover) Prove(ctx context.Context, in Inputs) (proof []byte, publicInputs []byte, err error) {
	if err := p.mu.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer p.mu.Release(1)

	if !p.CheckCache() {
		return nil, nil, poolerr.New(poolerr.ProverUninitialized, "call InitModules or LoadKeys first")
	}

	assignment := toCircuitAssignment(in)
	w, err := frontend.NewWitness(assignment, Curve.ScalarField())
	if err != nil {
		return nil, nil, poolerr.Wrap(poolerr.WorkerFailure, err, "building witness")
	}

	proofObj, err := groth16.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, nil, poolerr.Wrap(poolerr.WorkerFailure, err, "groth16 prove")
	}

	var proofBuf bytes.Buffer
	if _, err := proofObj.WriteTo(&proofBuf); err != nil {
		return nil, nil, fmt.Errorf("prover: serializing proof: %w", err)
	}

	return proofBuf.Bytes(), extractPublicInputs(in), nil
}

// publicElements lists this circuit's public inputs in exactly the order
// gnark assigns them (struct declaration order, recursing into arrays):
// Root, ASPMembershipRoot, ASPNonMembershipRoot, PublicAmount, ExtDataHash,
// then each input slot's {Commitment, Nullifier}, then each output slot's
// Commitment.
func publicElements(in Inputs) []field.Element {
	out := []field.Element{in.Root, in.ASPMembershipRoot, in.ASPNonMembershipRoot, in.PublicAmount, in.ExtDataHash}
	for _, slot := range in.Inputs {
		out = append(out, slot.Commitment, slot.Nullifier)
	}
	for _, slot := range in.Outputs {
		out = append(out, slot.Commitment)
	}
	return out
}

// extractPublicInputs concatenates the public inputs as 32-byte
// little-endian field elements, per spec §4.7.
func extractPublicInputs(in Inputs) []byte {
	elems := publicElements(in)
	out := make([]byte, 0, 32*len(elems))
	for _, e := range elems {
		le := field.FieldToLEBytes(e)
		out = append(out, le[:]...)
	}
	return out
}

// Verify checks proof against publicInputsBytes (32-byte-LE-concatenated
// field elements) and the loaded verifying key.
func (p *Prover) Verify(ctx context.Context, proofBytes, publicInputsBytes []byte) (bool, error) {
	if err := p.mu.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.mu.Release(1)

	if !p.CheckCache() {
		return false, poolerr.New(poolerr.ProverUninitialized, "call InitModules or LoadKeys first")
	}

	proofObj := groth16.NewProof(Curve)
	if _, err := proofObj.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, poolerr.Wrap(poolerr.InvalidInput, err, "decoding proof")
	}

	const numPublic = 11 // 5 scalars + 2*(commitment,nullifier) + 2 output commitments
	if len(publicInputsBytes) != numPublic*32 {
		return false, poolerr.New(poolerr.InvalidInput, "public inputs length %d, want %d", len(publicInputsBytes), numPublic*32)
	}
	elems := make([]field.Element, numPublic)
	for i := range elems {
		f, err := field.LEBytesToField(publicInputsBytes[i*32 : (i+1)*32])
		if err != nil {
			return false, poolerr.Wrap(poolerr.InvalidInput, err, "decoding public input %d", i)
		}
		elems[i] = f
	}

	// Reconstruct a public-only assignment, in the same struct-declaration
	// order publicElements uses to flatten it, mirroring the teacher's
	// VerifyTx (rebuild the witness struct, then PublicOnly()).
	assignment := &circuit.Tx{
		Root:                 elems[0],
		ASPMembershipRoot:    elems[1],
		ASPNonMembershipRoot: elems[2],
		PublicAmount:         elems[3],
		ExtDataHash:          elems[4],
	}
	assignment.Inputs[0].Commitment, assignment.Inputs[0].Nullifier = elems[5], elems[6]
	assignment.Inputs[1].Commitment, assignment.Inputs[1].Nullifier = elems[7], elems[8]
	assignment.Outputs[0].Commitment = elems[9]
	assignment.Outputs[1].Commitment = elems[10]

	pubWitness, err := frontend.NewWitness(assignment, Curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("prover: constructing public witness: %w", err)
	}

	if err := groth16.Verify(proofObj, p.vk, pubWitness); err != nil {
		return false, nil // an invalid proof is a negative result, not an error
	}
	return true, nil
}

// DerivePublicKey is the worker message exposing note-pubkey derivation
// without a full proof cycle (spec §4.7); it simply re-exports pkg/poseidon.
func DerivePublicKey(priv field.Element) field.Element {
	return poseidon.NotePubkey(priv)
}

// ComputeCommitment is the worker message exposing commitment computation
// without a full proof cycle.
func ComputeCommitment(amount uint64, ownerNotePubkey, blinding field.Element) field.Element {
	return poseidon.Hash3(field.U64ToField(amount), ownerNotePubkey, blinding, poseidon.DomainCommitment)
}

// Ping answers the façade liveness check message (spec §4.7).
func (p *Prover) Ping() bool { return true }
