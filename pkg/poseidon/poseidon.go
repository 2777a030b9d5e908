// Package poseidon implements the domain-tagged Poseidon2 hash primitives
// used throughout the pool (commitments, membership leaves, note public
// keys, nullifiers) plus the keccak-256-based external-data hash. It plays
// the role the teacher's internal/zerocash package gives to its MiMC
// hasher (crypto.go's mimcHash/prf), generalized to BN254/Poseidon2 with an
// explicit domain tag mixed into the sponge instead of ad-hoc byte
// concatenation. The native hash construction (absorb each element via a
// Merkle–Damgard sponge, then squeeze once) is grounded on
// parsdao-pars/zk/poseidon.go's own off-circuit Poseidon2Hasher, the pack's
// only other native-side twin of a poseidon2.NewHash(api) circuit gadget.
package poseidon

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
	"golang.org/x/crypto/sha3"
)

// Domain tags, fixed by the wire protocol — must never change.
const (
	DomainCommitment     = 0x01 // commitment & membership leaf
	DomainNotePublicKey  = 0x03 // note_pubkey(priv)
	DomainSpendSignature = 0x04 // sig = Poseidon2(priv, commitment, leaf_index, domain)
	DomainNullifier      = 0x05 // nullifier = Poseidon2(commitment, leaf_index, sig, domain)
)

// hashSum absorbs every element (each written as its canonical big-endian
// bytes) into a fresh Merkle–Damgard Poseidon2 sponge and squeezes one field
// element out. This is the exact native twin of the in-circuit
// std/hash/poseidon2.NewHash(api) + Write + Sum gadget the reference circuit
// uses (internal/prover/circuit.poseidonSum) — a raw fixed-width permutation
// with the domain tag stuffed into the capacity element is a *different*
// function of the same inputs and would never satisfy the circuit's
// AssertIsEqual checks.
func hashSum(inputs ...fr.Element) fr.Element {
	h := poseidon2.NewMerkleDamgardHasher()
	for _, in := range inputs {
		b := in.Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// Hash2 computes the domain-tagged 2-input Poseidon2 compression:
// Poseidon2(a, b, domain).
func Hash2(a, b fr.Element, domain uint8) fr.Element {
	return hashSum(a, b, domainElement(domain))
}

// Hash3 computes the domain-tagged 3-input Poseidon2 compression:
// Poseidon2(a, b, c, domain).
func Hash3(a, b, c fr.Element, domain uint8) fr.Element {
	return hashSum(a, b, c, domainElement(domain))
}

func domainElement(domain uint8) fr.Element {
	var d fr.Element
	d.SetUint64(uint64(domain))
	return d
}

// NotePubkey computes note_pubkey(priv) = Poseidon2(priv, 0, 0x03), the
// public identifier placed inside a commitment to name its recipient.
func NotePubkey(priv fr.Element) fr.Element {
	var zero fr.Element
	return Hash2(priv, zero, DomainNotePublicKey)
}

// ZeroLeaf returns the domain constant used as the empty-leaf value for
// both append-only trees: the ASCII bytes "XLM" read as a field element
// (spec §3's Z = Poseidon2_preimage("XLM")) — never 0 over the field, so an
// empty slot is never confusable with an actual zero-valued leaf.
func ZeroLeaf() fr.Element {
	var z fr.Element
	z.SetBytes([]byte("XLM"))
	return z
}

// ExtData is the public side of a transaction bound into a proof via
// ExtDataHash — the four fields are canonically sorted by key before
// hashing so the hash is insensitive to struct field order.
type ExtData struct {
	EncryptedOutput0 []byte   `json:"encrypted_output0"`
	EncryptedOutput1 []byte   `json:"encrypted_output1"`
	ExtAmount        *big.Int `json:"ext_amount"`
	Recipient        string   `json:"recipient"`
}

// ExtDataHash canonically serializes ext as a sorted-by-key map, hashes it
// with keccak-256, and reduces the digest mod p. The result is usable both
// as a field element (circuit public input) and, via its BE32 form, as the
// on-chain binding value.
func ExtDataHash(ext ExtData) (fr.Element, [32]byte, error) {
	canon, err := canonicalize(ext)
	if err != nil {
		var z fr.Element
		var zb [32]byte
		return z, zb, fmt.Errorf("poseidon: canonicalize ext data: %w", err)
	}
	digest := sha3.NewLegacyKeccak256()
	digest.Write(canon)
	sum := digest.Sum(nil)

	reduced := new(big.Int).Mod(new(big.Int).SetBytes(sum), fr.Modulus())
	var f fr.Element
	f.SetBigInt(reduced)

	var be32 [32]byte
	reduced.FillBytes(be32[:])
	return f, be32, nil
}

// canonicalize serializes ext as a sorted-by-key JSON object so field
// ordering in the Go struct never affects the hash. Keys are sorted
// lexicographically on their wire-protocol names.
func canonicalize(ext ExtData) ([]byte, error) {
	fields := map[string]interface{}{
		"encrypted_output0": ext.EncryptedOutput0,
		"encrypted_output1": ext.EncryptedOutput1,
		"ext_amount":        extAmountString(ext.ExtAmount),
		"recipient":         ext.Recipient,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(fields[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func extAmountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
