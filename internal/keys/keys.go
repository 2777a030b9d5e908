// Package keys derives the two process-lifetime keypairs the pool needs
// from wallet-produced signatures: an X25519 keypair for note encryption
// and a BN254 note keypair for spending. This generalizes the teacher's
// internal/zerocash DH-keypair generation (crypto.go's GenerateDHKeyPair,
// built on a random BLS12-377 scalar) to deterministic derivation from a
// signed, domain-separated message instead of randomness.
package keys

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/curve25519"

	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/signer"
	"github.com/shieldedpool/client/pkg/poseidon"
)

// Domain-separating fixed messages. Literal strings, must not change —
// changing them silently re-derives different keys for every user.
const (
	EncryptionSignMessage = "Sign to access Privacy Pool [v1]"
	SpendingSignMessage   = "Privacy Pool Spending Key [v1]"
)

// EncryptionKeypair is the X25519 keypair used by internal/noteseal.
type EncryptionKeypair struct {
	PublicKey [32]byte
	SecretKey [32]byte
}

// NoteKeypair is the BN254 keypair used to sign/spend notes.
type NoteKeypair struct {
	Private fr.Element
	Public  fr.Element // note_pubkey(Private)
}

// requireSignature prompts s for message and validates the 64-byte
// contract, returning poolerr.UserRejected / poolerr.InvalidInput on
// failure.
func requireSignature(ctx context.Context, s signer.Signer, message string) ([64]byte, error) {
	var out [64]byte
	sig, err := s.SignMessage(ctx, message)
	if err != nil {
		return out, poolerr.Wrap(poolerr.UserRejected, err, "signer returned an error")
	}
	if len(sig) == 0 {
		return out, poolerr.New(poolerr.UserRejected, "signer returned no signature")
	}
	if len(sig) != 64 {
		return out, poolerr.New(poolerr.InvalidInput, "signature length %d != 64", len(sig))
	}
	copy(out[:], sig)
	return out, nil
}

// DeriveEncryptionKeypair asks s to sign the fixed encryption message and
// derives sk = clamp(sha256(sig)), pk = sk*B per X25519.
func DeriveEncryptionKeypair(ctx context.Context, s signer.Signer) (EncryptionKeypair, error) {
	sig, err := requireSignature(ctx, s, EncryptionSignMessage)
	if err != nil {
		return EncryptionKeypair{}, err
	}
	return DeriveEncryptionKeypairFromSig(sig)
}

// DeriveEncryptionKeypairFromSig is the pure derivation step, split out so
// tests can exercise it without a Signer.
func DeriveEncryptionKeypairFromSig(sig [64]byte) (EncryptionKeypair, error) {
	sk := sha256.Sum256(sig[:])
	pk, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return EncryptionKeypair{}, fmt.Errorf("keys: x25519 base-point multiplication: %w", err)
	}
	var kp EncryptionKeypair
	kp.SecretKey = sk
	copy(kp.PublicKey[:], pk)
	return kp, nil
}

// DeriveNotePrivate asks s to sign the fixed spending message and reduces
// sha256(sig) mod p, re-sampling by appending a counter byte on the
// (astronomically unlikely) zero case.
func DeriveNotePrivate(ctx context.Context, s signer.Signer) (NoteKeypair, error) {
	sig, err := requireSignature(ctx, s, SpendingSignMessage)
	if err != nil {
		return NoteKeypair{}, err
	}
	return DeriveNotePrivateFromSig(sig)
}

// DeriveNotePrivateFromSig is the pure derivation step.
func DeriveNotePrivateFromSig(sig [64]byte) (NoteKeypair, error) {
	priv := reduceWithResample(sig[:])
	return NoteKeypair{
		Private: priv,
		Public:  poseidon.NotePubkey(priv),
	}, nil
}

func reduceWithResample(seed []byte) fr.Element {
	var counter byte
	for {
		h := sha256.New()
		h.Write(seed)
		if counter > 0 {
			h.Write([]byte{counter})
		}
		digest := h.Sum(nil)
		var e fr.Element
		e.SetBytes(digest) // SetBytes reduces mod p
		if !e.IsZero() {
			return e
		}
		counter++
	}
}
