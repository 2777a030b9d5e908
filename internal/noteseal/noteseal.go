// Package noteseal implements the note encryption envelope (C4): seal and
// open (amount, blinding) for a recipient using X25519 key agreement plus
// an authenticated streaming cipher. This plays the role the teacher's
// internal/zerocash crypto.go gives to EncryptNoteWithSharedKey /
// DecryptNoteWithSharedKey (a MiMC hash-chain mask over a BLS12-377
// Diffie-Hellman shared point); here the shared secret comes from X25519
// and the mask is XChaCha20-Poly1305, chosen because its 24-byte nonce
// matches the envelope layout exactly: 32 (ephemeral pub) + 24 (nonce) +
// 56 (40-byte plaintext + 16-byte tag) = 112 bytes.
package noteseal

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/shieldedpool/client/pkg/field"
)

// EnvelopeSize is the fixed wire size: eph_pub(32) || nonce(24) ||
// ciphertext(40 + 16 tag).
const EnvelopeSize = 32 + 24 + 40 + 16

// PlaintextSize is amount (8 B LE) || blinding (32 B).
const PlaintextSize = 8 + 32

// Plaintext is the sealed payload: an amount and a blinding factor.
type Plaintext struct {
	Amount   uint64
	Blinding field.Element
}

func (p Plaintext) bytes() [PlaintextSize]byte {
	var out [PlaintextSize]byte
	amt := field.Uint64LEBytes(p.Amount)
	copy(out[0:8], amt[:])
	bl := field.FieldToLEBytes(p.Blinding)
	copy(out[8:40], bl[:])
	return out
}

func plaintextFromBytes(b []byte) (Plaintext, error) {
	if len(b) != PlaintextSize {
		return Plaintext{}, fmt.Errorf("noteseal: plaintext length %d != %d", len(b), PlaintextSize)
	}
	amount := uint64(0)
	for i := 7; i >= 0; i-- {
		amount = amount<<8 | uint64(b[i])
	}
	bl, err := field.LEBytesToField(b[8:40])
	if err != nil {
		return Plaintext{}, fmt.Errorf("noteseal: blinding field element: %w", err)
	}
	return Plaintext{Amount: amount, Blinding: bl}, nil
}

// Envelope is the fixed 112-byte sealed record.
type Envelope [EnvelopeSize]byte

// Encrypt seals plaintext to recipientPK (a 32-byte X25519 public key)
// using a freshly generated ephemeral keypair and a fresh random 24-byte
// nonce. The ephemeral public key is included in the envelope so the
// recipient can recompute the shared secret.
func Encrypt(recipientPK [32]byte, pt Plaintext) (Envelope, error) {
	var env Envelope

	var ephSK [32]byte
	if _, err := rand.Read(ephSK[:]); err != nil {
		return env, fmt.Errorf("noteseal: generating ephemeral key: %w", err)
	}
	ephPK, err := curve25519.X25519(ephSK[:], curve25519.Basepoint)
	if err != nil {
		return env, fmt.Errorf("noteseal: ephemeral base-point mult: %w", err)
	}
	shared, err := curve25519.X25519(ephSK[:], recipientPK[:])
	if err != nil {
		return env, fmt.Errorf("noteseal: shared secret: %w", err)
	}

	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return env, fmt.Errorf("noteseal: constructing AEAD: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return env, fmt.Errorf("noteseal: generating nonce: %w", err)
	}

	plain := pt.bytes()
	ciphertext := aead.Seal(nil, nonce[:], plain[:], nil)

	copy(env[0:32], ephPK)
	copy(env[32:56], nonce[:])
	copy(env[56:], ciphertext)
	return env, nil
}

// Decrypt attempts to open env with ourSK (a 32-byte X25519 secret key).
// Returns (plaintext, true) on success and (zero, false) on any
// authentication or length failure — this dual return, rather than an
// error, is deliberate: scanning uses failure to mean "not addressed to
// me", and the caller must not be able to distinguish that from a garbled
// envelope by timing or error text.
func Decrypt(ourSK [32]byte, env Envelope) (Plaintext, bool) {
	ephPK := env[0:32]
	nonce := env[32:56]
	ciphertext := env[56:]

	shared, err := curve25519.X25519(ourSK[:], ephPK)
	if err != nil {
		return Plaintext{}, false
	}
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return Plaintext{}, false
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Plaintext{}, false
	}
	pt, err := plaintextFromBytes(plain)
	if err != nil {
		return Plaintext{}, false
	}
	return pt, true
}

// MarshalBinary implements encoding.BinaryMarshaler for wire transport.
func (e Envelope) MarshalBinary() ([]byte, error) {
	out := make([]byte, EnvelopeSize)
	copy(out, e[:])
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *Envelope) UnmarshalBinary(b []byte) error {
	if len(b) != EnvelopeSize {
		return fmt.Errorf("noteseal: envelope length %d != %d", len(b), EnvelopeSize)
	}
	copy(e[:], b)
	return nil
}
