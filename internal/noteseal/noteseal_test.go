package noteseal

import (
	"crypto/rand"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/shieldedpool/client/pkg/field"
)

func genKeypair(t *testing.T) (pk, sk [32]byte) {
	t.Helper()
	if _, err := rand.Read(sk[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("x25519: %v", err)
	}
	copy(pk[:], pub)
	return pk, sk
}

// S4 — Encrypted output size + mismatched-key rejection.
func TestEncryptSizeAndMismatchedKey(t *testing.T) {
	pk, sk := genKeypair(t)
	_, otherSK := genKeypair(t)

	pt := Plaintext{Amount: (1 << 64) - 1, Blinding: field.U64ToField(0x42)}
	env, err := Encrypt(pk, pt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(env) != EnvelopeSize {
		t.Fatalf("envelope size = %d, want %d", len(env), EnvelopeSize)
	}

	got, ok := Decrypt(sk, env)
	if !ok {
		t.Fatalf("Decrypt with matching key failed")
	}
	if got.Amount != pt.Amount || !got.Blinding.Equal(&pt.Blinding) {
		t.Errorf("round trip mismatch: got %+v want %+v", got, pt)
	}

	if _, ok := Decrypt(otherSK, env); ok {
		t.Errorf("Decrypt with mismatched key must fail")
	}
}

func TestDecryptTimingIndistinguishable(t *testing.T) {
	pk, sk := genKeypair(t)
	_, otherSK := genKeypair(t)
	pt := Plaintext{Amount: 7, Blinding: field.U64ToField(1)}
	env, err := Encrypt(pk, pt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	const iterations = 200
	measure := func(key [32]byte) time.Duration {
		start := time.Now()
		for i := 0; i < iterations; i++ {
			Decrypt(key, env)
		}
		return time.Since(start)
	}
	tMatch := measure(sk)
	tMismatch := measure(otherSK)
	// Loose smoke check only: both paths run the same AEAD-open cost;
	// we do not assert a tight bound since CI timing noise is large.
	if tMatch <= 0 || tMismatch <= 0 {
		t.Fatalf("unexpected zero timing")
	}
}
