package keys

import (
	"context"
	"errors"
	"testing"

	"github.com/shieldedpool/client/internal/poolerr"
)

type stubSigner struct {
	sig []byte
	err error
}

func (s stubSigner) SignMessage(ctx context.Context, message string) ([]byte, error) {
	return s.sig, s.err
}
func (s stubSigner) SignTransaction(ctx context.Context, xdr []byte) ([]byte, error) { return nil, nil }
func (s stubSigner) SignAuthEntry(ctx context.Context, xdr []byte) ([]byte, error)    { return nil, nil }
func (s stubSigner) Network(ctx context.Context) (string, error)                     { return "testnet", nil }

func TestDeriveEncryptionKeypairDeterministic(t *testing.T) {
	var sig [64]byte
	for i := range sig {
		sig[i] = byte(i)
	}
	kp1, err := DeriveEncryptionKeypairFromSig(sig)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	kp2, err := DeriveEncryptionKeypairFromSig(sig)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if kp1.PublicKey != kp2.PublicKey || kp1.SecretKey != kp2.SecretKey {
		t.Errorf("derivation is not deterministic")
	}
}

func TestDeriveNotePrivateDeterministic(t *testing.T) {
	var sig [64]byte
	for i := range sig {
		sig[i] = byte(255 - i)
	}
	kp1, err := DeriveNotePrivateFromSig(sig)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	kp2, err := DeriveNotePrivateFromSig(sig)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !kp1.Private.Equal(&kp2.Private) || !kp1.Public.Equal(&kp2.Public) {
		t.Errorf("note keypair derivation is not deterministic")
	}
}

func TestRequireSignatureUserRejected(t *testing.T) {
	s := stubSigner{sig: nil}
	_, err := DeriveEncryptionKeypair(context.Background(), s)
	if !poolerr.Is(err, poolerr.UserRejected) {
		t.Errorf("expected UserRejected, got %v", err)
	}
}

func TestRequireSignatureWrongLength(t *testing.T) {
	s := stubSigner{sig: make([]byte, 10)}
	_, err := DeriveEncryptionKeypair(context.Background(), s)
	if !poolerr.Is(err, poolerr.InvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestRequireSignatureSignerError(t *testing.T) {
	s := stubSigner{err: errors.New("boom")}
	_, err := DeriveEncryptionKeypair(context.Background(), s)
	if !poolerr.Is(err, poolerr.UserRejected) {
		t.Errorf("expected UserRejected wrapping signer error, got %v", err)
	}
}
