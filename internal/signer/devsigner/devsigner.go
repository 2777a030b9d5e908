// Package devsigner implements signer.Signer against a local ed25519
// keyfile, for cmd/poolctl's standalone/offline use. The wallet signer
// itself is out of scope (spec §1: "satisfied by whatever wallet
// integration the host application provides") — this is a stand-in a host
// application would never ship, grounded on the teacher's own practice of
// keeping all key material in a local process, never a remote signer.
package devsigner

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/shieldedpool/client/internal/poolerr"
)

// Signer signs with a local ed25519 private key.
type Signer struct {
	network string
	priv    ed25519.PrivateKey
}

// Load reads a 64-byte raw ed25519 private key from path, generating and
// persisting a fresh one if the file does not exist.
func Load(path, network string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		_, priv, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return nil, fmt.Errorf("devsigner: generating key: %w", genErr)
		}
		if writeErr := os.WriteFile(path, priv, 0o600); writeErr != nil {
			return nil, fmt.Errorf("devsigner: persisting key: %w", writeErr)
		}
		return &Signer{network: network, priv: priv}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("devsigner: reading %s: %w", path, err)
	}
	if len(data) != ed25519.PrivateKeySize {
		return nil, poolerr.New(poolerr.InvalidInput, "devsigner: key file %s has wrong length %d", path, len(data))
	}
	return &Signer{network: network, priv: ed25519.PrivateKey(data)}, nil
}

func (s *Signer) SignMessage(_ context.Context, message string) ([]byte, error) {
	return ed25519.Sign(s.priv, []byte(message)), nil
}

func (s *Signer) SignTransaction(_ context.Context, transactionXDR []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, transactionXDR), nil
}

func (s *Signer) SignAuthEntry(_ context.Context, authEntryXDR []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, authEntryXDR), nil
}

func (s *Signer) Network(_ context.Context) (string, error) {
	return s.network, nil
}
