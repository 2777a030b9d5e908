// Package signer declares the wallet-signer contract. The signer itself is
// deliberately out of scope (spec §1): this interface is the only thing the
// core depends on, satisfied by whatever wallet integration the host
// application provides.
package signer

import "context"

// Signer exposes the three operations the core consumes from an
// authenticated wallet. Implementations are expected to prompt the user;
// a nil/empty signature return means the user rejected the prompt.
type Signer interface {
	// SignMessage returns the raw 64-byte signature over message, or an
	// empty slice if the user declined.
	SignMessage(ctx context.Context, message string) ([]byte, error)

	// SignTransaction returns a signed transaction envelope for
	// transactionXDR (opaque to the core).
	SignTransaction(ctx context.Context, transactionXDR []byte) ([]byte, error)

	// SignAuthEntry returns a signed Soroban authorization entry for
	// authEntryXDR (opaque to the core).
	SignAuthEntry(ctx context.Context, authEntryXDR []byte) ([]byte, error)

	// Network reports the network passphrase/identifier the signer is
	// currently connected to, used to detect WalletNetworkMismatch.
	Network(ctx context.Context) (string, error)
}
