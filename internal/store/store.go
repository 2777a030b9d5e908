// Package store declares the persisted-store interfaces named in spec §6
// (stable names for cross-implementation interop): retention_config,
// sync_metadata, pool_leaves, pool_nullifiers, pool_encrypted_outputs,
// approved_leaves, registered_public_keys, user_notes. The persistent
// key/value database itself is an external collaborator (spec §1); this
// package only defines the typed, context-aware contracts the core
// depends on, mirroring m1zr-ccoin's TreeStore/NullifierStore split
// (internal/zkp/merkle.go, internal/zkp/nullifier.go) generalized to every
// store the pool needs.
package store

import (
	"context"
	"time"

	"github.com/shieldedpool/client/pkg/field"
)

// TreeStore backs one merkletree.Tree instance (pool_leaves / approved_leaves).
// Defined again here (rather than imported from internal/merkletree) so
// this package has no dependency on merkletree; the method sets are
// identical by construction and any merkletree.Store satisfies this too.
type TreeStore interface {
	GetNode(ctx context.Context, level uint32, index uint64) (field.Element, bool, error)
	SetNode(ctx context.Context, level uint32, index uint64, value field.Element) error
	GetNextIndex(ctx context.Context) (uint64, error)
	SetNextIndex(ctx context.Context, next uint64) error
}

// NullifierInfo records when and where a nullifier was observed.
type NullifierInfo struct {
	Nullifier field.Element
	Ledger    uint64
	SeenAt    time.Time
}

// NullifierStore backs pool_nullifiers (keyed by nullifier).
type NullifierStore interface {
	HasNullifier(ctx context.Context, nullifier field.Element) (bool, error)
	MarkNullifier(ctx context.Context, info NullifierInfo) error
	GetNullifierInfo(ctx context.Context, nullifier field.Element) (*NullifierInfo, bool, error)
}

// EncryptedOutputRecord backs pool_encrypted_outputs (keyed by commitment;
// secondary index by_ledger).
type EncryptedOutputRecord struct {
	Commitment field.Element
	Envelope   [112]byte
	Ledger     uint64
	LeafIndex  uint32
}

// EncryptedOutputStore backs pool_encrypted_outputs.
type EncryptedOutputStore interface {
	Save(ctx context.Context, rec EncryptedOutputRecord) error
	GetByCommitment(ctx context.Context, commitment field.Element) (*EncryptedOutputRecord, bool, error)
	ListFromLedger(ctx context.Context, minLedger uint64) ([]EncryptedOutputRecord, error)
}

// RegisteredKey backs registered_public_keys (keyed by address).
type RegisteredKey struct {
	Owner         string
	EncryptionKey [32]byte
	NoteKey       field.Element
}

// RegisteredKeyStore backs registered_public_keys.
type RegisteredKeyStore interface {
	Save(ctx context.Context, rec RegisteredKey) error
	Get(ctx context.Context, owner string) (*RegisteredKey, bool, error)
}

// SyncCursor is per-stream sync position, see spec §3 "Sync cursor".
type SyncCursor struct {
	LastLedger   uint64
	OpaqueCursor *string
	SyncBroken   bool
}

// SyncMetadataStore backs sync_metadata (keyed by network+stream).
type SyncMetadataStore interface {
	GetCursor(ctx context.Context, network, stream string) (*SyncCursor, bool, error)
	SetCursor(ctx context.Context, network, stream string, cursor SyncCursor) error
}

// RetentionConfig is the retention-window state, see spec §3.
type RetentionConfig struct {
	WindowLedgers    uint64
	WarningThreshold uint64
	DetectedAt       time.Time
	Endpoint         string
}

// RetentionConfigStore backs retention_config (keyed by endpoint).
type RetentionConfigStore interface {
	Get(ctx context.Context, endpoint string) (*RetentionConfig, bool, error)
	Set(ctx context.Context, cfg RetentionConfig) error
}

// NoteRecord backs user_notes (keyed by lower-case commitment hex;
// secondary indices by_owner, by_spent). IsLegacy is always false in this
// implementation — see DESIGN.md Open Question OQ-1.
type NoteRecord struct {
	Commitment    field.Element
	Amount        uint64
	Blinding      field.Element
	OwnerNotePub  field.Element
	OwnerAddress  string
	LeafIndex     uint32
	Spent         bool
	SpentAtLedger uint64
	IsReceived    bool
	CreatedAt     uint64
	IsLegacy      bool
	Label         string
}

// UserNoteStore backs user_notes.
type UserNoteStore interface {
	Save(ctx context.Context, rec NoteRecord) error
	GetByCommitment(ctx context.Context, commitmentHex string) (*NoteRecord, bool, error)
	List(ctx context.Context, owner string, unspentOnly bool) ([]NoteRecord, error)
	MarkSpent(ctx context.Context, commitmentHex string, spentAtLedger uint64) error
	Delete(ctx context.Context, commitmentHex string) error
	Clear(ctx context.Context, owner string) error
}

// ApprovedLeafIndexStore backs approved_leaves' secondary by_leaf index
// (spec §6): given a leaf value, recover the index it was inserted at, so
// internal/txbuilder can locate a sender's membership witness without
// scanning the whole tree.
type ApprovedLeafIndexStore interface {
	RecordLeaf(ctx context.Context, leaf field.Element, index uint64) error
	FindIndexByLeaf(ctx context.Context, leaf field.Element) (uint64, bool, error)
}

// Stores bundles every persisted-store dependency the state manager wires
// into its subordinate components.
type Stores struct {
	PoolLeaves         TreeStore
	ApprovedLeaves     TreeStore
	ApprovedLeafIndex  ApprovedLeafIndexStore
	Nullifiers         NullifierStore
	EncryptedOutputs   EncryptedOutputStore
	RegisteredKeys     RegisteredKeyStore
	SyncMetadata       SyncMetadataStore
	RetentionConfig    RetentionConfigStore
	UserNotes          UserNoteStore
}
