// Package rpcnode declares the remote node client contract (spec §1, §6):
// latest_ledger, get_events, get_ledger_entries, simulate_transaction,
// submit_transaction. The remote node itself is an external collaborator;
// this package defines only the interface plus the wire-protocol value
// types both httpclient and fakenode exchange.
package rpcnode

import "context"

// EventKind tags the four topics the pool consumes, per spec §9's
// polymorphism note (EventKind is a closed tagged union, not a place for
// runtime dynamic dispatch).
type EventKind string

const (
	EventNewCommitment EventKind = "NewCommitment"
	EventNewNullifier  EventKind = "NewNullifier"
	EventLeafAdded     EventKind = "LeafAdded"
	EventPublicKey     EventKind = "PublicKeyEvent"
)

// Event is one paged event, opaque-cursor based.
type Event struct {
	Ledger uint64
	Kind   EventKind

	// NewCommitment
	Index            uint32
	EncryptedOutput  []byte

	// NewNullifier
	Nullifier [32]byte

	// LeafAdded
	Leaf []byte
	Root []byte

	// PublicKeyEvent
	Owner         string
	EncryptionKey [32]byte
	NoteKey       []byte
}

// Page is one page of events plus the opaque cursor to resume from.
type Page struct {
	Events     []Event
	NextCursor string
	HasMore    bool
}

// PageRequest parameterizes GetEvents.
type PageRequest struct {
	StartLedger uint64
	Cursor      string // empty means "start fresh from StartLedger"
	PageSize    int
	Stream      string // "pool" | "asp"
}

// FindKeyResult is the view-call result of simulating find_key(U256)
// against the blocked-set SMT contract.
type FindKeyResult struct {
	Found         bool
	Siblings      [][]byte
	NotFoundKey   []byte
	NotFoundValue []byte
	IsOld0        bool
	Root          []byte
}

// SubmitRequest is the submit-ready payload assembled by internal/txbuilder.
type SubmitRequest struct {
	Proof                  []byte
	Root                   []byte
	InputNullifiers        [][]byte
	OutputCommitment0      []byte
	OutputCommitment1      []byte
	PublicAmount           []byte
	ExtDataHash            [32]byte
	ASPMembershipRoot      []byte
	ASPNonMembershipRoot   []byte
	Recipient              string
	ExtAmount              []byte
	EncryptedOutput0       []byte
	EncryptedOutput1       []byte
}

// SubmitResult is the on-chain outcome of a submitted transaction.
type SubmitResult struct {
	Successful bool
	Ledger     uint64
	TxHash     string
	Message    string
}

// NodeClient is the remote node contract the core consumes.
type NodeClient interface {
	LatestLedger(ctx context.Context) (uint64, error)
	GetEvents(ctx context.Context, req PageRequest) (Page, error)
	GetLedgerEntry(ctx context.Context, key string) ([]byte, bool, error)
	SimulateFindKey(ctx context.Context, key []byte) (FindKeyResult, error)
	SubmitTransaction(ctx context.Context, req SubmitRequest) (SubmitResult, error)
}
