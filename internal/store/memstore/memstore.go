// Package memstore implements every store.* interface in memory, guarded
// by sync.RWMutex. It mirrors m1zr-ccoin's InMemoryTreeStore and
// InMemoryNullifierStore (internal/zkp/merkle.go, internal/zkp/nullifier.go)
// generalized to every store interface this pool needs. It is a legitimate
// small-deployment default, not just a test double — the teacher's own
// Ledger/Wallet persistence is likewise process-local.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/shieldedpool/client/internal/store"
	"github.com/shieldedpool/client/pkg/field"
)

type nodeKey struct {
	level uint32
	index uint64
}

// TreeStore is an in-memory store.TreeStore.
type TreeStore struct {
	mu        sync.RWMutex
	nodes     map[nodeKey]field.Element
	nextIndex uint64
}

// NewTreeStore returns an empty in-memory tree store.
func NewTreeStore() *TreeStore {
	return &TreeStore{nodes: make(map[nodeKey]field.Element)}
}

func (s *TreeStore) GetNode(_ context.Context, level uint32, index uint64) (field.Element, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.nodes[nodeKey{level, index}]
	return v, ok, nil
}

func (s *TreeStore) SetNode(_ context.Context, level uint32, index uint64, value field.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nodeKey{level, index}] = value
	return nil
}

func (s *TreeStore) GetNextIndex(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextIndex, nil
}

func (s *TreeStore) SetNextIndex(_ context.Context, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextIndex = next
	return nil
}

// NullifierStore is an in-memory store.NullifierStore.
type NullifierStore struct {
	mu    sync.RWMutex
	byNul map[string]store.NullifierInfo
}

func NewNullifierStore() *NullifierStore {
	return &NullifierStore{byNul: make(map[string]store.NullifierInfo)}
}

func keyOf(f field.Element) string {
	return field.FieldToHex(f)
}

func (s *NullifierStore) HasNullifier(_ context.Context, nullifier field.Element) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byNul[keyOf(nullifier)]
	return ok, nil
}

func (s *NullifierStore) MarkNullifier(_ context.Context, info store.NullifierInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byNul[keyOf(info.Nullifier)] = info
	return nil
}

func (s *NullifierStore) GetNullifierInfo(_ context.Context, nullifier field.Element) (*store.NullifierInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.byNul[keyOf(nullifier)]
	if !ok {
		return nil, false, nil
	}
	return &info, true, nil
}

// EncryptedOutputStore is an in-memory store.EncryptedOutputStore.
type EncryptedOutputStore struct {
	mu        sync.RWMutex
	byCommit  map[string]store.EncryptedOutputRecord
	byLedger  []store.EncryptedOutputRecord
}

func NewEncryptedOutputStore() *EncryptedOutputStore {
	return &EncryptedOutputStore{byCommit: make(map[string]store.EncryptedOutputRecord)}
}

func (s *EncryptedOutputStore) Save(_ context.Context, rec store.EncryptedOutputRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCommit[keyOf(rec.Commitment)] = rec
	s.byLedger = append(s.byLedger, rec)
	return nil
}

func (s *EncryptedOutputStore) GetByCommitment(_ context.Context, commitment field.Element) (*store.EncryptedOutputRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byCommit[keyOf(commitment)]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (s *EncryptedOutputStore) ListFromLedger(_ context.Context, minLedger uint64) ([]store.EncryptedOutputRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.EncryptedOutputRecord, 0)
	for _, rec := range s.byLedger {
		if rec.Ledger >= minLedger {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RegisteredKeyStore is an in-memory store.RegisteredKeyStore.
type RegisteredKeyStore struct {
	mu   sync.RWMutex
	byOwner map[string]store.RegisteredKey
}

func NewRegisteredKeyStore() *RegisteredKeyStore {
	return &RegisteredKeyStore{byOwner: make(map[string]store.RegisteredKey)}
}

func (s *RegisteredKeyStore) Save(_ context.Context, rec store.RegisteredKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOwner[rec.Owner] = rec
	return nil
}

func (s *RegisteredKeyStore) Get(_ context.Context, owner string) (*store.RegisteredKey, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byOwner[owner]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

// SyncMetadataStore is an in-memory store.SyncMetadataStore.
type SyncMetadataStore struct {
	mu      sync.RWMutex
	cursors map[string]store.SyncCursor
}

func NewSyncMetadataStore() *SyncMetadataStore {
	return &SyncMetadataStore{cursors: make(map[string]store.SyncCursor)}
}

func cursorKey(network, stream string) string { return network + "/" + stream }

func (s *SyncMetadataStore) GetCursor(_ context.Context, network, stream string) (*store.SyncCursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[cursorKey(network, stream)]
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

func (s *SyncMetadataStore) SetCursor(_ context.Context, network, stream string, cursor store.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[cursorKey(network, stream)] = cursor
	return nil
}

// RetentionConfigStore is an in-memory store.RetentionConfigStore.
type RetentionConfigStore struct {
	mu   sync.RWMutex
	byEP map[string]store.RetentionConfig
}

func NewRetentionConfigStore() *RetentionConfigStore {
	return &RetentionConfigStore{byEP: make(map[string]store.RetentionConfig)}
}

func (s *RetentionConfigStore) Get(_ context.Context, endpoint string) (*store.RetentionConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byEP[endpoint]
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

func (s *RetentionConfigStore) Set(_ context.Context, cfg store.RetentionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEP[cfg.Endpoint] = cfg
	return nil
}

// UserNoteStore is an in-memory store.UserNoteStore.
type UserNoteStore struct {
	mu      sync.RWMutex
	byHex   map[string]store.NoteRecord
}

func NewUserNoteStore() *UserNoteStore {
	return &UserNoteStore{byHex: make(map[string]store.NoteRecord)}
}

func (s *UserNoteStore) Save(_ context.Context, rec store.NoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHex[strings.ToLower(field.FieldToHex(rec.Commitment))] = rec
	return nil
}

func (s *UserNoteStore) GetByCommitment(_ context.Context, commitmentHex string) (*store.NoteRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byHex[strings.ToLower(commitmentHex)]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (s *UserNoteStore) List(_ context.Context, owner string, unspentOnly bool) ([]store.NoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.NoteRecord, 0)
	for _, rec := range s.byHex {
		if owner != "" && rec.OwnerAddress != owner {
			continue
		}
		if unspentOnly && rec.Spent {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *UserNoteStore) MarkSpent(_ context.Context, commitmentHex string, spentAtLedger uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(commitmentHex)
	rec, ok := s.byHex[key]
	if !ok {
		return nil
	}
	rec.Spent = true
	rec.SpentAtLedger = spentAtLedger
	s.byHex[key] = rec
	return nil
}

func (s *UserNoteStore) Delete(_ context.Context, commitmentHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byHex, strings.ToLower(commitmentHex))
	return nil
}

func (s *UserNoteStore) Clear(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range s.byHex {
		if owner == "" || rec.OwnerAddress == owner {
			delete(s.byHex, k)
		}
	}
	return nil
}

// ApprovedLeafIndexStore is an in-memory store.ApprovedLeafIndexStore.
type ApprovedLeafIndexStore struct {
	mu      sync.RWMutex
	byLeaf  map[string]uint64
}

func NewApprovedLeafIndexStore() *ApprovedLeafIndexStore {
	return &ApprovedLeafIndexStore{byLeaf: make(map[string]uint64)}
}

func (s *ApprovedLeafIndexStore) RecordLeaf(_ context.Context, leaf field.Element, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byLeaf[keyOf(leaf)] = index
	return nil
}

func (s *ApprovedLeafIndexStore) FindIndexByLeaf(_ context.Context, leaf field.Element) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byLeaf[keyOf(leaf)]
	return idx, ok, nil
}

// NewStores bundles one of every in-memory store into a store.Stores.
func NewStores() store.Stores {
	return store.Stores{
		PoolLeaves:        NewTreeStore(),
		ApprovedLeaves:    NewTreeStore(),
		ApprovedLeafIndex: NewApprovedLeafIndexStore(),
		Nullifiers:        NewNullifierStore(),
		EncryptedOutputs:  NewEncryptedOutputStore(),
		RegisteredKeys:    NewRegisteredKeyStore(),
		SyncMetadata:      NewSyncMetadataStore(),
		RetentionConfig:   NewRetentionConfigStore(),
		UserNotes:         NewUserNoteStore(),
	}
}
