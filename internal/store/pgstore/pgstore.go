// Package pgstore implements every store.* interface against PostgreSQL,
// grounded directly on m1zr-ccoin's internal/storage/postgres.go: one
// pgxpool.Pool shared across schema-per-concern tables, parameterized
// queries, ON CONFLICT DO NOTHING/UPDATE idempotence, and pgx.ErrNoRows
// mapped to the store package's (nil, false, nil) not-found convention.
// It is an optional, larger-deployment alternative to memstore; nothing in
// this package is exercised unless a caller opts into it by supplying a
// connection string.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shieldedpool/client/internal/store"
	"github.com/shieldedpool/client/pkg/field"
)

// Store bundles one pgxpool.Pool behind every store.* interface, so a
// caller that opts into Postgres gets a ready store.Stores from one value.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at connString (a libpq-style DSN, e.g.
// "host=... port=5432 user=... password=... dbname=... sslmode=disable")
// and verifies the connection with a ping, mirroring the teacher's
// NewPostgresStore.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: pinging: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Schema is the DDL Initialize applies: one table per store.* interface,
// named after the spec's persisted-store names (pool_leaves,
// approved_leaves, pool_nullifiers, pool_encrypted_outputs,
// registered_public_keys, sync_metadata, retention_config, user_notes,
// approved_leaf_index).
const Schema = `
CREATE TABLE IF NOT EXISTS pool_leaves (
	level INTEGER NOT NULL,
	index BIGINT NOT NULL,
	value BYTEA NOT NULL,
	PRIMARY KEY (level, index)
);
CREATE TABLE IF NOT EXISTS pool_leaves_meta (
	id INTEGER PRIMARY KEY DEFAULT 1,
	next_index BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS approved_leaves (
	level INTEGER NOT NULL,
	index BIGINT NOT NULL,
	value BYTEA NOT NULL,
	PRIMARY KEY (level, index)
);
CREATE TABLE IF NOT EXISTS approved_leaves_meta (
	id INTEGER PRIMARY KEY DEFAULT 1,
	next_index BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS pool_nullifiers (
	nullifier BYTEA PRIMARY KEY,
	ledger BIGINT NOT NULL,
	seen_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pool_encrypted_outputs (
	commitment BYTEA PRIMARY KEY,
	envelope BYTEA NOT NULL,
	ledger BIGINT NOT NULL,
	leaf_index BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS pool_encrypted_outputs_by_ledger ON pool_encrypted_outputs (ledger);
CREATE TABLE IF NOT EXISTS registered_public_keys (
	owner TEXT PRIMARY KEY,
	encryption_key BYTEA NOT NULL,
	note_key BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_metadata (
	network TEXT NOT NULL,
	stream TEXT NOT NULL,
	last_ledger BIGINT NOT NULL,
	opaque_cursor TEXT,
	sync_broken BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (network, stream)
);
CREATE TABLE IF NOT EXISTS retention_config (
	endpoint TEXT PRIMARY KEY,
	window_ledgers BIGINT NOT NULL,
	warning_threshold BIGINT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS user_notes (
	commitment_hex TEXT PRIMARY KEY,
	commitment BYTEA NOT NULL,
	amount BIGINT NOT NULL,
	blinding BYTEA NOT NULL,
	owner_note_pub BYTEA NOT NULL,
	owner_address TEXT NOT NULL,
	leaf_index BIGINT NOT NULL,
	spent BOOLEAN NOT NULL DEFAULT FALSE,
	spent_at_ledger BIGINT NOT NULL DEFAULT 0,
	is_received BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL,
	is_legacy BOOLEAN NOT NULL DEFAULT FALSE,
	label TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS user_notes_by_owner ON user_notes (owner_address);
CREATE TABLE IF NOT EXISTS approved_leaf_index (
	leaf BYTEA PRIMARY KEY,
	leaf_index BIGINT NOT NULL
);
`

// Initialize applies Schema, creating every table this package needs if
// absent.
func (s *Store) Initialize(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("pgstore: applying schema: %w", err)
	}
	return nil
}

// Stores returns a store.Stores wired to the two tree tables (pool,
// approved) and every other interface, all backed by this pool.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		PoolLeaves:        &treeStore{pool: s.pool, leafTable: "pool_leaves", metaTable: "pool_leaves_meta"},
		ApprovedLeaves:    &treeStore{pool: s.pool, leafTable: "approved_leaves", metaTable: "approved_leaves_meta"},
		ApprovedLeafIndex: &approvedLeafIndexStore{pool: s.pool},
		Nullifiers:        &nullifierStore{pool: s.pool},
		EncryptedOutputs:  &encryptedOutputStore{pool: s.pool},
		RegisteredKeys:    &registeredKeyStore{pool: s.pool},
		SyncMetadata:      &syncMetadataStore{pool: s.pool},
		RetentionConfig:   &retentionConfigStore{pool: s.pool},
		UserNotes:         &userNoteStore{pool: s.pool},
	}
}

type treeStore struct {
	pool      *pgxpool.Pool
	leafTable string
	metaTable string
}

func (t *treeStore) GetNode(ctx context.Context, level uint32, index uint64) (field.Element, bool, error) {
	var zero field.Element
	var raw []byte
	query := fmt.Sprintf(`SELECT value FROM %s WHERE level = $1 AND index = $2`, t.leafTable)
	err := t.pool.QueryRow(ctx, query, level, index).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("pgstore: %s.GetNode: %w", t.leafTable, err)
	}
	v, err := field.BEBytesToField(raw)
	if err != nil {
		return zero, false, fmt.Errorf("pgstore: %s.GetNode: decoding value: %w", t.leafTable, err)
	}
	return v, true, nil
}

func (t *treeStore) SetNode(ctx context.Context, level uint32, index uint64, value field.Element) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (level, index, value) VALUES ($1, $2, $3)
		ON CONFLICT (level, index) DO UPDATE SET value = $3
	`, t.leafTable)
	be := field.FieldToBEBytes(value)
	_, err := t.pool.Exec(ctx, query, level, index, be[:])
	if err != nil {
		return fmt.Errorf("pgstore: %s.SetNode: %w", t.leafTable, err)
	}
	return nil
}

func (t *treeStore) GetNextIndex(ctx context.Context) (uint64, error) {
	var next uint64
	query := fmt.Sprintf(`SELECT next_index FROM %s WHERE id = 1`, t.metaTable)
	err := t.pool.QueryRow(ctx, query).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: %s.GetNextIndex: %w", t.metaTable, err)
	}
	return next, nil
}

func (t *treeStore) SetNextIndex(ctx context.Context, next uint64) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, next_index) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET next_index = $1
	`, t.metaTable)
	_, err := t.pool.Exec(ctx, query, next)
	if err != nil {
		return fmt.Errorf("pgstore: %s.SetNextIndex: %w", t.metaTable, err)
	}
	return nil
}

type nullifierStore struct{ pool *pgxpool.Pool }

func (n *nullifierStore) HasNullifier(ctx context.Context, nullifier field.Element) (bool, error) {
	be := field.FieldToBEBytes(nullifier)
	var exists bool
	err := n.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pool_nullifiers WHERE nullifier = $1)`, be[:]).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pgstore: HasNullifier: %w", err)
	}
	return exists, nil
}

func (n *nullifierStore) MarkNullifier(ctx context.Context, info store.NullifierInfo) error {
	be := field.FieldToBEBytes(info.Nullifier)
	_, err := n.pool.Exec(ctx, `
		INSERT INTO pool_nullifiers (nullifier, ledger, seen_at) VALUES ($1, $2, $3)
		ON CONFLICT (nullifier) DO NOTHING
	`, be[:], info.Ledger, info.SeenAt)
	if err != nil {
		return fmt.Errorf("pgstore: MarkNullifier: %w", err)
	}
	return nil
}

func (n *nullifierStore) GetNullifierInfo(ctx context.Context, nullifier field.Element) (*store.NullifierInfo, bool, error) {
	be := field.FieldToBEBytes(nullifier)
	var info store.NullifierInfo
	err := n.pool.QueryRow(ctx, `SELECT ledger, seen_at FROM pool_nullifiers WHERE nullifier = $1`, be[:]).
		Scan(&info.Ledger, &info.SeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: GetNullifierInfo: %w", err)
	}
	info.Nullifier = nullifier
	return &info, true, nil
}

type encryptedOutputStore struct{ pool *pgxpool.Pool }

func (e *encryptedOutputStore) Save(ctx context.Context, rec store.EncryptedOutputRecord) error {
	commitBE := field.FieldToBEBytes(rec.Commitment)
	_, err := e.pool.Exec(ctx, `
		INSERT INTO pool_encrypted_outputs (commitment, envelope, ledger, leaf_index)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (commitment) DO NOTHING
	`, commitBE[:], rec.Envelope[:], rec.Ledger, rec.LeafIndex)
	if err != nil {
		return fmt.Errorf("pgstore: encryptedOutputStore.Save: %w", err)
	}
	return nil
}

func (e *encryptedOutputStore) GetByCommitment(ctx context.Context, commitment field.Element) (*store.EncryptedOutputRecord, bool, error) {
	commitBE := field.FieldToBEBytes(commitment)
	var rec store.EncryptedOutputRecord
	var envelope []byte
	err := e.pool.QueryRow(ctx, `SELECT envelope, ledger, leaf_index FROM pool_encrypted_outputs WHERE commitment = $1`, commitBE[:]).
		Scan(&envelope, &rec.Ledger, &rec.LeafIndex)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: encryptedOutputStore.GetByCommitment: %w", err)
	}
	rec.Commitment = commitment
	copy(rec.Envelope[:], envelope)
	return &rec, true, nil
}

func (e *encryptedOutputStore) ListFromLedger(ctx context.Context, minLedger uint64) ([]store.EncryptedOutputRecord, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT commitment, envelope, ledger, leaf_index FROM pool_encrypted_outputs
		WHERE ledger >= $1 ORDER BY ledger ASC
	`, minLedger)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encryptedOutputStore.ListFromLedger: %w", err)
	}
	defer rows.Close()

	out := make([]store.EncryptedOutputRecord, 0)
	for rows.Next() {
		var commitBytes, envelope []byte
		var rec store.EncryptedOutputRecord
		if err := rows.Scan(&commitBytes, &envelope, &rec.Ledger, &rec.LeafIndex); err != nil {
			return nil, fmt.Errorf("pgstore: encryptedOutputStore.ListFromLedger: scanning: %w", err)
		}
		commit, err := field.BEBytesToField(commitBytes)
		if err != nil {
			return nil, fmt.Errorf("pgstore: encryptedOutputStore.ListFromLedger: decoding commitment: %w", err)
		}
		rec.Commitment = commit
		copy(rec.Envelope[:], envelope)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type registeredKeyStore struct{ pool *pgxpool.Pool }

func (r *registeredKeyStore) Save(ctx context.Context, rec store.RegisteredKey) error {
	noteKeyBE := field.FieldToBEBytes(rec.NoteKey)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO registered_public_keys (owner, encryption_key, note_key) VALUES ($1, $2, $3)
		ON CONFLICT (owner) DO UPDATE SET encryption_key = $2, note_key = $3
	`, rec.Owner, rec.EncryptionKey[:], noteKeyBE[:])
	if err != nil {
		return fmt.Errorf("pgstore: registeredKeyStore.Save: %w", err)
	}
	return nil
}

func (r *registeredKeyStore) Get(ctx context.Context, owner string) (*store.RegisteredKey, bool, error) {
	var rec store.RegisteredKey
	var encKey, noteKeyBytes []byte
	err := r.pool.QueryRow(ctx, `SELECT encryption_key, note_key FROM registered_public_keys WHERE owner = $1`, owner).
		Scan(&encKey, &noteKeyBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: registeredKeyStore.Get: %w", err)
	}
	noteKey, err := field.BEBytesToField(noteKeyBytes)
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: registeredKeyStore.Get: decoding note_key: %w", err)
	}
	rec.Owner = owner
	copy(rec.EncryptionKey[:], encKey)
	rec.NoteKey = noteKey
	return &rec, true, nil
}

type syncMetadataStore struct{ pool *pgxpool.Pool }

func (s *syncMetadataStore) GetCursor(ctx context.Context, network, stream string) (*store.SyncCursor, bool, error) {
	var c store.SyncCursor
	var opaque *string
	err := s.pool.QueryRow(ctx, `
		SELECT last_ledger, opaque_cursor, sync_broken FROM sync_metadata WHERE network = $1 AND stream = $2
	`, network, stream).Scan(&c.LastLedger, &opaque, &c.SyncBroken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: syncMetadataStore.GetCursor: %w", err)
	}
	c.OpaqueCursor = opaque
	return &c, true, nil
}

func (s *syncMetadataStore) SetCursor(ctx context.Context, network, stream string, cursor store.SyncCursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_metadata (network, stream, last_ledger, opaque_cursor, sync_broken)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (network, stream) DO UPDATE
		SET last_ledger = $3, opaque_cursor = $4, sync_broken = $5
	`, network, stream, cursor.LastLedger, cursor.OpaqueCursor, cursor.SyncBroken)
	if err != nil {
		return fmt.Errorf("pgstore: syncMetadataStore.SetCursor: %w", err)
	}
	return nil
}

type retentionConfigStore struct{ pool *pgxpool.Pool }

func (r *retentionConfigStore) Get(ctx context.Context, endpoint string) (*store.RetentionConfig, bool, error) {
	var cfg store.RetentionConfig
	err := r.pool.QueryRow(ctx, `
		SELECT window_ledgers, warning_threshold, detected_at FROM retention_config WHERE endpoint = $1
	`, endpoint).Scan(&cfg.WindowLedgers, &cfg.WarningThreshold, &cfg.DetectedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: retentionConfigStore.Get: %w", err)
	}
	cfg.Endpoint = endpoint
	return &cfg, true, nil
}

func (r *retentionConfigStore) Set(ctx context.Context, cfg store.RetentionConfig) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO retention_config (endpoint, window_ledgers, warning_threshold, detected_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE
		SET window_ledgers = $2, warning_threshold = $3, detected_at = $4
	`, cfg.Endpoint, cfg.WindowLedgers, cfg.WarningThreshold, cfg.DetectedAt)
	if err != nil {
		return fmt.Errorf("pgstore: retentionConfigStore.Set: %w", err)
	}
	return nil
}

type userNoteStore struct{ pool *pgxpool.Pool }

func (u *userNoteStore) Save(ctx context.Context, rec store.NoteRecord) error {
	commitBE := field.FieldToBEBytes(rec.Commitment)
	blindingBE := field.FieldToBEBytes(rec.Blinding)
	ownerPubBE := field.FieldToBEBytes(rec.OwnerNotePub)
	_, err := u.pool.Exec(ctx, `
		INSERT INTO user_notes (
			commitment_hex, commitment, amount, blinding, owner_note_pub, owner_address,
			leaf_index, spent, spent_at_ledger, is_received, created_at, is_legacy, label
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (commitment_hex) DO UPDATE SET
			amount = $3, blinding = $4, owner_note_pub = $5, owner_address = $6,
			leaf_index = $7, spent = $8, spent_at_ledger = $9, is_received = $10,
			created_at = $11, is_legacy = $12, label = $13
	`, field.FieldToHex(rec.Commitment), commitBE[:], rec.Amount, blindingBE[:], ownerPubBE[:], rec.OwnerAddress,
		rec.LeafIndex, rec.Spent, rec.SpentAtLedger, rec.IsReceived, rec.CreatedAt, rec.IsLegacy, rec.Label)
	if err != nil {
		return fmt.Errorf("pgstore: userNoteStore.Save: %w", err)
	}
	return nil
}

func scanNoteRecord(row pgx.Row) (*store.NoteRecord, bool, error) {
	var rec store.NoteRecord
	var commitBytes, blindingBytes, ownerPubBytes []byte
	err := row.Scan(&commitBytes, &rec.Amount, &blindingBytes, &ownerPubBytes, &rec.OwnerAddress,
		&rec.LeafIndex, &rec.Spent, &rec.SpentAtLedger, &rec.IsReceived, &rec.CreatedAt, &rec.IsLegacy, &rec.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	commit, err := field.BEBytesToField(commitBytes)
	if err != nil {
		return nil, false, fmt.Errorf("decoding commitment: %w", err)
	}
	blinding, err := field.BEBytesToField(blindingBytes)
	if err != nil {
		return nil, false, fmt.Errorf("decoding blinding: %w", err)
	}
	ownerPub, err := field.BEBytesToField(ownerPubBytes)
	if err != nil {
		return nil, false, fmt.Errorf("decoding owner_note_pub: %w", err)
	}
	rec.Commitment = commit
	rec.Blinding = blinding
	rec.OwnerNotePub = ownerPub
	return &rec, true, nil
}

const noteColumns = `commitment, amount, blinding, owner_note_pub, owner_address,
			leaf_index, spent, spent_at_ledger, is_received, created_at, is_legacy, label`

func (u *userNoteStore) GetByCommitment(ctx context.Context, commitmentHex string) (*store.NoteRecord, bool, error) {
	row := u.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM user_notes WHERE commitment_hex = $1`, commitmentHex)
	rec, ok, err := scanNoteRecord(row)
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: userNoteStore.GetByCommitment: %w", err)
	}
	return rec, ok, nil
}

func (u *userNoteStore) List(ctx context.Context, owner string, unspentOnly bool) ([]store.NoteRecord, error) {
	query := `SELECT ` + noteColumns + ` FROM user_notes WHERE ($1 = '' OR owner_address = $1) AND (NOT $2 OR NOT spent)`
	rows, err := u.pool.Query(ctx, query, owner, unspentOnly)
	if err != nil {
		return nil, fmt.Errorf("pgstore: userNoteStore.List: %w", err)
	}
	defer rows.Close()

	out := make([]store.NoteRecord, 0)
	for rows.Next() {
		rec, ok, err := scanNoteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: userNoteStore.List: scanning: %w", err)
		}
		if ok {
			out = append(out, *rec)
		}
	}
	return out, rows.Err()
}

func (u *userNoteStore) MarkSpent(ctx context.Context, commitmentHex string, spentAtLedger uint64) error {
	_, err := u.pool.Exec(ctx, `UPDATE user_notes SET spent = TRUE, spent_at_ledger = $2 WHERE commitment_hex = $1`, commitmentHex, spentAtLedger)
	if err != nil {
		return fmt.Errorf("pgstore: userNoteStore.MarkSpent: %w", err)
	}
	return nil
}

func (u *userNoteStore) Delete(ctx context.Context, commitmentHex string) error {
	_, err := u.pool.Exec(ctx, `DELETE FROM user_notes WHERE commitment_hex = $1`, commitmentHex)
	if err != nil {
		return fmt.Errorf("pgstore: userNoteStore.Delete: %w", err)
	}
	return nil
}

func (u *userNoteStore) Clear(ctx context.Context, owner string) error {
	_, err := u.pool.Exec(ctx, `DELETE FROM user_notes WHERE $1 = '' OR owner_address = $1`, owner)
	if err != nil {
		return fmt.Errorf("pgstore: userNoteStore.Clear: %w", err)
	}
	return nil
}

type approvedLeafIndexStore struct{ pool *pgxpool.Pool }

func (a *approvedLeafIndexStore) RecordLeaf(ctx context.Context, leaf field.Element, index uint64) error {
	leafBE := field.FieldToBEBytes(leaf)
	_, err := a.pool.Exec(ctx, `
		INSERT INTO approved_leaf_index (leaf, leaf_index) VALUES ($1, $2)
		ON CONFLICT (leaf) DO UPDATE SET leaf_index = $2
	`, leafBE[:], index)
	if err != nil {
		return fmt.Errorf("pgstore: approvedLeafIndexStore.RecordLeaf: %w", err)
	}
	return nil
}

func (a *approvedLeafIndexStore) FindIndexByLeaf(ctx context.Context, leaf field.Element) (uint64, bool, error) {
	leafBE := field.FieldToBEBytes(leaf)
	var index uint64
	err := a.pool.QueryRow(ctx, `SELECT leaf_index FROM approved_leaf_index WHERE leaf = $1`, leafBE[:]).Scan(&index)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pgstore: approvedLeafIndexStore.FindIndexByLeaf: %w", err)
	}
	return index, true, nil
}
