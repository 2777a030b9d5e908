// Package pool implements the state manager (C12): the facade gluing key
// derivation (C3), the event-stream synchronizer (C7), the note store
// (C8), and the transaction builder (C11) behind one lifecycle and one
// event bus (spec §4.11). It is grounded on the teacher's internal/zerocash
// Participant type (api.go: one struct owning keys, a wallet, and the
// ledger/network wiring, exposing Register/Withdraw/Exchange as thin
// wrappers over CreateTx) generalized from a single fixed participant role
// to deposit/withdraw/transfer over the spec's multi-input/output engine,
// and on p2p.Node's RegisterHandler/handlers map for the listener-registry
// shape (here: an explicit handle returned by On, removed by Off, so
// Close can deterministically detach everything per spec §9).
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shieldedpool/client/internal/artifacts"
	"github.com/shieldedpool/client/internal/config"
	"github.com/shieldedpool/client/internal/keys"
	"github.com/shieldedpool/client/internal/merkletree"
	"github.com/shieldedpool/client/internal/notestore"
	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/prover"
	"github.com/shieldedpool/client/internal/prover/circuit"
	"github.com/shieldedpool/client/internal/rpcnode"
	"github.com/shieldedpool/client/internal/signer"
	"github.com/shieldedpool/client/internal/smt"
	"github.com/shieldedpool/client/internal/store"
	poolsync "github.com/shieldedpool/client/internal/sync"
	"github.com/shieldedpool/client/internal/txbuilder"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/note"
)

// EventKind names the internal bus events spec §4.11 lists.
type EventKind string

const (
	EventRetentionDetected EventKind = "retention_detected"
	EventSyncProgress      EventKind = "sync_progress"
	EventSyncComplete      EventKind = "sync_complete"
	EventSyncBroken        EventKind = "sync_broken"
	EventNotesDiscovered   EventKind = "notes_discovered"
	EventNotesMarkedSpent  EventKind = "notes_marked_spent"
	EventNoteDiscovered    EventKind = "note_discovered"
	EventNoteSpent         EventKind = "note_spent"
)

// SyncProgressPayload is the payload for EventSyncProgress.
type SyncProgressPayload struct {
	Stream   poolsync.Stream
	Phase    string
	Progress float64
}

// SyncBrokenPayload is the payload for EventSyncBroken.
type SyncBrokenPayload struct {
	Stream  poolsync.Stream
	Gap     uint64
	Message string
}

// Listener receives bus events; payload's concrete type depends on kind
// (see the *Payload types above, or a bare string commitment hex for
// EventNoteDiscovered/EventNoteSpent).
type Listener func(kind EventKind, payload interface{})

// ListenerHandle is returned by On and consumed by Off, mirroring the
// teacher's p2p handler-registration-by-key idiom generalized to a stable,
// removable handle instead of a fixed message-type string.
type ListenerHandle uint64

// Manager is the state manager facade (C12).
type Manager struct {
	Config *config.Config
	Log    zerolog.Logger
	Node   rpcnode.NodeClient
	Signer signer.Signer
	Stores store.Stores

	Network  string // wallet-reported network passphrase/identifier this pool expects
	Endpoint string // remote node endpoint, used as the retention-config key

	Artifacts *artifacts.Cache
	Prover    *prover.Prover

	PoolTree *merkletree.Tree
	ASPTree  *merkletree.Tree
	SMT      *smt.Client
	Notes    *notestore.Store
	Sync     *poolsync.Manager
	Builder  *txbuilder.Builder

	mu         sync.Mutex
	listeners  map[ListenerHandle]Listener
	nextHandle ListenerHandle

	keyMu        sync.Mutex
	encKeys      *keys.EncryptionKeypair
	noteKeys     *keys.NoteKeypair
	ownerAddress string
}

// New constructs a Manager wired to its external collaborators. Call
// Initialize before any other method.
func New(cfg *config.Config, log zerolog.Logger, node rpcnode.NodeClient, sgnr signer.Signer, stores store.Stores, prv *prover.Prover, artifactsCache *artifacts.Cache, network, endpoint string) *Manager {
	return &Manager{
		Config:    cfg,
		Log:       log,
		Node:      node,
		Signer:    sgnr,
		Stores:    stores,
		Prover:    prv,
		Artifacts: artifactsCache,
		Network:   network,
		Endpoint:  endpoint,
		listeners: make(map[ListenerHandle]Listener),
	}
}

// On registers listener and returns a handle that Off accepts for explicit
// removal (spec §9: "a stable handle that supports explicit removal at
// teardown").
func (m *Manager) On(l Listener) ListenerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandle++
	h := m.nextHandle
	m.listeners[h] = l
	return h
}

// Off removes a listener previously registered with On. Removing an
// unknown handle is a no-op.
func (m *Manager) Off(h ListenerHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, h)
}

func (m *Manager) emit(kind EventKind, payload interface{}) {
	m.mu.Lock()
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.mu.Unlock()
	for _, l := range ls {
		l(kind, payload)
	}
}

// Initialize refuses to start if the configured tree/SMT depths don't
// match the reference circuit's compile-time constants (spec §9 Open
// Question OQ-2), builds the pool and approved-set trees over the supplied
// Stores by loading only their persisted root and next-index (never the
// full leaf set — spec §4.11), then probes retention and runs an initial
// backfill of both streams.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.Config.CheckCircuitDepths(circuit.PoolDepth, circuit.ApprovedDepth, circuit.SMTDepth); err != nil {
		return fmt.Errorf("pool: %w", err)
	}

	zero, err := m.Config.ZeroLeaf()
	if err != nil {
		return fmt.Errorf("pool: resolving zero leaf: %w", err)
	}

	m.PoolTree, err = merkletree.New(ctx, m.Config.PoolTreeDepth, zero, m.Stores.PoolLeaves)
	if err != nil {
		return fmt.Errorf("pool: initializing pool tree: %w", err)
	}
	m.ASPTree, err = merkletree.New(ctx, m.Config.ApprovedTreeDepth, zero, m.Stores.ApprovedLeaves)
	if err != nil {
		return fmt.Errorf("pool: initializing approved-set tree: %w", err)
	}

	m.SMT = smt.New(m.Node, m.Config.SMTDepth)
	m.Notes = notestore.New(m.Stores.UserNotes, m.Stores.EncryptedOutputs, m.Stores.Nullifiers, m.Log)

	m.Sync = &poolsync.Manager{
		Node:              m.Node,
		Log:               m.Log,
		PoolTree:          m.PoolTree,
		ASPTree:           m.ASPTree,
		SyncMeta:          m.Stores.SyncMetadata,
		Retention:         m.Stores.RetentionConfig,
		Nullifiers:        m.Stores.Nullifiers,
		EncryptedOutputs:  m.Stores.EncryptedOutputs,
		RegisteredKeys:    m.Stores.RegisteredKeys,
		ApprovedLeafIndex: m.Stores.ApprovedLeafIndex,
		Notes:             m.Notes,
		Network:           m.Network,
		Endpoint:          m.Endpoint,
		RetentionWindowLedgers: m.Config.RetentionWindowLedgers,
		Callbacks: poolsync.Callbacks{
			OnRetentionDetected: func(window uint64) { m.emit(EventRetentionDetected, window) },
			OnProgress: func(stream poolsync.Stream, phase string, progress float64) {
				m.emit(EventSyncProgress, SyncProgressPayload{Stream: stream, Phase: phase, Progress: progress})
			},
			OnBroken: func(stream poolsync.Stream, gap uint64, message string) {
				m.emit(EventSyncBroken, SyncBrokenPayload{Stream: stream, Gap: gap, Message: message})
			},
			OnNoteDiscovered: func(commitmentHex string) { m.emit(EventNoteDiscovered, commitmentHex) },
			OnNoteSpent:      func(commitmentHex string) { m.emit(EventNoteSpent, commitmentHex) },
		},
	}

	m.Builder = txbuilder.New(m.Log, m.PoolTree, m.ASPTree, m.Stores.ApprovedLeafIndex, m.SMT, m.Prover)

	if _, err := m.syncAll(ctx); err != nil {
		return err
	}
	return nil
}

// syncAll runs one backfill pass of both streams concurrently (spec §5:
// "across streams, no ordering is assumed" — each stream writes only its
// own tree, so running them via errgroup is safe under the single-writer-
// per-tree discipline in spec §4.5), aggregates counts, and emits
// sync_complete.
func (m *Manager) syncAll(ctx context.Context) (poolsync.Counts, error) {
	retention, err := m.Sync.ProbeRetention(ctx)
	if err != nil {
		return poolsync.Counts{}, fmt.Errorf("pool: probing retention: %w", err)
	}

	var poolCounts, aspCounts poolsync.Counts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.Sync.SyncStream(gctx, poolsync.StreamPool, retention, &poolCounts)
	})
	g.Go(func() error {
		return m.Sync.SyncStream(gctx, poolsync.StreamASP, retention, &aspCounts)
	})
	if err := g.Wait(); err != nil {
		return poolsync.Counts{}, err
	}

	total := poolsync.Counts{
		PoolInserted:       poolCounts.PoolInserted,
		ApprovedInserted:   aspCounts.ApprovedInserted,
		NullifiersObserved: poolCounts.NullifiersObserved + aspCounts.NullifiersObserved,
		NotesDiscovered:    poolCounts.NotesDiscovered + aspCounts.NotesDiscovered,
	}

	if m.encKeysSnapshot() != nil {
		spent, err := m.Notes.ScanForSpent(ctx, m.ownerAddressSnapshot(), m.noteKeysSnapshot().Private)
		if err != nil {
			return total, fmt.Errorf("pool: scanning for spent notes: %w", err)
		}
		total.NotesSpent = len(spent)
		if len(spent) > 0 {
			m.emit(EventNotesMarkedSpent, len(spent))
		}
	}
	if total.NotesDiscovered > 0 {
		m.emit(EventNotesDiscovered, total.NotesDiscovered)
	}
	m.emit(EventSyncComplete, total)
	return total, nil
}

// Sync runs another backfill pass of both streams, for callers that poll
// rather than relying solely on Initialize's first pass.
func (m *Manager) Sync(ctx context.Context) (poolsync.Counts, error) {
	return m.syncAll(ctx)
}

// ForceResync accepts the event loss implied by a broken stream and
// restarts it from the retention-bounded starting point (spec §7's
// OutOfSync policy requires an explicit user action; this is it).
func (m *Manager) ForceResync(ctx context.Context, stream poolsync.Stream) error {
	return m.Sync.ForceResync(ctx, stream)
}

// Authenticate derives the encryption and note keypairs from wallet
// signatures (C3) and caches them for the process lifetime, scoped to
// ownerAddress. It also verifies the connected wallet's network against
// m.Network, failing WalletNetworkMismatch on mismatch.
func (m *Manager) Authenticate(ctx context.Context, ownerAddress string) error {
	if m.Network != "" {
		net, err := m.Signer.Network(ctx)
		if err != nil {
			return poolerr.Wrap(poolerr.Transient, err, "querying signer network")
		}
		if net != m.Network {
			return poolerr.New(poolerr.WalletNetworkMismatch, "connected wallet network %q != expected %q", net, m.Network)
		}
	}

	enc, err := keys.DeriveEncryptionKeypair(ctx, m.Signer)
	if err != nil {
		return err
	}
	nk, err := keys.DeriveNotePrivate(ctx, m.Signer)
	if err != nil {
		return err
	}

	m.keyMu.Lock()
	m.encKeys = &enc
	m.noteKeys = &nk
	m.ownerAddress = ownerAddress
	m.keyMu.Unlock()

	m.Sync.SetScanKeys([]notestore.ScanEncryptionKey{{
		OwnerAddress: ownerAddress,
		SecretKey:    enc.SecretKey,
		NotePubkey:   nk.Public,
	}})
	return nil
}

// ClearKeyCache drops the process-lifetime key cache, per spec §3's Key
// cache invariant (cleared on owner change, logout, or teardown; never
// persisted).
func (m *Manager) ClearKeyCache() {
	m.keyMu.Lock()
	m.encKeys = nil
	m.noteKeys = nil
	m.ownerAddress = ""
	m.keyMu.Unlock()
	if m.Sync != nil {
		m.Sync.SetScanKeys(nil)
	}
}

func (m *Manager) encKeysSnapshot() *keys.EncryptionKeypair {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	return m.encKeys
}

func (m *Manager) noteKeysSnapshot() *keys.NoteKeypair {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	return m.noteKeys
}

func (m *Manager) ownerAddressSnapshot() string {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	return m.ownerAddress
}

// requireAuthenticated returns the cached keys or InvalidInput if
// Authenticate has not been called.
func (m *Manager) requireAuthenticated() (keys.EncryptionKeypair, keys.NoteKeypair, string, error) {
	enc := m.encKeysSnapshot()
	nk := m.noteKeysSnapshot()
	if enc == nil || nk == nil {
		return keys.EncryptionKeypair{}, keys.NoteKeypair{}, "", poolerr.New(poolerr.InvalidInput, "pool: not authenticated; call Authenticate first")
	}
	return *enc, *nk, m.ownerAddressSnapshot(), nil
}

// requireNotBroken blocks spending operations while either stream is
// broken (spec §7: OutOfSync blocks spending; reads remain available).
func (m *Manager) requireNotBroken(ctx context.Context) error {
	for _, stream := range []poolsync.Stream{poolsync.StreamPool, poolsync.StreamASP} {
		cursor, ok, err := m.Stores.SyncMetadata.GetCursor(ctx, m.Network, string(stream))
		if err != nil {
			return fmt.Errorf("pool: checking %s cursor: %w", stream, err)
		}
		if ok && cursor.SyncBroken {
			return poolerr.New(poolerr.OutOfSync, "%s stream is broken; call ForceResync to accept loss", stream)
		}
	}
	return nil
}

// Deposit builds, proves, and submits a deposit transaction crediting a
// new note of amountIn to the authenticated caller, persisting the new
// note locally on success.
func (m *Manager) Deposit(ctx context.Context, amountIn uint64, senderASPBlinding field.Element, allowLocalASPFallback bool) (txbuilder.Result, error) {
	if err := m.requireNotBroken(ctx); err != nil {
		return txbuilder.Result{}, err
	}
	enc, nk, owner, err := m.requireAuthenticated()
	if err != nil {
		return txbuilder.Result{}, err
	}

	res, err := m.Builder.Deposit(ctx, txbuilder.DepositRequest{
		SpendPrivateKey:       nk.Private,
		SenderASPBlinding:     senderASPBlinding,
		AmountIn:              amountIn,
		SelfNotePubkey:        nk.Public,
		SelfEncryptionKey:     enc.PublicKey,
		Recipient:             owner,
		AllowLocalASPFallback: allowLocalASPFallback,
	})
	if err != nil {
		return res, err
	}
	if err := m.recordOwnOutputs(ctx, res, nk.Public, owner, []uint64{amountIn}); err != nil {
		return res, err
	}
	return res, m.submit(ctx, res)
}

// Withdraw spends real input notes, sends amountOut to recipient, and
// optionally returns changeAmount to the caller as a new note.
func (m *Manager) Withdraw(ctx context.Context, req txbuilder.WithdrawRequest) (txbuilder.Result, error) {
	if err := m.requireNotBroken(ctx); err != nil {
		return txbuilder.Result{}, err
	}
	enc, nk, owner, err := m.requireAuthenticated()
	if err != nil {
		return txbuilder.Result{}, err
	}
	req.SpendPrivateKey = nk.Private
	req.SelfNotePubkey = nk.Public
	req.SelfEncryptionKey = enc.PublicKey
	if req.Recipient == "" {
		req.Recipient = owner
	}

	res, err := m.Builder.Withdraw(ctx, req)
	if err != nil {
		return res, err
	}
	if err := m.markOwnSpends(ctx, req.Spends); err != nil {
		return res, err
	}
	if req.ChangeAmount > 0 {
		if err := m.recordOwnOutputs(ctx, res, nk.Public, owner, []uint64{req.ChangeAmount}); err != nil {
			return res, err
		}
	}
	return res, m.submit(ctx, res)
}

// Transfer spends real input notes into one or two outputs, at least one
// of which is typically the recipient's note key.
func (m *Manager) Transfer(ctx context.Context, req txbuilder.TransferRequest) (txbuilder.Result, error) {
	if err := m.requireNotBroken(ctx); err != nil {
		return txbuilder.Result{}, err
	}
	enc, nk, owner, err := m.requireAuthenticated()
	if err != nil {
		return txbuilder.Result{}, err
	}
	req.SpendPrivateKey = nk.Private
	req.SelfNotePubkey = nk.Public
	req.SelfEncryptionKey = enc.PublicKey
	if req.Recipient == "" {
		req.Recipient = owner
	}

	// Outputs with no recipient note key are change addressed to the caller.
	for _, out := range req.Outputs {
		if out != nil && out.RecipientNotePubkey.IsZero() {
			out.RecipientNotePubkey = nk.Public
			out.RecipientEncryptionKey = enc.PublicKey
		}
	}

	res, err := m.Builder.Transfer(ctx, req)
	if err != nil {
		return res, err
	}
	if err := m.markOwnSpends(ctx, req.Spends); err != nil {
		return res, err
	}
	changeAmounts := make([]uint64, len(req.Outputs))
	for i, out := range req.Outputs {
		if out != nil && out.RecipientNotePubkey.Equal(&nk.Public) {
			changeAmounts[i] = out.Amount
		}
	}
	if err := m.recordOwnOutputs(ctx, res, nk.Public, owner, changeAmounts); err != nil {
		return res, err
	}
	return res, m.submit(ctx, res)
}

// recordOwnOutputs saves the caller's own new notes without waiting for
// the event-stream scan: the caller already knows the plaintext because it
// built the output itself. amounts lines up positionally with the leading
// entries of res.OutputCommitments that belong to the caller.
func (m *Manager) recordOwnOutputs(ctx context.Context, res txbuilder.Result, ownNotePubkey field.Element, owner string, amounts []uint64) error {
	for i, amount := range amounts {
		if i >= len(res.OutputCommitments) {
			break
		}
		if amount == 0 {
			continue
		}
		if err := m.Notes.Save(ctx, store.NoteRecord{
			Commitment:   res.OutputCommitments[i],
			Amount:       amount,
			OwnerNotePub: ownNotePubkey,
			OwnerAddress: owner,
			IsReceived:   false,
		}); err != nil {
			return fmt.Errorf("pool: recording own output note: %w", err)
		}
	}
	return nil
}

// markOwnSpends marks each real spend note's commitment spent locally,
// ahead of the event-stream nullifier-scan confirmation (an optimistic
// local update; syncAll's ScanForSpent reconciles against the chain).
func (m *Manager) markOwnSpends(ctx context.Context, spends [2]*txbuilder.SpendNote) error {
	for _, s := range spends {
		if s == nil {
			continue
		}
		commitHex := field.FieldToHex(s.Note.Commitment())
		if err := m.Notes.MarkSpent(ctx, commitHex, 0); err != nil {
			return fmt.Errorf("pool: marking own spend: %w", err)
		}
	}
	return nil
}

// submit relays the built-and-proved transaction to the remote node,
// surfacing Transient on network failure per spec §7.
func (m *Manager) submit(ctx context.Context, res txbuilder.Result) error {
	if m.Node == nil {
		return nil
	}
	result, err := m.Node.SubmitTransaction(ctx, res.Submit)
	if err != nil {
		return poolerr.Wrap(poolerr.Transient, err, "submitting transaction")
	}
	if !result.Successful {
		return poolerr.New(poolerr.Transient, "transaction rejected: %s", result.Message)
	}
	return nil
}

// ListNotes lists the authenticated owner's notes.
func (m *Manager) ListNotes(ctx context.Context, unspentOnly bool) ([]store.NoteRecord, error) {
	_, _, owner, err := m.requireAuthenticated()
	if err != nil {
		return nil, err
	}
	return m.Notes.List(ctx, owner, unspentOnly)
}

// ExportNotes returns the versioned export document for the authenticated
// owner's notes (spec §4.9/§6).
func (m *Manager) ExportNotes(ctx context.Context) (note.ExportDocument, error) {
	_, _, owner, err := m.requireAuthenticated()
	if err != nil {
		return note.ExportDocument{}, err
	}
	return m.Notes.Export(ctx, owner, time.Now())
}

// ImportNotes imports a previously exported document, skipping entries
// already present by commitment.
func (m *Manager) ImportNotes(ctx context.Context, doc note.ExportDocument) (int, error) {
	return m.Notes.Import(ctx, doc)
}

// Close detaches every registered listener and clears the process-lifetime
// key cache. It does not close Stores or Node: those are owned by the
// caller that constructed them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.listeners = make(map[ListenerHandle]Listener)
	m.mu.Unlock()
	m.ClearKeyCache()
}
