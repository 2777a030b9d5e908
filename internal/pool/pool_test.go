package pool

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shieldedpool/client/internal/config"
	"github.com/shieldedpool/client/internal/poolerr"
	"github.com/shieldedpool/client/internal/prover/circuit"
	"github.com/shieldedpool/client/internal/rpcnode/fakenode"
	"github.com/shieldedpool/client/internal/store"
	"github.com/shieldedpool/client/internal/store/memstore"
	poolsync "github.com/shieldedpool/client/internal/sync"
	"github.com/shieldedpool/client/pkg/field"
)

type stubSigner struct {
	network string
	sig     [64]byte
}

func (s stubSigner) SignMessage(ctx context.Context, message string) ([]byte, error) {
	out := make([]byte, 64)
	copy(out, s.sig[:])
	return out, nil
}
func (s stubSigner) SignTransaction(ctx context.Context, xdr []byte) ([]byte, error) { return nil, nil }
func (s stubSigner) SignAuthEntry(ctx context.Context, xdr []byte) ([]byte, error)    { return nil, nil }
func (s stubSigner) Network(ctx context.Context) (string, error)                     { return s.network, nil }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	node := fakenode.New()
	stores := memstore.NewStores()
	cfg := config.DefaultConfig()
	cfg.PoolTreeDepth = circuit.PoolDepth
	cfg.ApprovedTreeDepth = circuit.ApprovedDepth
	cfg.SMTDepth = circuit.SMTDepth

	m := New(cfg, zerolog.Nop(), node, stubSigner{network: "testnet"}, stores, nil, nil, "testnet", "http://fake")
	return m
}

func TestInitializeRefusesOnDepthMismatch(t *testing.T) {
	m := newTestManager(t)
	m.Config.SMTDepth = circuit.SMTDepth + 1

	err := m.Initialize(context.Background())
	require.Error(t, err)
}

func TestInitializeSucceedsAndRunsInitialSync(t *testing.T) {
	m := newTestManager(t)

	var gotComplete bool
	m.On(func(kind EventKind, payload interface{}) {
		if kind == EventSyncComplete {
			gotComplete = true
		}
	})

	err := m.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, gotComplete, "expected sync_complete to be emitted during Initialize")
	require.NotNil(t, m.PoolTree)
	require.NotNil(t, m.ASPTree)
	require.NotNil(t, m.Sync)
}

func TestOnOffRemovesListener(t *testing.T) {
	m := newTestManager(t)

	calls := 0
	h := m.On(func(kind EventKind, payload interface{}) { calls++ })
	m.emit(EventSyncProgress, SyncProgressPayload{Stream: poolsync.StreamPool, Phase: "backfill", Progress: 0.5})
	require.Equal(t, 1, calls)

	m.Off(h)
	m.emit(EventSyncProgress, SyncProgressPayload{Stream: poolsync.StreamPool, Phase: "backfill", Progress: 1})
	require.Equal(t, 1, calls, "listener should not fire after Off")
}

func TestAuthenticateRejectsNetworkMismatch(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	m.Signer = stubSigner{network: "other-network"}
	err := m.Authenticate(context.Background(), "GABC...")
	require.Error(t, err)
	require.True(t, poolerr.Is(err, poolerr.WalletNetworkMismatch))
}

func TestAuthenticateAndClearKeyCache(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	require.NoError(t, m.Authenticate(context.Background(), "GABC..."))
	_, _, owner, err := m.requireAuthenticated()
	require.NoError(t, err)
	require.Equal(t, "GABC...", owner)

	m.ClearKeyCache()
	_, _, _, err = m.requireAuthenticated()
	require.Error(t, err)
	require.True(t, poolerr.Is(err, poolerr.InvalidInput))
}

func TestRequireNotBrokenBlocksOnBrokenStream(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	require.NoError(t, m.requireNotBroken(context.Background()))

	require.NoError(t, m.Stores.SyncMetadata.SetCursor(context.Background(), m.Network, string(poolsync.StreamPool), store.SyncCursor{SyncBroken: true}))

	err := m.requireNotBroken(context.Background())
	require.Error(t, err)
	require.True(t, poolerr.Is(err, poolerr.OutOfSync))

	_, err = m.Deposit(context.Background(), 100, field.Element{}, true)
	require.Error(t, err)
	require.True(t, poolerr.Is(err, poolerr.OutOfSync))

	require.NoError(t, m.ForceResync(context.Background(), poolsync.StreamPool))
	require.NoError(t, m.requireNotBroken(context.Background()))
}
