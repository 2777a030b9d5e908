// Command poold runs the shielded pool core as a long-lived daemon: a
// periodic sync loop plus an HTTP /healthz and /metrics surface, adapted
// from the teacher's cmd/auctiond daemon shape (health.go, metrics.go,
// rate_limiter.go kept near-verbatim; main.go, config.go, and logger.go
// rewritten since they were a fixed N-participant demo script rather than
// a long-running service, and internal/config + internal/logging already
// supersede the teacher's own config/logger pair).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shieldedpool/client/internal/config"
	"github.com/shieldedpool/client/internal/logging"
	"github.com/shieldedpool/client/internal/pool"
	"github.com/shieldedpool/client/internal/prover"
	"github.com/shieldedpool/client/internal/prover/circuit"
	"github.com/shieldedpool/client/internal/rpcnode"
	"github.com/shieldedpool/client/internal/rpcnode/fakenode"
	"github.com/shieldedpool/client/internal/rpcnode/httpclient"
	"github.com/shieldedpool/client/internal/signer/devsigner"
	"github.com/shieldedpool/client/internal/store"
	"github.com/shieldedpool/client/internal/store/memstore"
	"github.com/shieldedpool/client/internal/store/pgstore"
)

const version = "poold/0.1.0"

func main() {
	configPath := flag.String("config", "poold.config.json", "path to the core's JSON config file")
	network := flag.String("network", "testnet", "network passphrase/identifier")
	endpoint := flag.String("endpoint", "", "remote node JSON-RPC endpoint; empty runs against an in-memory fake node")
	keyfile := flag.String("keyfile", "poold.key", "path to the local ed25519 signer keyfile")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string; empty uses the in-memory store")
	listenAddr := flag.String("listen", ":8080", "HTTP listen address for /healthz and /metrics")
	syncInterval := flag.Duration("sync-interval", 15*time.Second, "interval between sync passes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poold: loading config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, LogFile: cfg.LogFile, PrettyConsole: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "poold: building logger: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.CheckCircuitDepths(circuit.PoolDepth, circuit.ApprovedDepth, circuit.SMTDepth); err != nil {
		log.Fatal().Err(err).Msg("circuit depth mismatch")
	}

	sgnr, err := devsigner.Load(*keyfile, *network)
	if err != nil {
		log.Fatal().Err(err).Msg("loading signer keyfile")
	}

	var node rpcnode.NodeClient
	if *endpoint != "" {
		node = httpclient.New(*endpoint)
	} else {
		node = fakenode.New()
	}

	var stores store.Stores
	var closeStores func()
	if *postgresDSN == "" {
		stores, closeStores = memstore.NewStores(), func() {}
	} else {
		pg, err := pgstore.Open(context.Background(), *postgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("opening postgres store")
		}
		if err := pg.Initialize(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("initializing postgres schema")
		}
		stores, closeStores = pg.Stores(), pg.Close
	}
	defer closeStores()

	prv := prover.New(log)
	if err := prv.InitModules(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("dev groth16 setup")
	}

	resolvedEndpoint := *endpoint
	if resolvedEndpoint == "" {
		resolvedEndpoint = "memory://fakenode"
	}
	m := pool.New(cfg, log, node, sgnr, stores, prv, nil, *network, resolvedEndpoint)
	defer m.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := m.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("initializing core")
	}

	health := NewHealthChecker(version)
	health.RegisterComponent("sync", func() error { return checkSyncHealth(ctx, m) })
	metrics := NewMetricsCollector()
	limiter := NewRateLimiter(20, 20, time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		resp := CreateHealthResponse(health.CheckHealth())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metrics.GetMetricsSummary())
	})

	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	log.Info().Str("listen", *listenAddr).Dur("sync_interval", *syncInterval).Msg("poold started")
	runSyncLoop(ctx, m, metrics, *syncInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// checkSyncHealth reports an error if either stream's cursor is marked
// broken (spec §3's sync_broken gate), used as the daemon's readiness
// signal at /healthz.
func checkSyncHealth(ctx context.Context, m *pool.Manager) error {
	for _, stream := range []string{"pool", "asp"} {
		cursor, ok, err := m.Stores.SyncMetadata.GetCursor(ctx, m.Network, stream)
		if err != nil {
			return err
		}
		if ok && cursor.SyncBroken {
			return fmt.Errorf("%s stream is broken", stream)
		}
	}
	return nil
}

func runSyncLoop(ctx context.Context, m *pool.Manager, metrics *MetricsCollector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			counts, err := m.Sync(ctx)
			if err != nil {
				metrics.RecordError("sync")
				continue
			}
			metrics.RecordSync(time.Since(start), counts.PoolInserted, counts.ApprovedInserted)
		}
	}
}
