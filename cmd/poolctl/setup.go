package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shieldedpool/client/internal/artifacts"
	"github.com/shieldedpool/client/internal/artifacts/filecache"
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

// openManager builds a fully wired Manager from the persistent flags,
// mirroring the teacher's own pattern of resolving every dependency once
// at process start (cmd/auctiond/main.go's setup phase) before handing
// off to command logic.
func openManager(ctx context.Context, cctx *cliContext) (*pool.Manager, func(), error) {
	cfg, err := config.Load(cctx.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, LogFile: cfg.LogFile, PrettyConsole: true})
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}

	if err := cfg.CheckCircuitDepths(circuit.PoolDepth, circuit.ApprovedDepth, circuit.SMTDepth); err != nil {
		return nil, nil, err
	}

	sgnr, err := devsigner.Load(cctx.keyfile, cctx.network)
	if err != nil {
		return nil, nil, fmt.Errorf("loading signer keyfile: %w", err)
	}

	var node rpcnode.NodeClient
	if cctx.endpoint != "" {
		node = httpclient.New(cctx.endpoint)
	} else {
		node = fakenode.New()
	}

	stores, closeStores, err := openStores(ctx, cctx)
	if err != nil {
		return nil, nil, err
	}

	prv, err := openProver(ctx, cfg, log, cctx.cacheDir)
	if err != nil {
		closeStores()
		return nil, nil, err
	}

	endpoint := cctx.endpoint
	if endpoint == "" {
		endpoint = "memory://fakenode"
	}
	m := pool.New(cfg, log, node, sgnr, stores, prv, nil, cctx.network, endpoint)
	return m, closeStores, nil
}

func openStores(ctx context.Context, cctx *cliContext) (store.Stores, func(), error) {
	if cctx.postgresDSN == "" {
		return memstore.NewStores(), func() {}, nil
	}
	pg, err := pgstore.Open(ctx, cctx.postgresDSN)
	if err != nil {
		return store.Stores{}, nil, fmt.Errorf("opening postgres store: %w", err)
	}
	if err := pg.Initialize(ctx); err != nil {
		pg.Close()
		return store.Stores{}, nil, fmt.Errorf("initializing postgres schema: %w", err)
	}
	return pg.Stores(), pg.Close, nil
}

// openProver loads proving/verifying keys fetched through the durable
// artifact cache when the config names artifact URLs, and falls back to
// an insecure local dev setup otherwise (prover.InitModules), matching
// the teacher's SetupOrLoadKeys fallback in internal/zerocash/tx.go.
func openProver(ctx context.Context, cfg *config.Config, log zerolog.Logger, cacheDir string) (*prover.Prover, error) {
	prv := prover.New(log)
	if cfg.ProvingKeyURL == "" {
		if err := prv.InitModules(ctx); err != nil {
			return nil, fmt.Errorf("dev groth16 setup: %w", err)
		}
		return prv, nil
	}

	durable, err := filecache.New(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("opening artifact cache directory: %w", err)
	}
	fetcher := artifacts.New(http.DefaultClient, durable, log)

	pkBytes, err := fetcher.Fetch(ctx, artifacts.Name(cfg.CacheName+"-pk"), cfg.ProvingKeyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching proving key: %w", err)
	}
	vkBytes, err := fetcher.Fetch(ctx, artifacts.Name(cfg.CacheName+"-vk"), cfg.ConstraintsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching verifying key: %w", err)
	}
	if err := prv.LoadKeys(ctx, pkBytes, vkBytes); err != nil {
		return nil, fmt.Errorf("loading fetched keys: %w", err)
	}
	return prv, nil
}
