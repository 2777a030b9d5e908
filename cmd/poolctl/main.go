// Command poolctl is a standalone command-line client for the shielded
// pool core (internal/pool.Manager), built with github.com/spf13/cobra's
// command-tree pattern (grounded on
// _examples/orbas1-Synnergy/synnergy-network/cmd/cli/wallet.go: a root
// command, persistent flags resolved once in a shared context, and one
// file per command group). The teacher itself (cmd/auctiond/main.go) is a
// fixed demo script rather than a CLI, so this entrypoint's shape comes
// from the pack's cobra example instead.
//
// poolctl drives the core directly against either a remote node
// (--endpoint) or, for local experimentation, a rpcnode/fakenode instance
// started empty (no --endpoint given); wallet signing is satisfied by a
// local dev-only ed25519 keyfile (internal/signer/devsigner) since the
// real wallet integration is out of scope (spec §1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// cliContext holds the flags every subcommand resolves a Manager from.
type cliContext struct {
	configPath  string
	network     string
	endpoint    string
	keyfile     string
	cacheDir    string
	postgresDSN string
	ownerAddr   string
}

func main() {
	cctx := &cliContext{}
	root := &cobra.Command{
		Use:   "poolctl",
		Short: "Command-line client for the shielded pool core",
	}

	root.PersistentFlags().StringVar(&cctx.configPath, "config", "poolctl.config.json", "path to the core's JSON config file")
	root.PersistentFlags().StringVar(&cctx.network, "network", "testnet", "network passphrase/identifier to authenticate against")
	root.PersistentFlags().StringVar(&cctx.endpoint, "endpoint", "", "remote node JSON-RPC endpoint; empty runs against an in-memory fake node")
	root.PersistentFlags().StringVar(&cctx.keyfile, "keyfile", "poolctl.key", "path to the local ed25519 signer keyfile")
	root.PersistentFlags().StringVar(&cctx.cacheDir, "cache-dir", "poolctl-cache", "directory for durable proving-artifact cache")
	root.PersistentFlags().StringVar(&cctx.postgresDSN, "postgres-dsn", "", "Postgres connection string; empty uses the in-memory store")
	root.PersistentFlags().StringVar(&cctx.ownerAddr, "owner", "", "owner address to authenticate as (used as given; empty authenticates an empty owner address)")

	root.AddCommand(
		newInitCommand(cctx),
		newStatusCommand(cctx),
		newSyncCommand(cctx),
		newNotesCommand(cctx),
		newDepositCommand(cctx),
		newWithdrawCommand(cctx),
		newTransferCommand(cctx),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
