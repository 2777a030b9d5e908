package main

import (
	"fmt"

	"github.com/spf13/cobra"

	poolsync "github.com/shieldedpool/client/internal/sync"
	"github.com/shieldedpool/client/pkg/field"
)

func newStatusCommand(cctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Initialize the core and report tree roots and sync counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, closeFn, err := openManager(ctx, cctx)
			if err != nil {
				return err
			}
			defer closeFn()
			defer m.Close()

			if err := m.Initialize(ctx); err != nil {
				return fmt.Errorf("initializing: %w", err)
			}

			fmt.Printf("network:        %s\n", cctx.network)
			fmt.Printf("pool root:      %s\n", field.FieldToHex(m.PoolTree.Root()))
			fmt.Printf("approved root:  %s\n", field.FieldToHex(m.ASPTree.Root()))
			return nil
		},
	}
}

func newSyncCommand(cctx *cliContext) *cobra.Command {
	var forceStream string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass against the configured node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, closeFn, err := openManager(ctx, cctx)
			if err != nil {
				return err
			}
			defer closeFn()
			defer m.Close()

			if err := m.Initialize(ctx); err != nil {
				return fmt.Errorf("initializing: %w", err)
			}

			if forceStream != "" {
				stream := poolsync.StreamPool
				if forceStream == "asp" {
					stream = poolsync.StreamASP
				}
				if err := m.ForceResync(ctx, stream); err != nil {
					return fmt.Errorf("forcing resync: %w", err)
				}
			}

			counts, err := m.Sync(ctx)
			if err != nil {
				return fmt.Errorf("syncing: %w", err)
			}
			fmt.Printf("pool inserted:       %d\n", counts.PoolInserted)
			fmt.Printf("approved inserted:   %d\n", counts.ApprovedInserted)
			fmt.Printf("nullifiers observed: %d\n", counts.NullifiersObserved)
			fmt.Printf("notes discovered:    %d\n", counts.NotesDiscovered)
			fmt.Printf("notes spent:         %d\n", counts.NotesSpent)
			return nil
		},
	}

	cmd.Flags().StringVar(&forceStream, "force", "", "force a full resync of one stream before syncing: \"pool\" or \"asp\"")
	return cmd
}
