package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shieldedpool/client/internal/config"
)

func newInitCommand(cctx *cliContext) *cobra.Command {
	var smtDepth, poolDepth, approvedDepth uint32
	var circuitBinaryURL, provingKeyURL, constraintsURL string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file, or update artifact URLs on an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cctx.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cmd.Flags().Changed("pool-depth") {
				cfg.PoolTreeDepth = poolDepth
			}
			if cmd.Flags().Changed("approved-depth") {
				cfg.ApprovedTreeDepth = approvedDepth
			}
			if cmd.Flags().Changed("smt-depth") {
				cfg.SMTDepth = smtDepth
			}
			if circuitBinaryURL != "" {
				cfg.CircuitBinaryURL = circuitBinaryURL
			}
			if provingKeyURL != "" {
				cfg.ProvingKeyURL = provingKeyURL
			}
			if constraintsURL != "" {
				cfg.ConstraintsURL = constraintsURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg, cctx.configPath); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Printf("wrote %s\n", cctx.configPath)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&poolDepth, "pool-depth", 20, "pool tree depth (must match the reference circuit)")
	cmd.Flags().Uint32Var(&approvedDepth, "approved-depth", 20, "approved-set tree depth (must match the reference circuit)")
	cmd.Flags().Uint32Var(&smtDepth, "smt-depth", 20, "blocked-set SMT depth (must match the reference circuit)")
	cmd.Flags().StringVar(&circuitBinaryURL, "circuit-binary-url", "", "witness generator artifact URL")
	cmd.Flags().StringVar(&provingKeyURL, "proving-key-url", "", "Groth16 proving key artifact URL (empty uses an insecure local dev setup)")
	cmd.Flags().StringVar(&constraintsURL, "verifying-key-url", "", "Groth16 verifying key artifact URL")
	return cmd
}
