package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shieldedpool/client/internal/pool"
	"github.com/shieldedpool/client/internal/txbuilder"
	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/note"
)

func newDepositCommand(cctx *cliContext) *cobra.Command {
	var amount uint64
	var aspBlindingHex string
	var allowLocalFallback bool

	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit amount into the pool as a new note to self",
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
			if err := m.Authenticate(ctx, cctx.ownerAddr); err != nil {
				return fmt.Errorf("authenticating: %w", err)
			}

			blinding, err := parseFieldFlag(aspBlindingHex)
			if err != nil {
				return fmt.Errorf("parsing --asp-blinding: %w", err)
			}

			res, err := m.Deposit(ctx, amount, blinding, allowLocalFallback)
			if err != nil {
				return fmt.Errorf("deposit failed: %w", err)
			}
			printResult(res)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to deposit")
	cmd.Flags().StringVar(&aspBlindingHex, "asp-blinding", "", "hex blinding used when this identity's approved-set leaf was inserted")
	cmd.Flags().BoolVar(&allowLocalFallback, "allow-local-fallback", false, "fall back to a local single-leaf approved-set tree if the sender leaf isn't synced yet")
	return cmd
}

func newWithdrawCommand(cctx *cliContext) *cobra.Command {
	var amountOut, changeAmount uint64
	var aspBlindingHex, recipient string
	var spendCommitments []string
	var allowLocalFallback bool

	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Spend owned notes and send amount-out to recipient, external to the pool",
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
			if err := m.Authenticate(ctx, cctx.ownerAddr); err != nil {
				return fmt.Errorf("authenticating: %w", err)
			}

			spends, err := resolveSpends(ctx, m, spendCommitments)
			if err != nil {
				return err
			}
			blinding, err := parseFieldFlag(aspBlindingHex)
			if err != nil {
				return fmt.Errorf("parsing --asp-blinding: %w", err)
			}

			res, err := m.Withdraw(ctx, txbuilder.WithdrawRequest{
				SenderASPBlinding:     blinding,
				Spends:                spends,
				AmountOut:             amountOut,
				ChangeAmount:          changeAmount,
				Recipient:             recipient,
				AllowLocalASPFallback: allowLocalFallback,
			})
			if err != nil {
				return fmt.Errorf("withdraw failed: %w", err)
			}
			printResult(res)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&amountOut, "amount-out", 0, "amount leaving the pool to recipient")
	cmd.Flags().Uint64Var(&changeAmount, "change", 0, "amount returned to self as a new note")
	cmd.Flags().StringVar(&aspBlindingHex, "asp-blinding", "", "hex blinding used when this identity's approved-set leaf was inserted")
	cmd.Flags().StringVar(&recipient, "recipient", "", "external recipient address (defaults to the authenticated owner)")
	cmd.Flags().StringArrayVar(&spendCommitments, "note", nil, "hex commitment of a note to spend (repeat for two inputs)")
	cmd.Flags().BoolVar(&allowLocalFallback, "allow-local-fallback", false, "fall back to a local single-leaf approved-set tree if the sender leaf isn't synced yet")
	return cmd
}

func newTransferCommand(cctx *cliContext) *cobra.Command {
	var aspBlindingHex, recipient, toNotePubkeyHex, toEncryptionKeyHex string
	var toAmount, changeAmount uint64
	var spendCommitments []string
	var allowLocalFallback bool

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Spend owned notes into an output for recipient, entirely inside the pool",
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
			if err := m.Authenticate(ctx, cctx.ownerAddr); err != nil {
				return fmt.Errorf("authenticating: %w", err)
			}

			spends, err := resolveSpends(ctx, m, spendCommitments)
			if err != nil {
				return err
			}
			blinding, err := parseFieldFlag(aspBlindingHex)
			if err != nil {
				return fmt.Errorf("parsing --asp-blinding: %w", err)
			}
			toNotePubkey, err := parseFieldFlag(toNotePubkeyHex)
			if err != nil {
				return fmt.Errorf("parsing --to-note-pubkey: %w", err)
			}
			toEncKey, err := parseEncryptionKeyFlag(toEncryptionKeyHex)
			if err != nil {
				return fmt.Errorf("parsing --to-encryption-key: %w", err)
			}

			var outputs [2]*txbuilder.OutputSpec
			outputs[0] = &txbuilder.OutputSpec{
				Amount:                 toAmount,
				RecipientNotePubkey:    toNotePubkey,
				RecipientEncryptionKey: toEncKey,
			}
			if changeAmount > 0 {
				// RecipientNotePubkey/EncryptionKey are filled in by Manager.Transfer
				// for change outputs addressed to the caller itself.
				selfKeys := &txbuilder.OutputSpec{Amount: changeAmount}
				outputs[1] = selfKeys
			}

			res, err := m.Transfer(ctx, txbuilder.TransferRequest{
				SenderASPBlinding:     blinding,
				Spends:                spends,
				Outputs:               outputs,
				Recipient:             recipient,
				AllowLocalASPFallback: allowLocalFallback,
			})
			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}
			printResult(res)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&toAmount, "amount", 0, "amount sent to recipient's note")
	cmd.Flags().Uint64Var(&changeAmount, "change", 0, "amount returned to self as a new note")
	cmd.Flags().StringVar(&aspBlindingHex, "asp-blinding", "", "hex blinding used when this identity's approved-set leaf was inserted")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient's external address, recorded in ext-data")
	cmd.Flags().StringVar(&toNotePubkeyHex, "to-note-pubkey", "", "recipient's note public key (hex field element)")
	cmd.Flags().StringVar(&toEncryptionKeyHex, "to-encryption-key", "", "recipient's X25519 encryption public key (hex, 32 bytes)")
	cmd.Flags().StringArrayVar(&spendCommitments, "note", nil, "hex commitment of a note to spend (repeat for two inputs)")
	cmd.Flags().BoolVar(&allowLocalFallback, "allow-local-fallback", false, "fall back to a local single-leaf approved-set tree if the sender leaf isn't synced yet")
	return cmd
}

func parseFieldFlag(s string) (field.Element, error) {
	if s == "" {
		return field.Element{}, nil
	}
	return field.HexToField(s)
}

func parseEncryptionKeyFlag(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("encryption key must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// resolveSpends looks up each named commitment in local storage and builds
// the inclusion proof the builder needs, mirroring how a host application
// would resolve a user's note selection into txbuilder.SpendNote values
// before calling Manager.Withdraw/Transfer.
func resolveSpends(ctx context.Context, m *pool.Manager, commitments []string) ([2]*txbuilder.SpendNote, error) {
	var out [2]*txbuilder.SpendNote
	for i, c := range commitments {
		if i >= 2 {
			return out, fmt.Errorf("at most two notes may be spent per transaction")
		}
		rec, ok, err := m.Stores.UserNotes.GetByCommitment(ctx, c)
		if err != nil {
			return out, fmt.Errorf("looking up note %s: %w", c, err)
		}
		if !ok {
			return out, fmt.Errorf("note %s not found in local storage", c)
		}
		if rec.Spent {
			return out, fmt.Errorf("note %s is already spent", c)
		}
		proof, err := m.PoolTree.GetProof(ctx, uint64(rec.LeafIndex))
		if err != nil {
			return out, fmt.Errorf("building inclusion proof for note %s: %w", c, err)
		}
		out[i] = &txbuilder.SpendNote{
			Note: note.Note{
				Amount:          rec.Amount,
				Blinding:        rec.Blinding,
				OwnerNotePubkey: rec.OwnerNotePub,
				LeafIndex:       rec.LeafIndex,
				HasLeafIndex:    true,
				Spent:           rec.Spent,
				SpentAtLedger:   rec.SpentAtLedger,
				IsReceived:      rec.IsReceived,
				CreatedAtLedger: rec.CreatedAt,
				OwnerAddress:    rec.OwnerAddress,
			},
			Proof: proof,
		}
	}
	return out, nil
}

func printResult(res txbuilder.Result) {
	fmt.Printf("submitted: root=%x\n", res.Submit.Root)
	fmt.Printf("build duration: %s, prove duration: %s\n", res.BuildDuration, res.ProveDuration)
	for i, c := range res.OutputCommitments {
		fmt.Printf("output[%d] commitment: %s\n", i, field.FieldToHex(c))
	}
}
