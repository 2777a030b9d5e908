package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shieldedpool/client/pkg/field"
	"github.com/shieldedpool/client/pkg/note"
)

func newNotesCommand(cctx *cliContext) *cobra.Command {
	root := &cobra.Command{
		Use:   "notes",
		Short: "List, export, or import notes owned by the authenticated identity",
	}
	root.AddCommand(newNotesListCommand(cctx), newNotesExportCommand(cctx), newNotesImportCommand(cctx))
	return root
}

func newNotesListCommand(cctx *cliContext) *cobra.Command {
	var unspentOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes held in local storage",
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

			records, err := m.ListNotes(ctx, unspentOnly)
			if err != nil {
				return fmt.Errorf("listing notes: %w", err)
			}
			for _, r := range records {
				fmt.Printf("%s  amount=%d  spent=%v  leaf=%d\n", field.FieldToHex(r.Commitment), r.Amount, r.Spent, r.LeafIndex)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&unspentOnly, "unspent-only", false, "only list unspent notes")
	return cmd
}

func newNotesExportCommand(cctx *cliContext) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all owned notes to a portable JSON document",
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

			doc, err := m.ExportNotes(ctx)
			if err != nil {
				return fmt.Errorf("exporting notes: %w", err)
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling export document: %w", err)
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
			fmt.Printf("exported %d notes to %s\n", len(doc.Notes), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "notes-export.json", "output file path")
	return cmd
}

func newNotesImportCommand(cctx *cliContext) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import notes from a previously exported JSON document",
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

			data, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", inPath, err)
			}
			var doc note.ExportDocument
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parsing %s: %w", inPath, err)
			}

			n, err := m.ImportNotes(ctx, doc)
			if err != nil {
				return fmt.Errorf("importing notes: %w", err)
			}
			fmt.Printf("imported %d notes\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "notes-export.json", "input file path")
	return cmd
}
