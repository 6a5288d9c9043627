package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/storage"
	"github.com/tolelom/tolescrow/vm/modules/escrow"
)

func newInspectCmd() *cobra.Command {
	var (
		dataDir string
		id      string
		buyer   string
		itemID  uint64
		history bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a purchase record from a stopped node's data directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				if buyer == "" {
					return errors.New("either --id or --buyer with --item is required")
				}
				h, err := escrow.PurchaseID(buyer, itemID)
				if err != nil {
					return err
				}
				id = h.Hex()
			}

			db, err := storage.OpenLevelDBReadOnly(filepath.Join(dataDir, "chain"))
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			state := storage.NewStateDB(db)

			var out any
			if history {
				out, err = escrow.History(state, id)
			} else {
				var p *core.Purchase
				p, err = escrow.Lookup(state, id)
				if errors.Is(err, core.ErrNotFound) {
					return fmt.Errorf("purchase %s not found", id)
				}
				out = p
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "node data directory")
	cmd.Flags().StringVar(&id, "id", "", "purchase id")
	cmd.Flags().StringVar(&buyer, "buyer", "", "buyer identity (with --item)")
	cmd.Flags().Uint64Var(&itemID, "item", 0, "item id (with --buyer)")
	cmd.Flags().BoolVar(&history, "history", false, "print archived rounds instead of the live record")
	return cmd
}
