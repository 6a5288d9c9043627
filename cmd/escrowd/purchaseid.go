package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tolelom/tolescrow/vm/modules/escrow"
)

func newPurchaseIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purchase-id <buyer> <item-id>",
		Short: "Derive the purchase id of a buyer's item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("item id: %w", err)
			}
			id, err := escrow.PurchaseID(args[0], itemID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.Hex())
			return nil
		},
	}
}
