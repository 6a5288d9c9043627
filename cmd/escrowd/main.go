// Command escrowd runs a tolescrow node and offers offline tools for keys and
// purchase records.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "escrowd",
		Short:         "Three-party escrow ledger node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newKeygenCmd(),
		newPurchaseIDCmd(),
		newInspectCmd(),
	)
	return root
}
