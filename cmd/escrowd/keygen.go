package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tolelom/tolescrow/wallet"
)

func newKeygenCmd() *cobra.Command {
	var keyPath string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encrypted ed25519 keystore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(keyPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", keyPath)
			}
			password, err := readPassword(true)
			if err != nil {
				return err
			}
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(keyPath, password, w.PrivKey()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\nsaved to:   %s\n", w.PubKey(), keyPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "validator.key", "keystore output path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}
