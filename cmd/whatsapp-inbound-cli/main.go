package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "whatsapp-inbound-cli",
		Short:         "Operate the WhatsApp inbound webhook service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("WA_INBOUND_CONFIG", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $WA_INBOUND_CONFIG or ~/.config/whatsapp-inbound/config.toml)")

	root.AddCommand(
		newStatusCmd(),
		newMigrateCmd(),
		newReplayCmd(),
		newMessageCmd(),
		newURLsCmd(),
		newFunnelCmd(),
		newSignCmd(),
	)
	return root
}
