package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	envFiles []string

	rootCmd = &cobra.Command{
		Use:          "seat-pools",
		Short:        "Seat pool allocation service",
		Long:         "Allocates prepaid course seats from organization and team pools, and keeps pool state in sync with the ledger.",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
	rootCmd.AddCommand(
		serveCmd,
		migrateCmd,
		resyncCmd,
		pruneCmd,
		tokenCmd,
	)
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
