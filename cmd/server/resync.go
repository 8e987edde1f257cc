package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iliyamo/training-seat-pools/internal/engine"
)

var (
	resyncJSON bool

	resyncCmd = &cobra.Command{
		Use:   "resync",
		Short: "Run one resync pass and print its summary",
		Long:  "Expires lapsed pools, activates due drafts, warns about pools closing soon, corrects drifted seat counters and prunes old events.",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			s, runErr := engine.NewResyncer(a.engine()).Run(ctx)
			if resyncJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(s); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(c.OutOrStdout(), s.String())
				for _, e := range s.Errors {
					fmt.Fprintf(c.OutOrStdout(), "  pool %d [%s]: %s\n", e.PoolID, e.Phase, e.Error)
				}
			}
			return runErr
		},
	}

	pruneCmd = &cobra.Command{
		Use:   "prune-events",
		Short: "Delete events older than DATA_RETENTION_DAYS",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.engine().Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "pruned %s events\n", humanize.Comma(n))
			return nil
		},
	}
)

func init() {
	resyncCmd.Flags().BoolVar(&resyncJSON, "json", false, "print the summary as JSON")
}
