package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, _ []string) error {
		ctx := c.Context()
		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.migrate(ctx); err != nil {
			return err
		}
		c.Println("migrations applied")
		return nil
	},
}
