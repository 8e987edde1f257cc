package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/training-seat-pools/internal/config"
	"github.com/iliyamo/training-seat-pools/internal/utils"
)

var (
	tokenRole string
	tokenTTL  time.Duration

	tokenCmd = &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Mint a bearer token for a service or operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			if err := cfg.RequireJWT(); err != nil {
				return err
			}
			ttl := tokenTTL
			if ttl <= 0 {
				ttl = cfg.JWT.AccessTTL()
			}
			tok, err := utils.NewAccessToken(cfg.JWT.Secret, cfg.JWT.Issuer, args[0], tokenRole, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), tok.Token)
			c.PrintErrf("expires %s\n", tok.Exp.Format(time.RFC3339))
			return nil
		},
	}
)

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", utils.RoleManager, "role claim: ADMIN, MANAGER or VIEWER")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default ACCESS_TOKEN_TTL_MIN)")
}
