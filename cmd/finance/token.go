package main

import (
	"errors"
	"fmt"

	"finance/internal/auth"
	"finance/internal/cli"

	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user (development only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required")
			}

			token, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL).Issue(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user id the token is issued for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
