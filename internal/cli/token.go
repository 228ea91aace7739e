package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatsync/internal/config"
	"chatsync/internal/middleware"
)

// NewTokenCommand issues a session token for local testing.
func NewTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print a signed session token for a user id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := middleware.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
