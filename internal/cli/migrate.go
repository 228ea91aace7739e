package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"chatsync/internal/config"
	"chatsync/internal/docstore/pgstore"
	"chatsync/internal/logging"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		Long: `Create the users, chats and messages tables and the change
notification trigger. Running it again is harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.Service(logging.New(cfg.LogLevel, cfg.LogFormat), cfg.ServiceName, cfg.Environment)

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer db.Close()

			if err := pgstore.Migrate(ctx, db); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}
