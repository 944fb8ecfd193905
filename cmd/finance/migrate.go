package main

import (
	"fmt"
	"os"
	"path/filepath"

	"finance/internal/backend"
	"finance/internal/cli"
	"finance/internal/storage/sqlstore"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured SQL backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			logger := cli.SetupLogger(cfg)

			bcfg, err := backend.FromAppConfig(cfg)
			if err != nil {
				return err
			}
			if err := bcfg.Validate(); err != nil {
				return err
			}

			switch bcfg.Type {
			case backend.SQLiteBackend:
				if err := os.MkdirAll(filepath.Dir(bcfg.SQLiteDBPath), 0755); err != nil {
					return fmt.Errorf("create db directory: %w", err)
				}
				err = sqlstore.RunMigrations(sqlstore.SQLite, sqlstore.SQLiteDSN(bcfg.SQLiteDBPath))
			case backend.PostgresBackend:
				err = sqlstore.RunMigrations(sqlstore.Postgres, bcfg.DatabaseURL)
			default:
				logger.Info("Nothing to migrate", "backend", bcfg.Type.String())
				return nil
			}
			if err != nil {
				return err
			}

			logger.Info("Schema is up to date", "backend", bcfg.Type.String())
			return nil
		},
	}
}
