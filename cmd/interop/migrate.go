package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/suas/interop/log"
	"github.com/suas/interop/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the mission tables",
	Long:  `Connect to the configured database and create any missing mission tables and indexes.`,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	lg := log.New(cfg.LogLevel, cfg.LogDir)
	ctx := cmd.Context()

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	lg.Info("schema ready", slog.Bool("sqlite", isSQLite(cfg.DatabaseURL)))
	return nil
}
