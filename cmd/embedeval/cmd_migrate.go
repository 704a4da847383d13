package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/doujins-org/embedeval/migrate"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	if !isPostgresDSN(input) {
		return fmt.Errorf("--input must be a postgres:// DSN for migrate")
	}
	pool, err := connect(cmd.Context(), input)
	if err != nil {
		return err
	}
	defer pool.Close()
	return migrate.ApplyPostgres(cmd.Context(), pool, schema, slog.Default())
}
