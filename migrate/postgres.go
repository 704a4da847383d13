package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doujins-org/embedeval/migrations"
	"github.com/doujins-org/embedeval/pg"
)

// Files lists the embedded Postgres up-migrations in apply order.
func Files() ([]string, error) {
	dirEntries, err := fs.ReadDir(migrations.Postgres, "postgres")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasSuffix(name, ".up.sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ApplyPostgres creates schema if needed and applies every embedded migration
// to it in one transaction. Migrations are idempotent, so re-running is safe.
func ApplyPostgres(ctx context.Context, pool *pgxpool.Pool, schema string, logger *slog.Logger) error {
	if strings.TrimSpace(schema) == "" {
		return fmt.Errorf("schema is required")
	}
	if pool == nil {
		return fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	quotedSchema, err := pg.QuoteSchema(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	files, err := Files()
	if err != nil {
		return err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire pg connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quotedSchema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path = %s, public", quotedSchema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	for _, f := range files {
		raw, err := fs.ReadFile(migrations.Postgres, "postgres/"+f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := tx.Exec(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		logger.Debug("migration applied", "schema", schema, "file", f)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logger.Info("migrations applied", "schema", schema, "count", len(files))
	return nil
}
