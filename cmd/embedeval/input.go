package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doujins-org/embedeval/corpus"
	"github.com/doujins-org/embedeval/pg"
)

const apiKeyEnv = "EMBEDEVAL_API_KEY"

func isPostgresDSN(s string) bool {
	return strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://")
}

func mergeOptions() corpus.MergeOptions {
	opts := corpus.MergeOptions{Required: required, NoFlagFold: noFlagFold}
	if noBypass {
		opts.Bypass = []string{}
	}
	return opts
}

func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// loadCorpus reads the corpus named by --input. The pool is returned for
// Postgres input so callers can reuse it; it is nil for file input.
func loadCorpus(ctx context.Context, variants []string) (*corpus.Corpus, *pgxpool.Pool, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil, fmt.Errorf("--input is required")
	}

	var (
		c     *corpus.Corpus
		stats corpus.MergeStats
		pool  *pgxpool.Pool
		err   error
	)
	if isPostgresDSN(input) {
		if strings.TrimSpace(model) == "" {
			return nil, nil, fmt.Errorf("--model is required for postgres input")
		}
		pool, err = connect(ctx, input)
		if err != nil {
			return nil, nil, err
		}
		c, stats, err = pg.LoadCorpus(ctx, pool, schema, pg.LoadOptions{
			Model:    model,
			Variants: variants,
			Merge:    mergeOptions(),
		})
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
	} else {
		if _, err := os.Stat(input); err != nil {
			return nil, nil, fmt.Errorf("corpus input: %w", err)
		}
		c, stats, err = corpus.LoadFile(input, mergeOptions())
		if err != nil {
			return nil, nil, err
		}
	}

	slog.Info("corpus loaded",
		"rows", c.Len(), "dim", c.Dim(), "variants", strings.Join(c.Variants(), ","),
		"records", stats.Records, "bypassed", stats.Bypassed, "duplicates", stats.Duplicates, "incomplete", stats.Incomplete)
	return c, pool, nil
}

// storedVariants expands match variants with their flag columns' stored
// names: a "<v>Flag" column is stored under variant v.
func storedVariants(columns []string) []string {
	if noFlagFold {
		return columns
	}
	seen := map[string]bool{}
	var out []string
	for _, col := range columns {
		v := strings.TrimSuffix(col, "Flag")
		if v == "" {
			v = col
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
