package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doujins-org/embedeval/corpus"
	"github.com/doujins-org/embedeval/embedder"
	"github.com/doujins-org/embedeval/ingest"
	"github.com/doujins-org/embedeval/migrate"
	"github.com/doujins-org/embedeval/pg"
)

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if !isPostgresDSN(input) {
		return fmt.Errorf("--input must be a postgres:// DSN for ingest")
	}
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("--model is required")
	}

	docs, err := ingest.LoadDocuments(docsFile)
	if err != nil {
		return err
	}

	emb, err := embedder.NewOpenAICompatible(embedder.OpenAICompatibleConfig{
		BaseURL:    baseURL,
		APIKey:     os.Getenv(apiKeyEnv),
		Model:      model,
		Dimensions: dimensions,
	})
	if err != nil {
		return err
	}

	pool, err := connect(ctx, input)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrate.ApplyPostgres(ctx, pool, schema, slog.Default()); err != nil {
		return err
	}

	opts := ingest.Options{
		BatchSize:            batchSize,
		MaxConcurrentEmbeds:  concurrency,
		MaxRequestsPerSecond: requestsPerSec,
		RawText:              rawText,
		Logger:               slog.Default(),
	}
	if skipExisting {
		opts.SkipExisting = func(ctx context.Context, variant, m string, keys []corpus.Key) ([]corpus.Key, error) {
			return pg.FilterMissingVectors(ctx, pool, schema, variant, m, keys)
		}
	}
	in, err := ingest.New(emb, pg.NewPostgresStorage(pool, schema), opts)
	if err != nil {
		return err
	}
	if _, err := in.Run(ctx, docs); err != nil {
		return err
	}

	if dimensions > 0 {
		if err := pg.UpsertModels(ctx, pool, schema, []pg.ModelSpec{{Name: model, Dims: dimensions}}); err != nil {
			return fmt.Errorf("register model: %w", err)
		}
	}
	return nil
}
