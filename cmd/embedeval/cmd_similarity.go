package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/doujins-org/embedeval/similarity"
)

func runSimilarity(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	columns := append([]string{simTarget}, simMatches...)
	columns = append(columns, simExtras...)
	c, pool, err := loadCorpus(ctx, storedVariants(columns))
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	stats, err := similarity.Compute(ctx, c, similarity.Options{
		Target:  simTarget,
		Matches: simMatches,
		Extras:  simExtras,
		Logger:  slog.Default(),
	})
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if simOut != "" {
		f, err := os.Create(simOut)
		if err != nil {
			return fmt.Errorf("create similarity report: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := similarity.WriteCSV(w, stats, simExtras); err != nil {
		return fmt.Errorf("write similarity report: %w", err)
	}
	slog.Info("similarity report written", "groups", len(stats))
	return nil
}
