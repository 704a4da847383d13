package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/doujins-org/embedeval/compare"
	"github.com/doujins-org/embedeval/pg"
	"github.com/doujins-org/embedeval/report"
	"github.com/doujins-org/embedeval/runner"
)

func loadRegistry() (*compare.Registry, error) {
	reg := compare.DefaultRegistry()
	if typesFile != "" {
		var err error
		reg, err = compare.LoadFile(typesFile)
		if err != nil {
			return nil, err
		}
	}
	if len(onlyTypes) > 0 {
		return reg.Select(onlyTypes...)
	}
	return reg, nil
}

func registryVariants(reg *compare.Registry) []string {
	seen := map[string]bool{}
	var out []string
	for _, ct := range reg.Types() {
		for _, v := range ct.Variants() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if saveRun && !isPostgresDSN(input) {
		return fmt.Errorf("--save needs a postgres:// --input")
	}

	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	c, pool, err := loadCorpus(ctx, storedVariants(registryVariants(reg)))
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	metrics, err := runner.NewMetrics()
	if err != nil {
		return err
	}
	r, err := runner.New(runner.Options{
		PoolSize:        poolSize,
		Ks:              ks,
		Seed:            seed,
		Workers:         workers,
		ContinueOnError: continueOnError,
		Logger:          slog.Default(),
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}

	rep, err := r.Run(ctx, c, reg)
	if err != nil {
		return err
	}

	if csvOut != "" {
		if err := report.WriteCSVFile(csvOut, rep); err != nil {
			return err
		}
		slog.Info("report written", "path", csvOut)
	}
	if jsonOut != "" {
		f, err := os.Create(jsonOut)
		if err != nil {
			return fmt.Errorf("create json report: %w", err)
		}
		if err := report.WriteJSON(f, rep); err != nil {
			_ = f.Close()
			return fmt.Errorf("write json report: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		slog.Info("report written", "path", jsonOut)
	}
	if metricsFile != "" {
		if err := metrics.WriteTextfile(metricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if saveRun {
		if err := pg.SaveReport(ctx, pool, schema, model, rep); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		slog.Info("run saved", "run_id", rep.RunID, "schema", schema)
	}

	if csvOut == "" && jsonOut == "" {
		if err := report.WriteCSV(cmd.OutOrStdout(), rep); err != nil {
			return err
		}
	}
	return rep.Err()
}
