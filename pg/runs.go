package pg

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doujins-org/embedeval/runner"
)

// SaveReport records a finished run and its per-type results in
// `<schema>.eval_runs` / `<schema>.eval_run_results`. Types that produced no
// score store NULL metrics.
func SaveReport(ctx context.Context, pool *pgxpool.Pool, schema string, model string, rep *runner.Report) error {
	if pool == nil {
		return fmt.Errorf("pool is required")
	}
	if rep == nil {
		return fmt.Errorf("report is required")
	}
	qs, err := quoteIdent(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var mrrAvg, recallAvg *float64
	var recallK *int
	if rep.Summary.Types > 0 {
		mrrAvg, recallAvg, recallK = &rep.Summary.MRRAvg, &rep.Summary.RecallAvg, &rep.Summary.RecallK
	}
	qRun := fmt.Sprintf(`
		INSERT INTO %s.eval_runs (run_id, model, seed, pool_size, ks, started_at, elapsed_ms, mrr_avg, recall_k, recall_avg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, qs)
	if _, err := tx.Exec(ctx, qRun,
		rep.RunID, model, rep.Seed, rep.PoolSize, rep.Ks, rep.Started, rep.Elapsed.Milliseconds(),
		mrrAvg, recallK, recallAvg,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	qResult := fmt.Sprintf(`
		INSERT INTO %s.eval_run_results (run_id, type, target, matches, rows_total, rows_skipped, tasks, mrr, recall, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, qs)
	batch := &pgx.Batch{}
	for _, res := range rep.Results {
		var (
			mrr    *float64
			recall map[string]float64
			errMsg *string
		)
		if res.Err != nil {
			msg := res.Err.Error()
			errMsg = &msg
		} else if res.Tasks > 0 {
			v := res.MRR
			mrr = &v
			recall = make(map[string]float64, len(res.Recall))
			for k, r := range res.Recall {
				recall[strconv.Itoa(k)] = r
			}
		}
		batch.Queue(qResult, rep.RunID, res.Type, res.Target, res.Matches, res.Rows, res.Skipped, res.Tasks, mrr, recall, errMsg)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
