package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ModelSpec registers an embedding model and its fixed dimension.
type ModelSpec struct {
	Name string // stored in eval_models.model
	Dims int
}

// UpsertModels syncs model specs into `<schema>.eval_models`. Unlike vectors,
// models are never pruned: old runs stay loadable.
func UpsertModels(ctx context.Context, pool *pgxpool.Pool, schema string, models []ModelSpec) error {
	if pool == nil {
		return fmt.Errorf("pool is required")
	}
	qs, err := quoteIdent(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s.eval_models (model, dims, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (model) DO UPDATE SET
			dims = EXCLUDED.dims,
			updated_at = now()
	`, qs)
	for _, m := range models {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return fmt.Errorf("model name is required")
		}
		if m.Dims <= 0 {
			return fmt.Errorf("model %q dims must be > 0", name)
		}
		if _, err := pool.Exec(ctx, q, name, m.Dims); err != nil {
			return err
		}
	}
	return nil
}

// ModelDims returns the registered dimension of model, or 0 when the model is
// unknown.
func ModelDims(ctx context.Context, pool *pgxpool.Pool, schema string, model string) (int, error) {
	if pool == nil {
		return 0, fmt.Errorf("pool is required")
	}
	qs, err := quoteIdent(schema)
	if err != nil {
		return 0, fmt.Errorf("invalid schema: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return 0, fmt.Errorf("model is required")
	}

	var dims int
	q := fmt.Sprintf(`SELECT dims FROM %s.eval_models WHERE model = $1`, qs)
	if err := pool.QueryRow(ctx, q, model).Scan(&dims); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return dims, nil
}
