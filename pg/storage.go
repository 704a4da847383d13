package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/doujins-org/embedeval/corpus"
)

const evalVectorsTable = "eval_vectors"

// PostgresStorage writes embeddings into `<schema>.eval_vectors` as halfvec.
// It satisfies ingest.Storage.
type PostgresStorage struct {
	pool   *pgxpool.Pool
	schema string
}

func NewPostgresStorage(pool *pgxpool.Pool, schema string) *PostgresStorage {
	return &PostgresStorage{pool: pool, schema: schema}
}

// UpsertVector stores the embedding of one (entity, variant) under model.
// Re-ingesting keeps the row's original position in load order.
func (s *PostgresStorage) UpsertVector(ctx context.Context, key corpus.Key, variant string, model string, embedding []float32) error {
	if s.pool == nil {
		return fmt.Errorf("pool is required")
	}
	qs, err := quoteIdent(s.schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if strings.TrimSpace(variant) == "" || strings.TrimSpace(model) == "" {
		return fmt.Errorf("variant and model are required")
	}
	if strings.TrimSpace(key.ID) == "" {
		return fmt.Errorf("entity id is required")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("embedding is empty")
	}

	q := fmt.Sprintf(`
		INSERT INTO %s.%s (entity_group, entity_id, variant, model, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (entity_group, entity_id, variant, model) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_at = now()
	`, qs, evalVectorsTable)

	_, err = s.pool.Exec(ctx, q, key.Group, key.ID, variant, model, pgvector.NewHalfVector(embedding))
	return err
}
