package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/doujins-org/embedeval/corpus"
)

// DeleteVectorsForEntity deletes all embeddings (all variants) of an entity
// under model.
func DeleteVectorsForEntity(ctx context.Context, pool *pgxpool.Pool, schema string, key corpus.Key, model string) error {
	if pool == nil {
		return fmt.Errorf("pool is required")
	}
	if strings.TrimSpace(schema) == "" {
		return fmt.Errorf("schema is required")
	}
	if strings.TrimSpace(key.ID) == "" || strings.TrimSpace(model) == "" {
		return nil
	}
	qs, err := quoteIdent(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	q := fmt.Sprintf(`
		DELETE FROM %s.eval_vectors
		WHERE entity_group = $1 AND entity_id = $2 AND model = $3
	`, qs)
	_, err = pool.Exec(ctx, q, key.Group, key.ID, model)
	return err
}

// FilterMissingVectors returns the subset of keys that do NOT currently have an
// embedding for (variant, model), in input order.
func FilterMissingVectors(ctx context.Context, pool *pgxpool.Pool, schema string, variant string, model string, keys []corpus.Key) ([]corpus.Key, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if strings.TrimSpace(schema) == "" {
		return nil, fmt.Errorf("schema is required")
	}
	if strings.TrimSpace(variant) == "" || strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("variant and model are required")
	}
	if len(keys) == 0 {
		return nil, nil
	}
	qs, err := quoteIdent(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	groups := make([]string, len(keys))
	ids := make([]string, len(keys))
	for i, k := range keys {
		groups[i] = k.Group
		ids[i] = k.ID
	}
	q := fmt.Sprintf(`
		WITH keys AS (
			SELECT g AS entity_group, i AS entity_id
			FROM unnest($3::text[], $4::text[]) AS t(g, i)
		)
		SELECT keys.entity_group, keys.entity_id
		FROM keys
		JOIN %s.eval_vectors ev
			ON ev.entity_group = keys.entity_group
			AND ev.entity_id = keys.entity_id
			AND ev.variant = $1
			AND ev.model = $2
	`, qs)
	rows, err := pool.Query(ctx, q, variant, model, groups, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := map[corpus.Key]struct{}{}
	for rows.Next() {
		var k corpus.Key
		if err := rows.Scan(&k.Group, &k.ID); err != nil {
			return nil, err
		}
		present[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []corpus.Key
	for _, k := range keys {
		if _, ok := present[k]; !ok {
			out = append(out, k)
		}
	}
	return out, nil
}

type LoadOptions struct {
	Model string
	// Variants restricts the load; empty loads every variant of Model.
	Variants []string
	// Groups restricts the load to these entity groups; empty loads all.
	Groups []string
	// Merge is applied to the stored records exactly as for a record-form file.
	Merge corpus.MergeOptions
}

// LoadRecords reads stored embeddings of one model in insertion order.
func LoadRecords(ctx context.Context, pool *pgxpool.Pool, schema string, opts LoadOptions) ([]corpus.Record, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if strings.TrimSpace(schema) == "" {
		return nil, fmt.Errorf("schema is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	qs, err := quoteIdent(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	var variants, groups []string
	if len(opts.Variants) > 0 {
		variants = opts.Variants
	}
	if len(opts.Groups) > 0 {
		groups = opts.Groups
	}
	q := fmt.Sprintf(`
		SELECT entity_group, entity_id, variant, embedding::text
		FROM %s.eval_vectors
		WHERE model = $1
			AND ($2::text[] IS NULL OR variant = ANY($2::text[]))
			AND ($3::text[] IS NULL OR entity_group = ANY($3::text[]))
		ORDER BY id
	`, qs)
	rows, err := pool.Query(ctx, q, opts.Model, variants, groups)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []corpus.Record
	for rows.Next() {
		var (
			rec corpus.Record
			hv  pgvector.HalfVector
		)
		if err := rows.Scan(&rec.Group, &rec.ID, &rec.Variant, &hv); err != nil {
			return nil, err
		}
		rec.Vector = hv.Slice()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadCorpus reads stored embeddings and merges them into a corpus.
func LoadCorpus(ctx context.Context, pool *pgxpool.Pool, schema string, opts LoadOptions) (*corpus.Corpus, corpus.MergeStats, error) {
	records, err := LoadRecords(ctx, pool, schema, opts)
	if err != nil {
		return nil, corpus.MergeStats{}, fmt.Errorf("load vectors: %w", err)
	}
	return corpus.Merge(records, opts.Merge)
}
