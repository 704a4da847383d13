package migrate

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/embedeval/migrations"
)

func TestFiles_Ordered(t *testing.T) {
	files, err := Files()
	require.NoError(t, err)
	require.Equal(t, []string{"0001_eval_vectors.up.sql", "0002_eval_runs.up.sql"}, files)

	raw, err := fs.ReadFile(migrations.Postgres, "postgres/"+files[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "CREATE TABLE IF NOT EXISTS eval_vectors"))
}

func TestApplyPostgres_Validation(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, ApplyPostgres(ctx, nil, "", nil))
	assert.Error(t, ApplyPostgres(ctx, nil, "eval", nil))
}
