package tasks

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/embedeval/compare"
	"github.com/doujins-org/embedeval/corpus"
)

// buildCorpus makes n entities whose O0 vector is {i, 1, 0} and O3 vector is
// {i, 0, 1}, so every vector identifies its row and variant.
func buildCorpus(t *testing.T, n int) *corpus.Corpus {
	t.Helper()
	c := corpus.New("O0", "O3")
	for i := 0; i < n; i++ {
		cells := map[string]corpus.Vector{
			"O0": {float32(i), 1, 0},
			"O3": {float32(i), 0, 1},
		}
		require.NoError(t, c.Add(corpus.Key{ID: fmt.Sprintf("f%03d", i)}, cells))
	}
	return c
}

var o0o3 = compare.ComparisonType{Name: "O0-O3", TargetVariant: "O0", MatchVariants: []string{"O3"}}

func TestBuild_PoolComposition(t *testing.T) {
	c := buildCorpus(t, 100)
	res, err := Build(context.Background(), c, o0o3, 32, SeededSource(1))
	require.NoError(t, err)
	require.Len(t, res.Tasks, 100)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 100, res.Rows)

	for i, task := range res.Tasks {
		require.NoError(t, task.Validate())
		require.Len(t, task.Pool, 32)
		assert.Equal(t, []int{0}, task.CorrectIndices)
		assert.Equal(t, corpus.Vector{float32(i), 0, 1}, task.Pool[0], "correct vector must lead the pool")
		assert.Equal(t, corpus.Vector{float32(i), 1, 0}, task.Target)

		seen := map[float32]bool{}
		for _, neg := range task.Pool[1:] {
			assert.Equal(t, float32(1), neg[1], "negatives come from the target column")
			assert.NotEqual(t, float32(i), neg[0], "own row drawn as negative")
			assert.False(t, seen[neg[0]], "negative drawn twice")
			seen[neg[0]] = true
		}
	}
}

func TestBuild_SkipsMissing(t *testing.T) {
	c := corpus.New("O0", "O3_split", "O3_splitFlag")
	for i := 0; i < 10; i++ {
		cells := map[string]corpus.Vector{
			"O0":           {float32(i), 1},
			"O3_split":     {float32(i), 2},
			"O3_splitFlag": {float32(i), 3},
		}
		switch i {
		case 0:
			cells["O0"] = nil
		case 1:
			cells["O3_splitFlag"] = nil
		case 2:
			delete(cells, "O3_split")
		}
		require.NoError(t, c.Add(corpus.Key{ID: fmt.Sprintf("f%d", i)}, cells))
	}
	ct := compare.ComparisonType{Name: "O0-O3_split", TargetVariant: "O0", MatchVariants: []string{"O3_split", "O3_splitFlag"}}

	res, err := Build(context.Background(), c, ct, 5, SharedSource(rand.New(rand.NewSource(3))))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	require.Len(t, res.Tasks, 7)
	for _, task := range res.Tasks {
		assert.Equal(t, []int{0, 1}, task.CorrectIndices)
		assert.Equal(t, float32(2), task.Pool[0][1])
		assert.Equal(t, float32(3), task.Pool[1][1])
		assert.Len(t, task.Pool, 5)
	}
}

func TestBuild_InsufficientPool(t *testing.T) {
	c := buildCorpus(t, 10)
	_, err := Build(context.Background(), c, o0o3, 11, SeededSource(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientPool)
	assert.ErrorIs(t, err, corpus.ErrTooFewRows)

	var pe *PoolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "O0-O3", pe.Type)
	assert.Equal(t, "O0", pe.Variant)

	// Nine other rows fill exactly a pool of ten.
	res, err := Build(context.Background(), c, o0o3, 10, SeededSource(1))
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 10)
}

func TestBuild_SeededSourceIsReproducible(t *testing.T) {
	c := buildCorpus(t, 50)
	a, err := Build(context.Background(), c, o0o3, 8, SeededSource(99))
	require.NoError(t, err)
	b, err := Build(context.Background(), c, o0o3, 8, SeededSource(99))
	require.NoError(t, err)
	assert.Equal(t, a.Tasks, b.Tasks)
}

func TestBuild_SeededSourceDiffersPerType(t *testing.T) {
	c := buildCorpus(t, 100)
	other := compare.ComparisonType{Name: "O0-O3_alt", TargetVariant: "O0", MatchVariants: []string{"O3"}}

	a, err := Build(context.Background(), c, o0o3, 32, SeededSource(42))
	require.NoError(t, err)
	b, err := Build(context.Background(), c, other, 32, SeededSource(42))
	require.NoError(t, err)
	require.Len(t, a.Tasks, 100)
	require.Len(t, b.Tasks, 100)

	negatives := func(task Task) map[float32]bool {
		out := map[float32]bool{}
		for _, v := range task.Pool[1:] {
			out[v[0]] = true
		}
		return out
	}
	same := 0
	for i := range a.Tasks {
		if assert.ObjectsAreEqual(negatives(a.Tasks[i]), negatives(b.Tasks[i])) {
			same++
		}
	}
	assert.Less(t, same, 5, "types sharing a target drew the same negatives")
}

func TestBuild_Validation(t *testing.T) {
	c := buildCorpus(t, 5)
	ctx := context.Background()

	_, err := Build(ctx, nil, o0o3, 4, SeededSource(1))
	assert.Error(t, err)
	_, err = Build(ctx, c, o0o3, 0, SeededSource(1))
	assert.Error(t, err)
	_, err = Build(ctx, c, o0o3, 4, nil)
	assert.Error(t, err)
	two := compare.ComparisonType{Name: "x", TargetVariant: "O0", MatchVariants: []string{"O3", "O0"}}
	_, err = Build(ctx, c, two, 1, SeededSource(1))
	assert.Error(t, err)
}

func TestBuild_Cancelled(t *testing.T) {
	c := buildCorpus(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, c, o0o3, 4, SeededSource(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTaskValidate(t *testing.T) {
	pool := []corpus.Vector{{1}, {2}, {3}}
	assert.NoError(t, Task{Pool: pool, CorrectIndices: []int{0, 2}}.Validate())
	assert.ErrorIs(t, Task{Pool: pool}.Validate(), ErrInvalidIndex)
	assert.ErrorIs(t, Task{Pool: pool, CorrectIndices: []int{3}}.Validate(), ErrInvalidIndex)
	assert.ErrorIs(t, Task{Pool: pool, CorrectIndices: []int{-1}}.Validate(), ErrInvalidIndex)
	assert.ErrorIs(t, Task{Pool: pool, CorrectIndices: []int{1, 1}}.Validate(), ErrInvalidIndex)
	assert.ErrorIs(t, Task{Pool: pool[:1], CorrectIndices: []int{0, 1}}.Validate(), ErrInvalidIndex)
}
