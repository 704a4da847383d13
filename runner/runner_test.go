package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/embedeval/compare"
	"github.com/doujins-org/embedeval/corpus"
	"github.com/doujins-org/embedeval/eval"
	"github.com/doujins-org/embedeval/tasks"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// spreadCorpus places entity i at angle i degrees for O0 and nudges its other
// variants slightly, so each entity's variants are each other's nearest
// neighbours.
func spreadCorpus(t *testing.T, n int) *corpus.Corpus {
	t.Helper()
	at := func(d float64) corpus.Vector {
		r := d * math.Pi / 180
		return corpus.Vector{float32(math.Cos(r)), float32(math.Sin(r))}
	}
	c := corpus.New()
	for i := 0; i < n; i++ {
		base := float64(i) * 3
		cells := map[string]corpus.Vector{
			"O0":           at(base),
			"O3":           at(base + 0.5),
			"O0_split":     at(base + 0.2),
			"O0_splitFlag": at(base + 0.4),
		}
		require.NoError(t, c.Add(corpus.Key{Group: "bin", ID: fmt.Sprintf("f%02d", i)}, cells))
	}
	return c
}

func testRegistry(t *testing.T) *compare.Registry {
	t.Helper()
	reg, err := compare.NewRegistry(
		compare.ComparisonType{Name: "O0-O0_split", TargetVariant: "O0", MatchVariants: []string{"O0_split", "O0_splitFlag"}},
		compare.ComparisonType{Name: "O0-O3", TargetVariant: "O0", MatchVariants: []string{"O3"}},
	)
	require.NoError(t, err)
	return reg
}

func TestRun_PerfectEmbeddings(t *testing.T) {
	c := spreadCorpus(t, 40)
	metrics, err := NewMetrics()
	require.NoError(t, err)

	r, err := New(Options{PoolSize: 8, Seed: 5, Logger: quietLogger(), Metrics: metrics})
	require.NoError(t, err)
	rep, err := r.Run(context.Background(), c, testRegistry(t))
	require.NoError(t, err)

	require.Len(t, rep.Results, 2)
	for _, res := range rep.Results {
		assert.Equal(t, 40, res.Tasks)
		assert.InDelta(t, 1.0, res.MRR, 1e-12, res.Type)
		assert.InDelta(t, 1.0, res.Recall[2], 1e-12, res.Type)
	}
	// Both split halves sit closer than any other row, but only one can be first.
	assert.InDelta(t, 0.5, rep.Results[0].Recall[1], 1e-12)
	assert.InDelta(t, 1.0, rep.Results[1].Recall[1], 1e-12)

	assert.Equal(t, 2, rep.Summary.Types)
	assert.Equal(t, 1, rep.Summary.RecallK)
	assert.InDelta(t, 1.0, rep.Summary.MRRAvg, 1e-12)
	assert.InDelta(t, 0.75, rep.Summary.RecallAvg, 1e-12)
	assert.Equal(t, int64(5), rep.Seed)
	assert.False(t, rep.Failed())

	assert.Equal(t, 40.0, testutil.ToFloat64(metrics.TasksScored.WithLabelValues("O0-O3")))
	assert.Equal(t, 40.0, testutil.ToFloat64(metrics.TasksBuilt.WithLabelValues("O0-O0_split")))
	assert.InDelta(t, 0.5, testutil.ToFloat64(metrics.Recall.WithLabelValues("O0-O0_split", "1")), 1e-12)

	path := filepath.Join(t.TempDir(), "embedeval.prom")
	require.NoError(t, metrics.WriteTextfile(path))
}

func TestRun_AlwaysSummarizesRecallAtOne(t *testing.T) {
	c := spreadCorpus(t, 20)
	r, err := New(Options{PoolSize: 8, Ks: []int{5, 2}, Seed: 3, Logger: quietLogger()})
	require.NoError(t, err)
	rep, err := r.Run(context.Background(), c, testRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 5}, rep.Ks)
	assert.Equal(t, 1, rep.Summary.RecallK)
	for _, res := range rep.Results {
		assert.Contains(t, res.Recall, 1, res.Type)
	}
	assert.InDelta(t, 0.75, rep.Summary.RecallAvg, 1e-12)
}

func TestRun_WorkersDoNotChangeResults(t *testing.T) {
	c := spreadCorpus(t, 60)
	reg := testRegistry(t)

	run := func(workers int) *Report {
		r, err := New(Options{PoolSize: 16, Seed: 77, Workers: workers, Logger: quietLogger()})
		require.NoError(t, err)
		rep, err := r.Run(context.Background(), c, reg)
		require.NoError(t, err)
		return rep
	}
	a, b := run(1), run(8)
	for i := range a.Results {
		assert.Equal(t, a.Results[i].MRR, b.Results[i].MRR)
		assert.Equal(t, a.Results[i].Recall, b.Results[i].Recall)
	}
}

func TestRun_InsufficientPool(t *testing.T) {
	c := spreadCorpus(t, 5)
	reg := testRegistry(t)

	r, err := New(Options{PoolSize: 32, Seed: 1, Logger: quietLogger()})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), c, reg)
	assert.ErrorIs(t, err, tasks.ErrInsufficientPool)

	metrics, err := NewMetrics()
	require.NoError(t, err)
	r, err = New(Options{PoolSize: 32, Seed: 1, ContinueOnError: true, Logger: quietLogger(), Metrics: metrics})
	require.NoError(t, err)
	rep, err := r.Run(context.Background(), c, reg)
	require.NoError(t, err)
	assert.True(t, rep.Failed())
	assert.ErrorIs(t, rep.Err(), tasks.ErrInsufficientPool)
	assert.Equal(t, 0, rep.Summary.Types)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TypeErrors.WithLabelValues("O0-O3")))
}

func TestRun_DegenerateVectorAbortsType(t *testing.T) {
	c := spreadCorpus(t, 10)
	require.NoError(t, c.Add(corpus.Key{ID: "zero"}, map[string]corpus.Vector{"O0": {0, 0}, "O3": {1, 0}}))

	reg, err := compare.NewRegistry(compare.ComparisonType{Name: "O0-O3", TargetVariant: "O0", MatchVariants: []string{"O3"}})
	require.NoError(t, err)
	r, err := New(Options{PoolSize: 11, Seed: 1, Logger: quietLogger()})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), c, reg)
	assert.ErrorIs(t, err, eval.ErrDegenerateVector)
}

func TestRun_TypeWithoutRows(t *testing.T) {
	c := spreadCorpus(t, 10)
	reg, err := compare.NewRegistry(
		compare.ComparisonType{Name: "O1-O1_split", TargetVariant: "O1", MatchVariants: []string{"O1_split"}},
		compare.ComparisonType{Name: "O0-O3", TargetVariant: "O0", MatchVariants: []string{"O3"}},
	)
	require.NoError(t, err)
	r, err := New(Options{PoolSize: 4, Seed: 1, Logger: quietLogger()})
	require.NoError(t, err)
	rep, err := r.Run(context.Background(), c, reg)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Results[0].Tasks)
	assert.Equal(t, 10, rep.Results[0].Skipped)
	assert.Equal(t, 1, rep.Summary.Types)
}

func TestRun_Cancelled(t *testing.T) {
	c := spreadCorpus(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := New(Options{PoolSize: 4, Seed: 1, ContinueOnError: true, Logger: quietLogger()})
	require.NoError(t, err)
	_, err = r.Run(ctx, c, testRegistry(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Ks: []int{1, 0}})
	assert.Error(t, err)

	r, err := New(Options{Ks: []int{10, 1, 5}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5, 10}, r.cfg.Ks)
	assert.Equal(t, tasks.DefaultPoolSize, r.cfg.PoolSize)
	assert.NotZero(t, r.cfg.Seed)

	_, err = r.Run(context.Background(), nil, compare.DefaultRegistry())
	assert.Error(t, err)
	_, err = r.Run(context.Background(), corpus.New(), nil)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	results := []TypeResult{
		{Type: "a", Tasks: 3, MRR: 0.5, Recall: map[int]float64{1: 0.2, 5: 0.9}},
		{Type: "b", Tasks: 3, MRR: 1.0, Recall: map[int]float64{1: 0.6, 5: 1.0}},
		{Type: "c", Tasks: 0},
		{Type: "d", Tasks: 3, MRR: 0.1, Err: fmt.Errorf("boom")},
	}
	s := Summarize(results, []int{5, 1})
	assert.Equal(t, 2, s.Types)
	assert.Equal(t, 1, s.RecallK)
	assert.InDelta(t, 0.75, s.MRRAvg, 1e-12)
	assert.InDelta(t, 0.4, s.RecallAvg, 1e-12)
}
