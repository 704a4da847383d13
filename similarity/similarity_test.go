package similarity

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/embedeval/corpus"
	"github.com/doujins-org/embedeval/eval"
)

func at(deg float64) corpus.Vector {
	r := deg * math.Pi / 180
	return corpus.Vector{float32(math.Cos(r)), float32(math.Sin(r))}
}

func cos(deg float64) float64 { return math.Cos(deg * math.Pi / 180) }

func opts() Options {
	return Options{
		Target:  "O0",
		Matches: []string{"O0_split", "O0_splitFlag"},
		Extras:  []string{"O0-sub-fla-bcf"},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestCompute_GroupMeans(t *testing.T) {
	c := corpus.New()
	require.NoError(t, c.Add(corpus.Key{Group: "ls", ID: "main"}, map[string]corpus.Vector{
		"O0": at(0), "O0_split": at(10), "O0_splitFlag": at(30), "O0-sub-fla-bcf": at(60),
	}))
	require.NoError(t, c.Add(corpus.Key{Group: "cat", ID: "main"}, map[string]corpus.Vector{
		"O0": at(90), "O0_split": at(90), "O0_splitFlag": at(110), "O0-sub-fla-bcf": at(90),
	}))
	require.NoError(t, c.Add(corpus.Key{Group: "ls", ID: "usage"}, map[string]corpus.Vector{
		"O0": at(0), "O0_split": at(20), "O0_splitFlag": at(20), "O0-sub-fla-bcf": at(0),
	}))
	// Missing the extra variant: skipped.
	require.NoError(t, c.Add(corpus.Key{Group: "ls", ID: "skip"}, map[string]corpus.Vector{
		"O0": at(0), "O0_split": at(0), "O0_splitFlag": at(0), "O0-sub-fla-bcf": nil,
	}))

	stats, err := Compute(context.Background(), c, opts())
	require.NoError(t, err)
	require.Len(t, stats, 2)

	ls := stats[0]
	assert.Equal(t, "ls", ls.Group)
	assert.Equal(t, 2, ls.Entities)
	assert.Equal(t, 1, ls.Skipped)
	assert.InDelta(t, (cos(10)+cos(20))/2, ls.Max, 1e-6)
	assert.InDelta(t, ((cos(10)+cos(30))/2+cos(20))/2, ls.Avg, 1e-6)
	assert.InDelta(t, (cos(30)+cos(20))/2, ls.Min, 1e-6)
	require.Len(t, ls.Extras, 1)
	assert.InDelta(t, (cos(60)+1)/2, ls.Extras[0], 1e-6)

	diff := ls.Diff()
	require.Len(t, diff, 3)
	assert.InDelta(t, math.Abs(ls.Extras[0]-ls.Max), diff[0], 1e-12)
	assert.InDelta(t, math.Abs(ls.Extras[0]-ls.Min), diff[2], 1e-12)

	assert.Equal(t, "cat", stats[1].Group)
	assert.InDelta(t, 1.0, stats[1].Max, 1e-6)
	assert.InDelta(t, cos(20), stats[1].Min, 1e-6)
}

func TestCompute_DegenerateVector(t *testing.T) {
	c := corpus.New()
	require.NoError(t, c.Add(corpus.Key{Group: "ls", ID: "main"}, map[string]corpus.Vector{
		"O0": at(0), "O0_split": {0, 0}, "O0_splitFlag": at(30), "O0-sub-fla-bcf": at(60),
	}))
	_, err := Compute(context.Background(), c, opts())
	assert.ErrorIs(t, err, eval.ErrDegenerateVector)

	var ve *eval.VectorError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, ve.Position)
	assert.Equal(t, "main", ve.Entity.ID)
}

func TestCompute_Validation(t *testing.T) {
	c := corpus.New()
	_, err := Compute(context.Background(), nil, opts())
	assert.Error(t, err)
	_, err = Compute(context.Background(), c, Options{Matches: []string{"a"}})
	assert.Error(t, err)
	_, err = Compute(context.Background(), c, Options{Target: "a"})
	assert.Error(t, err)
	_, err = Compute(context.Background(), c, Options{Target: "a", Matches: []string{"b"}, Extras: []string{"b"}})
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	stats := []GroupStats{
		{Group: "ls", Entities: 2, Max: 0.9, Avg: 0.8, Min: 0.7, Extras: []float64{0.5}},
		{Group: "cat", Extras: []float64{0}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, stats, []string{"obf"}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"group", "entities", "max", "avg", "min", "obf", "obf.abs.max", "obf.abs.avg", "obf.abs.min"}, rows[0])
	assert.Equal(t, []string{"ls", "2", "0.900000", "0.800000", "0.700000", "0.500000", "0.400000", "0.300000", "0.200000"}, rows[1])
	assert.Equal(t, []string{"cat", "0", "", "", "", "", "", "", ""}, rows[2])

	assert.Error(t, WriteCSV(&bytes.Buffer{}, stats, nil))
}
