package tasks

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/doujins-org/embedeval/compare"
	"github.com/doujins-org/embedeval/corpus"
)

// DefaultPoolSize is the number of candidates per task when none is given.
const DefaultPoolSize = 32

// Source returns the random source used to draw negatives for the task of
// comparison type typ at the given corpus position.
type Source func(typ string, row int) corpus.Rand

// SharedSource uses rng for every task. The result is only safe for
// sequential use.
func SharedSource(rng corpus.Rand) Source {
	return func(string, int) corpus.Rand { return rng }
}

// SeededSource gives every (type, row) task its own generator derived from
// seed, so draws do not depend on the order tasks are built in and two types
// get independent negative draws.
func SeededSource(seed int64) Source {
	return func(typ string, row int) corpus.Rand {
		z := mix64(uint64(seed) ^ typeHash(typ))
		z = mix64(z ^ uint64(row)*0x9e3779b97f4a7c15)
		return rand.New(rand.NewSource(int64(z)))
	}
}

func typeHash(typ string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(typ))
	return h.Sum64()
}

// mix64 is the splitmix64 finalizer.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// BuildResult holds the tasks for one comparison type.
type BuildResult struct {
	Type    string
	Tasks   []Task
	Rows    int
	Skipped int
}

// Build constructs one task per corpus row that has the target variant and
// every match variant present. The match vectors form the pool prefix in
// declared order; the rest of the pool is drawn from the target column of
// other rows. Rows with missing data are skipped and counted. A row that cannot
// be given a full pool fails the whole build with a *PoolError.
func Build(ctx context.Context, c *corpus.Corpus, ct compare.ComparisonType, poolSize int, src Source) (BuildResult, error) {
	if c == nil {
		return BuildResult{}, fmt.Errorf("corpus is required")
	}
	if err := ct.Validate(); err != nil {
		return BuildResult{}, err
	}
	if poolSize < 1 {
		return BuildResult{}, fmt.Errorf("pool size must be >= 1, got %d", poolSize)
	}
	if len(ct.MatchVariants) > poolSize {
		return BuildResult{}, fmt.Errorf("comparison type %s: %d match variants do not fit a pool of %d", ct.Name, len(ct.MatchVariants), poolSize)
	}
	if src == nil {
		return BuildResult{}, fmt.Errorf("random source is required")
	}

	res := BuildResult{Type: ct.Name, Rows: c.Len()}
	correct := make([]int, len(ct.MatchVariants))
	for i := range correct {
		correct[i] = i
	}

	for i := 0; i < c.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row := c.Row(i)

		target, ok := row.Cell(ct.TargetVariant).Vector()
		if !ok {
			res.Skipped++
			continue
		}
		pool := make([]corpus.Vector, 0, poolSize)
		complete := true
		for _, mv := range ct.MatchVariants {
			v, ok := row.Cell(mv).Vector()
			if !ok {
				complete = false
				break
			}
			pool = append(pool, v)
		}
		if !complete {
			res.Skipped++
			continue
		}

		negatives, err := c.SampleOthers(src(ct.Name, i), ct.TargetVariant, i, poolSize-len(pool))
		if err != nil {
			return res, &PoolError{Type: ct.Name, Entity: row.Key, Variant: ct.TargetVariant, Err: err}
		}
		pool = append(pool, negatives...)

		t := Task{
			Type:           ct.Name,
			Entity:         row.Key,
			Target:         target,
			Pool:           pool,
			CorrectIndices: append([]int(nil), correct...),
		}
		if err := t.Validate(); err != nil {
			return res, err
		}
		res.Tasks = append(res.Tasks, t)
	}
	return res, nil
}
