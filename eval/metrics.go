package eval

// Retrieval metrics over ranked candidate pools. A pool is ranked by cosine
// similarity to the task target; ties keep pool order so results are
// reproducible.

import (
	"errors"
	"fmt"
	"sort"

	"github.com/doujins-org/embedeval/corpus"
	"github.com/doujins-org/embedeval/internal/normalize"
	"github.com/doujins-org/embedeval/tasks"
)

var (
	// ErrDegenerateVector is returned for zero-norm or non-finite embeddings,
	// which have no defined cosine similarity.
	ErrDegenerateVector = errors.New("degenerate vector")

	// ErrNoTasks is returned when asked to average over nothing.
	ErrNoTasks = errors.New("no tasks to evaluate")
)

// DefaultKs are the recall cutoffs reported when none are configured.
var DefaultKs = []int{1, 2, 5, 10}

// VectorError locates a degenerate vector. Position is -1 for the target and
// the pool index otherwise.
type VectorError struct {
	Type     string
	Entity   corpus.Key
	Position int
	Err      error
}

func (e *VectorError) Error() string {
	where := "target"
	if e.Position >= 0 {
		where = fmt.Sprintf("pool[%d]", e.Position)
	}
	return fmt.Sprintf("task %s %s: %s: %v: %v", e.Type, e.Entity, where, ErrDegenerateVector, e.Err)
}

func (e *VectorError) Unwrap() []error {
	return []error{ErrDegenerateVector, e.Err}
}

// ValidateKs rejects empty, non-positive and duplicate cutoffs.
func ValidateKs(ks []int) error {
	if len(ks) == 0 {
		return fmt.Errorf("at least one k is required")
	}
	seen := make(map[int]struct{}, len(ks))
	for _, k := range ks {
		if k <= 0 {
			return fmt.Errorf("k must be > 0, got %d", k)
		}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate k %d", k)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Similarities returns the cosine similarity of each pool vector to target.
// On a degenerate vector it returns a *VectorError with Position set.
func Similarities(target corpus.Vector, pool []corpus.Vector) ([]float64, error) {
	t, err := normalize.Unit(target)
	if err != nil {
		return nil, &VectorError{Position: -1, Err: err}
	}
	out := make([]float64, len(pool))
	for i, p := range pool {
		if len(p) != len(target) {
			return nil, fmt.Errorf("pool[%d]: dimension %d, target has %d", i, len(p), len(target))
		}
		u, err := normalize.Unit(p)
		if err != nil {
			return nil, &VectorError{Position: i, Err: err}
		}
		out[i] = normalize.Dot(t, u)
	}
	return out, nil
}

// Ranking returns pool indices ordered by descending similarity. Equal
// similarities keep their pool order.
func Ranking(sims []float64) []int {
	order := make([]int, len(sims))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sims[order[a]] > sims[order[b]]
	})
	return order
}

// Ranks inverts a ranking: ranks[i] is the 1-based rank of pool index i.
func Ranks(order []int) []int {
	ranks := make([]int, len(order))
	for pos, idx := range order {
		ranks[idx] = pos + 1
	}
	return ranks
}

// ReciprocalRank is 1 over the best rank among the correct indices. Only the
// best-ranked correct candidate earns credit.
func ReciprocalRank(ranks []int, correct []int) float64 {
	best := 0
	for _, idx := range correct {
		r := ranks[idx]
		if best == 0 || r < best {
			best = r
		}
	}
	if best == 0 {
		return 0.0
	}
	return 1.0 / float64(best)
}

// RecallAtK is the fraction of correct indices ranked within the top k.
// A k larger than the pool saturates to the whole pool rather than failing.
func RecallAtK(ranks []int, correct []int, k int) float64 {
	if len(correct) == 0 {
		return 1.0
	}
	if k <= 0 {
		return 0.0
	}
	if k > len(ranks) {
		k = len(ranks)
	}

	hit := 0
	for _, idx := range correct {
		if ranks[idx] <= k {
			hit++
		}
	}
	return float64(hit) / float64(len(correct))
}

// TaskScore is the outcome of one task.
type TaskScore struct {
	Type   string
	Entity corpus.Key
	// CorrectRanks[i] is the rank of CorrectIndices[i].
	CorrectRanks   []int
	ReciprocalRank float64
	Recall         map[int]float64
}

// ScoreTask ranks the pool of t against its target and scores it at every k.
func ScoreTask(t tasks.Task, ks []int) (TaskScore, error) {
	if err := t.Validate(); err != nil {
		return TaskScore{}, err
	}
	sims, err := Similarities(t.Target, t.Pool)
	if err != nil {
		var ve *VectorError
		if errors.As(err, &ve) {
			ve.Type = t.Type
			ve.Entity = t.Entity
			return TaskScore{}, ve
		}
		return TaskScore{}, fmt.Errorf("task %s %s: %w", t.Type, t.Entity, err)
	}
	ranks := Ranks(Ranking(sims))

	score := TaskScore{
		Type:           t.Type,
		Entity:         t.Entity,
		CorrectRanks:   make([]int, len(t.CorrectIndices)),
		ReciprocalRank: ReciprocalRank(ranks, t.CorrectIndices),
		Recall:         make(map[int]float64, len(ks)),
	}
	for i, idx := range t.CorrectIndices {
		score.CorrectRanks[i] = ranks[idx]
	}
	for _, k := range ks {
		score.Recall[k] = RecallAtK(ranks, t.CorrectIndices, k)
	}
	return score, nil
}

// Result is the corpus-level average over a task collection.
type Result struct {
	Tasks  int
	MRR    float64
	Recall map[int]float64
}

// Aggregate averages per-task scores. Scores are summed in slice order.
func Aggregate(scores []TaskScore, ks []int) (Result, error) {
	if len(scores) == 0 {
		return Result{}, ErrNoTasks
	}
	rr := make([]float64, len(scores))
	byK := make(map[int][]float64, len(ks))
	for i, s := range scores {
		rr[i] = s.ReciprocalRank
		for _, k := range ks {
			v, ok := s.Recall[k]
			if !ok {
				return Result{}, fmt.Errorf("task %s %s: no recall@%d", s.Type, s.Entity, k)
			}
			byK[k] = append(byK[k], v)
		}
	}
	res := Result{Tasks: len(scores), MRR: Mean(rr), Recall: make(map[int]float64, len(ks))}
	for _, k := range ks {
		res.Recall[k] = Mean(byK[k])
	}
	return res, nil
}

// Evaluate scores every task and averages Reciprocal Rank and Recall@k.
// The first failing task aborts the evaluation.
func Evaluate(ts []tasks.Task, ks []int) (Result, error) {
	if err := ValidateKs(ks); err != nil {
		return Result{}, err
	}
	if len(ts) == 0 {
		return Result{}, ErrNoTasks
	}
	scores := make([]TaskScore, 0, len(ts))
	for _, t := range ts {
		s, err := ScoreTask(t, ks)
		if err != nil {
			return Result{}, err
		}
		scores = append(scores, s)
	}
	return Aggregate(scores, ks)
}

// Mean is the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
