package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/doujins-org/embedeval/compare"
	"github.com/doujins-org/embedeval/corpus"
	"github.com/doujins-org/embedeval/eval"
	"github.com/doujins-org/embedeval/tasks"
)

type Options struct {
	// PoolSize is the number of candidates per task. Defaults to 32.
	PoolSize int
	// Ks are the recall cutoffs. Defaults to eval.DefaultKs. k=1 is added
	// when missing.
	Ks []int

	// Seed drives negative sampling. Each task gets its own generator derived
	// from the seed, so results do not depend on Workers. 0 picks a seed from
	// the clock; the seed used is recorded in the report.
	Seed int64
	// Source overrides Seed when set.
	Source tasks.Source

	// Workers bounds concurrent task scoring. Defaults to GOMAXPROCS.
	Workers int

	// ContinueOnError records a failed comparison type in the report and moves
	// on to the next one instead of aborting the run.
	ContinueOnError bool

	Logger  *slog.Logger
	Metrics *Metrics
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.PoolSize <= 0 {
		out.PoolSize = tasks.DefaultPoolSize
	}
	if len(out.Ks) == 0 {
		out.Ks = append([]int(nil), eval.DefaultKs...)
	}
	if out.Seed == 0 {
		out.Seed = time.Now().UnixNano()
	}
	if out.Workers <= 0 {
		out.Workers = runtime.GOMAXPROCS(0)
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// TypeResult is the outcome of one comparison type.
type TypeResult struct {
	Type    string
	Target  string
	Matches []string

	Rows    int
	Skipped int
	Tasks   int

	MRR    float64
	Recall map[int]float64

	// Err is set when the type failed and ContinueOnError was on.
	Err error
}

// Summary averages across the comparison types that produced a result.
type Summary struct {
	Types int
	// MRRAvg is the mean of the per-type MRR values.
	MRRAvg float64
	// RecallK is the smallest evaluated k, which is 1 for reports built by
	// Runner; RecallAvg is the mean of the per-type Recall@RecallK.
	RecallK   int
	RecallAvg float64
}

type Report struct {
	RunID    uuid.UUID
	Seed     int64
	PoolSize int
	Ks       []int
	Started  time.Time
	Elapsed  time.Duration

	Results []TypeResult
	Summary Summary
}

type Runner struct {
	cfg Options
	log *slog.Logger
}

func New(opts Options) (*Runner, error) {
	cfg := opts.withDefaults()
	if err := eval.ValidateKs(cfg.Ks); err != nil {
		return nil, err
	}
	// Recall@1 feeds the cross-type summary, so it is always evaluated.
	ks := append([]int(nil), cfg.Ks...)
	if !containsK(ks, 1) {
		ks = append(ks, 1)
	}
	sort.Ints(ks)
	cfg.Ks = ks
	if cfg.Source == nil {
		cfg.Source = tasks.SeededSource(cfg.Seed)
	}
	return &Runner{cfg: cfg, log: cfg.Logger}, nil
}

// Run evaluates every comparison type in reg against c, in registry order.
func (r *Runner) Run(ctx context.Context, c *corpus.Corpus, reg *compare.Registry) (*Report, error) {
	if c == nil {
		return nil, fmt.Errorf("corpus is required")
	}
	if reg == nil || reg.Len() == 0 {
		return nil, fmt.Errorf("at least one comparison type is required")
	}

	rep := &Report{
		RunID:    uuid.New(),
		Seed:     r.cfg.Seed,
		PoolSize: r.cfg.PoolSize,
		Ks:       append([]int(nil), r.cfg.Ks...),
		Started:  time.Now(),
	}
	r.log.Info("evaluation started",
		"run_id", rep.RunID, "rows", c.Len(), "types", reg.Len(), "pool", r.cfg.PoolSize, "seed", r.cfg.Seed)

	for _, ct := range reg.Types() {
		res, err := r.RunType(ctx, c, ct)
		if err != nil {
			if ctx.Err() != nil || !r.cfg.ContinueOnError {
				return nil, err
			}
			r.log.Error("comparison type failed", "type", ct.Name, "err", err)
			res.Err = err
		}
		rep.Results = append(rep.Results, res)
	}

	rep.Summary = Summarize(rep.Results, r.cfg.Ks)
	rep.Elapsed = time.Since(rep.Started)
	r.log.Info("evaluation finished",
		"run_id", rep.RunID,
		"mrr_avg", rep.Summary.MRRAvg,
		fmt.Sprintf("r%d_avg", rep.Summary.RecallK), rep.Summary.RecallAvg,
		"elapsed", rep.Elapsed)
	return rep, nil
}

// RunType samples and scores the tasks of one comparison type. A type whose
// rows are all skipped yields a result with zero tasks and no error.
func (r *Runner) RunType(ctx context.Context, c *corpus.Corpus, ct compare.ComparisonType) (TypeResult, error) {
	res := TypeResult{
		Type:    ct.Name,
		Target:  ct.TargetVariant,
		Matches: append([]string(nil), ct.MatchVariants...),
	}
	m := r.cfg.Metrics

	built, err := tasks.Build(ctx, c, ct, r.cfg.PoolSize, r.cfg.Source)
	res.Rows = built.Rows
	res.Skipped = built.Skipped
	if err != nil {
		if m != nil {
			m.TypeErrors.WithLabelValues(ct.Name).Inc()
		}
		return res, err
	}
	res.Tasks = len(built.Tasks)
	if m != nil {
		m.RowsSkipped.WithLabelValues(ct.Name).Add(float64(built.Skipped))
		m.TasksBuilt.WithLabelValues(ct.Name).Add(float64(len(built.Tasks)))
	}
	r.log.Debug("tasks sampled", "type", ct.Name, "tasks", len(built.Tasks), "skipped", built.Skipped)

	if len(built.Tasks) == 0 {
		r.log.Warn("no tasks for comparison type", "type", ct.Name, "skipped", built.Skipped)
		return res, nil
	}

	scores, err := r.score(ctx, built.Tasks)
	if err != nil {
		if m != nil {
			m.TypeErrors.WithLabelValues(ct.Name).Inc()
		}
		return res, fmt.Errorf("comparison type %s: %w", ct.Name, err)
	}
	if m != nil {
		m.TasksScored.WithLabelValues(ct.Name).Add(float64(len(scores)))
	}

	agg, err := eval.Aggregate(scores, r.cfg.Ks)
	if err != nil {
		return res, fmt.Errorf("comparison type %s: %w", ct.Name, err)
	}
	res.MRR = agg.MRR
	res.Recall = agg.Recall
	m.observeResult(res)

	r.log.Info("comparison type scored",
		"type", ct.Name, "tasks", res.Tasks, "skipped", res.Skipped,
		"mrr", res.MRR, "recall", recallAttrs(res.Recall, r.cfg.Ks))
	return res, nil
}

// score ranks tasks on up to Workers goroutines. Scores land at their task's
// index so aggregation order does not depend on scheduling.
func (r *Runner) score(ctx context.Context, ts []tasks.Task) ([]eval.TaskScore, error) {
	scores := make([]eval.TaskScore, len(ts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i := range ts {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := eval.ScoreTask(ts[i], r.cfg.Ks)
			if err != nil {
				return err
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}

// Summarize averages MRR and the smallest-k recall over the types without an
// error.
func Summarize(results []TypeResult, ks []int) Summary {
	s := Summary{}
	if len(ks) > 0 {
		s.RecallK = ks[0]
		for _, k := range ks {
			if k < s.RecallK {
				s.RecallK = k
			}
		}
	}
	var mrr, rk []float64
	for _, res := range results {
		if res.Err != nil || res.Tasks == 0 {
			continue
		}
		mrr = append(mrr, res.MRR)
		rk = append(rk, res.Recall[s.RecallK])
	}
	s.Types = len(mrr)
	s.MRRAvg = eval.Mean(mrr)
	s.RecallAvg = eval.Mean(rk)
	return s
}

func containsK(ks []int, k int) bool {
	for _, v := range ks {
		if v == k {
			return true
		}
	}
	return false
}

func recallAttrs(recall map[int]float64, ks []int) slog.Value {
	attrs := make([]slog.Attr, 0, len(ks))
	for _, k := range ks {
		attrs = append(attrs, slog.Float64(fmt.Sprintf("@%d", k), recall[k]))
	}
	return slog.GroupValue(attrs...)
}

// Failed reports whether any comparison type in the report failed.
func (rep *Report) Failed() bool {
	for _, res := range rep.Results {
		if res.Err != nil {
			return true
		}
	}
	return false
}

// Err joins the per-type errors of the report.
func (rep *Report) Err() error {
	var errs []error
	for _, res := range rep.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}
