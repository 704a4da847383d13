// Package similarity summarizes how close transformed variants stay to their
// target, per group of entities (one group per program).
package similarity

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"

	"github.com/doujins-org/embedeval/corpus"
	"github.com/doujins-org/embedeval/eval"
	"github.com/doujins-org/embedeval/internal/normalize"
)

type Options struct {
	// Target is the reference variant, e.g. "O0".
	Target string
	// Matches are compared against Target; each entity contributes the max,
	// mean and min of their similarities.
	Matches []string
	// Extras are reported individually, e.g. an obfuscated build.
	Extras []string

	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

func (o Options) validate() error {
	if o.Target == "" {
		return fmt.Errorf("target variant is required")
	}
	if len(o.Matches) == 0 {
		return fmt.Errorf("at least one match variant is required")
	}
	seen := map[string]bool{o.Target: true}
	for _, v := range append(append([]string(nil), o.Matches...), o.Extras...) {
		if v == "" {
			return fmt.Errorf("variant names must not be empty")
		}
		if seen[v] {
			return fmt.Errorf("variant %q listed twice", v)
		}
		seen[v] = true
	}
	return nil
}

// GroupStats holds per-group means over the entities that had every variant.
type GroupStats struct {
	Group    string
	Entities int
	Skipped  int

	Max float64
	Avg float64
	Min float64

	// Extras is aligned with Options.Extras.
	Extras []float64
}

// Diff returns |extra - stat| for every extra and each of max, avg, min, in
// that order per extra.
func (g GroupStats) Diff() []float64 {
	out := make([]float64, 0, len(g.Extras)*3)
	for _, e := range g.Extras {
		out = append(out, math.Abs(e-g.Max), math.Abs(e-g.Avg), math.Abs(e-g.Min))
	}
	return out
}

type accum struct {
	group        string
	max, avg, mn []float64
	extras       [][]float64
	skipped      int
}

// Compute walks the corpus in row order. Groups appear in the order their first
// row does. Entities missing any needed variant are skipped; a degenerate
// vector aborts with an eval.VectorError.
func Compute(ctx context.Context, c *corpus.Corpus, opts Options) ([]GroupStats, error) {
	if c == nil {
		return nil, fmt.Errorf("corpus is required")
	}
	cfg := opts.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var order []*accum
	byGroup := map[string]*accum{}

	for i := 0; i < c.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := c.Row(i)
		acc := byGroup[row.Key.Group]
		if acc == nil {
			acc = &accum{group: row.Key.Group, extras: make([][]float64, len(cfg.Extras))}
			byGroup[row.Key.Group] = acc
			order = append(order, acc)
		}

		target, ok := row.Cell(cfg.Target).Vector()
		if !ok {
			acc.skipped++
			continue
		}
		matches, ok := vectors(row, cfg.Matches)
		if !ok {
			acc.skipped++
			continue
		}
		extras, ok := vectors(row, cfg.Extras)
		if !ok {
			acc.skipped++
			continue
		}

		t, err := normalize.Unit(target)
		if err != nil {
			return nil, &eval.VectorError{Type: "similarity", Entity: row.Key, Position: -1, Err: err}
		}
		sims, err := cosines(t, matches, row.Key)
		if err != nil {
			return nil, err
		}
		esims, err := cosines(t, extras, row.Key)
		if err != nil {
			return nil, err
		}

		hi, lo := sims[0], sims[0]
		for _, s := range sims[1:] {
			hi = math.Max(hi, s)
			lo = math.Min(lo, s)
		}
		acc.max = append(acc.max, hi)
		acc.avg = append(acc.avg, eval.Mean(sims))
		acc.mn = append(acc.mn, lo)
		for j, s := range esims {
			acc.extras[j] = append(acc.extras[j], s)
		}
	}

	out := make([]GroupStats, 0, len(order))
	for _, acc := range order {
		gs := GroupStats{
			Group:    acc.group,
			Entities: len(acc.max),
			Skipped:  acc.skipped,
			Max:      eval.Mean(acc.max),
			Avg:      eval.Mean(acc.avg),
			Min:      eval.Mean(acc.mn),
			Extras:   make([]float64, len(cfg.Extras)),
		}
		for j := range cfg.Extras {
			gs.Extras[j] = eval.Mean(acc.extras[j])
		}
		if gs.Entities == 0 {
			cfg.Logger.Warn("no comparable entities in group", "group", acc.group, "skipped", acc.skipped)
		}
		out = append(out, gs)
	}
	cfg.Logger.Info("similarity computed", "groups", len(out), "target", cfg.Target)
	return out, nil
}

func vectors(row corpus.Row, variants []string) ([]corpus.Vector, bool) {
	out := make([]corpus.Vector, 0, len(variants))
	for _, v := range variants {
		vec, ok := row.Cell(v).Vector()
		if !ok {
			return nil, false
		}
		out = append(out, vec)
	}
	return out, true
}

func cosines(target []float64, vs []corpus.Vector, key corpus.Key) ([]float64, error) {
	out := make([]float64, len(vs))
	for i, v := range vs {
		u, err := normalize.Unit(v)
		if err != nil {
			return nil, &eval.VectorError{Type: "similarity", Entity: key, Position: i, Err: err}
		}
		out[i] = normalize.Dot(u, target)
	}
	return out, nil
}

// WriteCSV writes one row per group: group, entities, max, avg, min, each
// extra, then extra.abs.{max,avg,min} for every extra. Groups without any
// comparable entity have empty metric cells.
func WriteCSV(w io.Writer, stats []GroupStats, extras []string) error {
	cw := csv.NewWriter(w)
	header := []string{"group", "entities", "max", "avg", "min"}
	header = append(header, extras...)
	for _, e := range extras {
		for _, s := range []string{"max", "avg", "min"} {
			header = append(header, e+".abs."+s)
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, g := range stats {
		if len(g.Extras) != len(extras) {
			return fmt.Errorf("group %q has %d extras, want %d", g.Group, len(g.Extras), len(extras))
		}
		row := []string{g.Group, strconv.Itoa(g.Entities)}
		vals := append([]float64{g.Max, g.Avg, g.Min}, g.Extras...)
		vals = append(vals, g.Diff()...)
		for _, v := range vals {
			if g.Entities == 0 {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
