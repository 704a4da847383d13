package corpus

import (
	"fmt"
	"strings"
)

// Record is one embedding for one (entity, variant) pair, as produced by an
// embedding run over a single build of a program.
type Record struct {
	Group   string `json:"group,omitempty"`
	ID      string `json:"id"`
	Variant string `json:"variant"`
	Vector  Vector `json:"vector"`
}

// DefaultBypass lists compiler-generated startup and teardown stubs that carry
// no signal for function similarity.
var DefaultBypass = []string{
	"_start",
	"_dl_relocate_static_pie",
	"deregister_tm_clones",
	"register_tm_clones",
	"__do_global_dtors_aux",
	"frame_dummy",
}

type MergeOptions struct {
	// Required drops any entity missing one of these columns after merging.
	Required []string

	// Bypass entity IDs are ignored. nil means DefaultBypass; use an empty
	// non-nil slice to keep everything.
	Bypass []string

	// FlagSuffix marks records for the outlined half of a split function,
	// e.g. "foo_splitFlag" belongs to entity "foo". Defaults to "_splitFlag".
	FlagSuffix string
	// FlagColumnSuffix is appended to the variant name for flag records, so
	// variant "O0_split" becomes column "O0_splitFlag". Defaults to "Flag".
	FlagColumnSuffix string
	// NoFlagFold keeps flag records as entities of their own.
	NoFlagFold bool
}

func (o *MergeOptions) withDefaults() MergeOptions {
	out := *o
	if out.Bypass == nil {
		out.Bypass = DefaultBypass
	}
	if out.FlagSuffix == "" {
		out.FlagSuffix = "_splitFlag"
	}
	if out.FlagColumnSuffix == "" {
		out.FlagColumnSuffix = "Flag"
	}
	return out
}

// MergeStats counts what Merge did with its input.
type MergeStats struct {
	Records    int
	Bypassed   int
	Duplicates int
	Incomplete int
	Rows       int
}

// Merge folds flat records into a corpus. Rows keep the order in which their
// entity first appears; duplicate (entity, column) records keep the first
// non-null vector.
func Merge(records []Record, opts MergeOptions) (*Corpus, MergeStats, error) {
	cfg := opts.withDefaults()
	stats := MergeStats{Records: len(records)}

	bypass := bypassSet(cfg.Bypass)

	var order []Key
	cells := map[Key]map[string]Vector{}

	for _, rec := range records {
		id := strings.TrimSpace(rec.ID)
		variant := strings.TrimSpace(rec.Variant)
		if id == "" || variant == "" {
			return nil, stats, fmt.Errorf("record %q/%q: id and variant are required", rec.ID, rec.Variant)
		}

		column := variant
		if !cfg.NoFlagFold && strings.HasSuffix(id, cfg.FlagSuffix) && len(id) > len(cfg.FlagSuffix) {
			id = strings.TrimSuffix(id, cfg.FlagSuffix)
			column = variant + cfg.FlagColumnSuffix
		}
		if _, skip := bypass[id]; skip {
			stats.Bypassed++
			continue
		}

		key := Key{Group: rec.Group, ID: id}
		row, ok := cells[key]
		if !ok {
			row = map[string]Vector{}
			cells[key] = row
			order = append(order, key)
		}
		// A null vector marks the cell missing but leaves it open for a later record.
		if prev, seen := row[column]; seen && prev != nil {
			if rec.Vector != nil {
				stats.Duplicates++
			}
			continue
		}
		row[column] = rec.Vector
	}

	c := New(cfg.Required...)
	for _, key := range order {
		row := cells[key]
		if !hasAll(row, cfg.Required) {
			stats.Incomplete++
			continue
		}
		if err := c.Add(key, row); err != nil {
			return nil, stats, err
		}
		stats.Rows++
	}
	return c, stats, nil
}

// mergeRows applies Bypass and Required to row-form input. Rows are already
// one per entity, so flag folding and duplicate handling do not apply.
func mergeRows(keys []Key, rows []map[string]Vector, opts MergeOptions) (*Corpus, MergeStats, error) {
	cfg := opts.withDefaults()
	stats := MergeStats{Records: len(rows)}
	bypass := bypassSet(cfg.Bypass)

	c := New(cfg.Required...)
	for i, row := range rows {
		if _, skip := bypass[strings.TrimSpace(keys[i].ID)]; skip {
			stats.Bypassed++
			continue
		}
		if !hasAll(row, cfg.Required) {
			stats.Incomplete++
			continue
		}
		if err := c.Add(keys[i], row); err != nil {
			return nil, stats, fmt.Errorf("corpus row %d: %w", i+1, err)
		}
		stats.Rows++
	}
	return c, stats, nil
}

func bypassSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func hasAll(row map[string]Vector, required []string) bool {
	for _, req := range required {
		if row[req] == nil {
			return false
		}
	}
	return true
}
