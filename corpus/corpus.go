package corpus

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMissing is returned when a cell holds no embedding.
	ErrMissing = errors.New("missing embedding")

	// ErrTooFewRows is returned by SampleOthers when the column cannot supply
	// the requested number of distinct rows.
	ErrTooFewRows = errors.New("not enough eligible rows")

	// ErrDimension is returned when a vector does not match the corpus dimension.
	ErrDimension = errors.New("vector dimension mismatch")

	// ErrDuplicateRow is returned when an entity key is added twice.
	ErrDuplicateRow = errors.New("duplicate entity")
)

// Vector is a dense embedding.
type Vector []float32

// Cell holds either an embedding or nothing. The zero Cell is missing.
type Cell struct {
	vec Vector
	ok  bool
}

// Present wraps v as a non-missing cell. A nil v yields a missing cell.
func Present(v Vector) Cell {
	if v == nil {
		return Cell{}
	}
	return Cell{vec: v, ok: true}
}

// Missing returns a missing cell.
func Missing() Cell { return Cell{} }

// Vector returns the embedding and whether it is present.
func (c Cell) Vector() (Vector, bool) { return c.vec, c.ok }

func (c Cell) IsMissing() bool { return !c.ok }

// Key identifies an entity. Group is optional (e.g. the binary a function came from);
// IDs only need to be unique within a group.
type Key struct {
	Group string
	ID    string
}

func (k Key) String() string {
	if k.Group == "" {
		return k.ID
	}
	return k.Group + "/" + k.ID
}

// Row is one entity with one cell per variant.
type Row struct {
	Key   Key
	cells map[string]Cell
}

// Cell returns the cell for variant; unknown variants are missing.
func (r Row) Cell(variant string) Cell {
	return r.cells[variant]
}

// Vector returns the embedding for variant or ErrMissing.
func (r Row) Vector(variant string) (Vector, error) {
	v, ok := r.cells[variant].Vector()
	if !ok {
		return nil, fmt.Errorf("%s[%s]: %w", r.Key, variant, ErrMissing)
	}
	return v, nil
}

// Corpus is an in-memory table: one row per entity, one column per transformation
// variant. It is built once and then only read; concurrent reads are safe.
type Corpus struct {
	dim      int
	variants []string
	rows     []Row
	index    map[Key]int
	// eligible[variant] lists row positions whose cell is present, in row order.
	eligible map[string][]int
}

// New returns an empty corpus with the given column order. Columns not listed
// here are appended as rows introduce them.
func New(variants ...string) *Corpus {
	c := &Corpus{
		index:    map[Key]int{},
		eligible: map[string][]int{},
	}
	for _, v := range variants {
		c.addVariant(v)
	}
	return c
}

func (c *Corpus) addVariant(v string) {
	if _, ok := c.eligible[v]; ok {
		return
	}
	c.variants = append(c.variants, v)
	c.eligible[v] = nil
}

// Add appends a row. A nil vector in cells marks that variant missing.
// All present vectors in the corpus must share one dimension.
func (c *Corpus) Add(key Key, cells map[string]Vector) error {
	if strings.TrimSpace(key.ID) == "" {
		return fmt.Errorf("entity id is required")
	}
	if _, dup := c.index[key]; dup {
		return fmt.Errorf("%s: %w", key, ErrDuplicateRow)
	}

	dim := c.dim
	row := Row{Key: key, cells: make(map[string]Cell, len(cells))}
	for variant, vec := range cells {
		if strings.TrimSpace(variant) == "" {
			return fmt.Errorf("%s: empty variant name", key)
		}
		if vec == nil {
			row.cells[variant] = Missing()
			continue
		}
		if len(vec) == 0 {
			return fmt.Errorf("%s[%s]: empty vector", key, variant)
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return fmt.Errorf("%s[%s]: got %d, want %d: %w", key, variant, len(vec), dim, ErrDimension)
		}
		row.cells[variant] = Present(vec)
	}

	c.dim = dim
	pos := len(c.rows)
	// New columns are registered in sorted order so column order is deterministic.
	for _, variant := range sortedKeys(cells) {
		c.addVariant(variant)
		if !row.cells[variant].IsMissing() {
			c.eligible[variant] = append(c.eligible[variant], pos)
		}
	}
	c.rows = append(c.rows, row)
	c.index[key] = pos
	return nil
}

// Dim is the embedding dimension, or 0 for a corpus with no vectors.
func (c *Corpus) Dim() int { return c.dim }

func (c *Corpus) Len() int { return len(c.rows) }

// Row returns the row at position i.
func (c *Corpus) Row(i int) Row { return c.rows[i] }

// Variants returns the column names in order.
func (c *Corpus) Variants() []string {
	out := make([]string, len(c.variants))
	copy(out, c.variants)
	return out
}

// Lookup finds a row by key.
func (c *Corpus) Lookup(key Key) (Row, bool) {
	i, ok := c.index[key]
	if !ok {
		return Row{}, false
	}
	return c.rows[i], true
}

// Eligible returns the number of rows with a present value for variant.
func (c *Corpus) Eligible(variant string) int {
	return len(c.eligible[variant])
}

func sortedKeys(m map[string]Vector) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
