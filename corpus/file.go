package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// line is one JSONL entry in either row form (Variants set) or record form
// (Variant + Vector set). JSON null vectors decode as missing.
type line struct {
	Group    string            `json:"group,omitempty"`
	ID       string            `json:"id"`
	Variants map[string]Vector `json:"variants,omitempty"`
	Variant  string            `json:"variant,omitempty"`
	Vector   Vector            `json:"vector,omitempty"`
}

// LoadFile reads a corpus from a JSONL file. See Read.
func LoadFile(path string, opts MergeOptions) (*Corpus, MergeStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, MergeStats{}, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return Read(f, opts)
}

// Read decodes a JSONL corpus. Every line must use the same form:
//
//	{"group":"ls","id":"main","variants":{"O0":[...],"O0_split":null}}
//	{"group":"ls","id":"main","variant":"O0","vector":[...]}
//
// Both forms honor the Bypass and Required options. Record form also goes
// through flag folding and duplicate handling in Merge.
func Read(r io.Reader, opts MergeOptions) (*Corpus, MergeStats, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)

	var (
		rows    []line
		records []Record
		lineNo  int
	)
	for sc.Scan() {
		lineNo++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var l line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, MergeStats{}, fmt.Errorf("corpus line %d: %w", lineNo, err)
		}
		isRow := l.Variants != nil
		if isRow && l.Variant != "" {
			return nil, MergeStats{}, fmt.Errorf("corpus line %d: both variants and variant set", lineNo)
		}
		if (isRow && len(records) > 0) || (!isRow && len(rows) > 0) {
			return nil, MergeStats{}, fmt.Errorf("corpus line %d: row and record forms cannot be mixed", lineNo)
		}
		if isRow {
			rows = append(rows, l)
			continue
		}
		records = append(records, Record{Group: l.Group, ID: l.ID, Variant: l.Variant, Vector: l.Vector})
	}
	if err := sc.Err(); err != nil {
		return nil, MergeStats{}, fmt.Errorf("read corpus: %w", err)
	}

	if len(records) > 0 {
		return Merge(records, opts)
	}

	keys := make([]Key, len(rows))
	cells := make([]map[string]Vector, len(rows))
	for i, l := range rows {
		keys[i] = Key{Group: l.Group, ID: l.ID}
		cells[i] = l.Variants
	}
	return mergeRows(keys, cells, opts)
}
