package compare

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ComparisonType names one evaluation configuration: the variant used as the
// query and the ordered variants that count as correct matches for it.
type ComparisonType struct {
	Name          string   `yaml:"name"`
	TargetVariant string   `yaml:"target"`
	MatchVariants []string `yaml:"match"`
}

// Validate checks that the type is usable by the task sampler.
func (ct ComparisonType) Validate() error {
	if strings.TrimSpace(ct.Name) == "" {
		return fmt.Errorf("comparison type name is required")
	}
	if strings.TrimSpace(ct.TargetVariant) == "" {
		return fmt.Errorf("comparison type %q: target variant is required", ct.Name)
	}
	if len(ct.MatchVariants) == 0 {
		return fmt.Errorf("comparison type %q: at least one match variant is required", ct.Name)
	}
	seen := make(map[string]struct{}, len(ct.MatchVariants))
	for _, v := range ct.MatchVariants {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("comparison type %q: empty match variant", ct.Name)
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("comparison type %q: duplicate match variant %q", ct.Name, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// Variants returns the target followed by the match variants.
func (ct ComparisonType) Variants() []string {
	return append([]string{ct.TargetVariant}, ct.MatchVariants...)
}

// Registry is an ordered set of comparison types with unique names.
type Registry struct {
	types []ComparisonType
}

// NewRegistry validates types and keeps them in the given order.
func NewRegistry(types ...ComparisonType) (*Registry, error) {
	r := &Registry{}
	for _, ct := range types {
		if err := r.Add(ct); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(ct ComparisonType) error {
	if err := ct.Validate(); err != nil {
		return err
	}
	if _, ok := r.Get(ct.Name); ok {
		return fmt.Errorf("comparison type %q registered twice", ct.Name)
	}
	ct.MatchVariants = append([]string(nil), ct.MatchVariants...)
	r.types = append(r.types, ct)
	return nil
}

func (r *Registry) Get(name string) (ComparisonType, bool) {
	for _, ct := range r.types {
		if ct.Name == name {
			return ct, true
		}
	}
	return ComparisonType{}, false
}

// Types returns the registered types in registration order.
func (r *Registry) Types() []ComparisonType {
	out := make([]ComparisonType, len(r.types))
	copy(out, r.types)
	return out
}

func (r *Registry) Len() int { return len(r.types) }

// Select returns a registry restricted to names, in the order given.
func (r *Registry) Select(names ...string) (*Registry, error) {
	out := &Registry{}
	for _, n := range names {
		ct, ok := r.Get(n)
		if !ok {
			return nil, fmt.Errorf("unknown comparison type %q", n)
		}
		if err := out.Add(ct); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DefaultRegistry returns the optimization-level vs. function-splitting
// comparisons: each level against its own split build (both the remaining
// body and the outlined part count as matches), plus O0 against O3 with and
// without splitting.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		ComparisonType{Name: "O0-O0_split", TargetVariant: "O0", MatchVariants: []string{"O0_split", "O0_splitFlag"}},
		ComparisonType{Name: "O1-O1_split", TargetVariant: "O1", MatchVariants: []string{"O1_split", "O1_splitFlag"}},
		ComparisonType{Name: "O2-O2_split", TargetVariant: "O2", MatchVariants: []string{"O2_split", "O2_splitFlag"}},
		ComparisonType{Name: "O3-O3_split", TargetVariant: "O3", MatchVariants: []string{"O3_split", "O3_splitFlag"}},
		ComparisonType{Name: "O0-O3", TargetVariant: "O0", MatchVariants: []string{"O3"}},
		ComparisonType{Name: "O0-O3_split", TargetVariant: "O0", MatchVariants: []string{"O3_split", "O3_splitFlag"}},
	)
	if err != nil {
		panic(err)
	}
	return r
}

type fileFormat struct {
	Types []ComparisonType `yaml:"types"`
}

// Parse decodes a YAML registry:
//
//	types:
//	  - name: O0-O3
//	    target: O0
//	    match: [O3]
func Parse(data []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse comparison types: %w", err)
	}
	if len(f.Types) == 0 {
		return nil, fmt.Errorf("no comparison types defined")
	}
	return NewRegistry(f.Types...)
}

// LoadFile reads a YAML registry from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read comparison types: %w", err)
	}
	return Parse(data)
}
