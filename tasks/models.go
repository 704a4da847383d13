package tasks

import (
	"errors"
	"fmt"

	"github.com/doujins-org/embedeval/corpus"
)

var (
	// ErrInsufficientPool is returned when the corpus cannot supply enough
	// negatives to fill a pool.
	ErrInsufficientPool = errors.New("insufficient pool candidates")

	// ErrInvalidIndex is returned when a task's correct indices break the
	// pool invariants.
	ErrInvalidIndex = errors.New("invalid correct index")
)

// Task is one retrieval problem: rank Pool against Target and look for the
// entries at CorrectIndices. Tasks are not mutated after Build returns them.
type Task struct {
	Type   string
	Entity corpus.Key

	Target         corpus.Vector
	Pool           []corpus.Vector
	CorrectIndices []int
}

// Validate checks the pool invariants: a non-empty correct set of unique
// indices inside [0, len(Pool)).
func (t Task) Validate() error {
	if len(t.CorrectIndices) == 0 {
		return fmt.Errorf("task %s %s: empty correct set: %w", t.Type, t.Entity, ErrInvalidIndex)
	}
	if len(t.CorrectIndices) > len(t.Pool) {
		return fmt.Errorf("task %s %s: %d correct indices for pool of %d: %w", t.Type, t.Entity, len(t.CorrectIndices), len(t.Pool), ErrInvalidIndex)
	}
	seen := make(map[int]struct{}, len(t.CorrectIndices))
	for _, idx := range t.CorrectIndices {
		if idx < 0 || idx >= len(t.Pool) {
			return fmt.Errorf("task %s %s: index %d outside pool of %d: %w", t.Type, t.Entity, idx, len(t.Pool), ErrInvalidIndex)
		}
		if _, dup := seen[idx]; dup {
			return fmt.Errorf("task %s %s: duplicate index %d: %w", t.Type, t.Entity, idx, ErrInvalidIndex)
		}
		seen[idx] = struct{}{}
	}
	return nil
}

// PoolError reports which row could not be given a full pool.
type PoolError struct {
	Type    string
	Entity  corpus.Key
	Variant string
	Err     error
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("comparison type %s: entity %s: variant %s: %v: %v", e.Type, e.Entity, e.Variant, ErrInsufficientPool, e.Err)
}

func (e *PoolError) Unwrap() []error {
	return []error{ErrInsufficientPool, e.Err}
}
