package corpus

import "fmt"

// Rand is the randomness source used for negative sampling. *math/rand.Rand
// satisfies it.
type Rand interface {
	Intn(n int) int
}

// SampleOthers draws n distinct rows uniformly at random, without replacement,
// from the rows that have a present value for variant, excluding the row at
// position exclude. It returns the variant vectors of the drawn rows in draw
// order. Pass exclude < 0 to exclude nothing.
func (c *Corpus) SampleOthers(rng Rand, variant string, exclude int, n int) ([]Vector, error) {
	if n < 0 {
		return nil, fmt.Errorf("sample size must be >= 0, got %d", n)
	}
	if n == 0 {
		return []Vector{}, nil
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}

	src := c.eligible[variant]
	candidates := make([]int, 0, len(src))
	for _, pos := range src {
		if pos == exclude {
			continue
		}
		candidates = append(candidates, pos)
	}
	if len(candidates) < n {
		return nil, fmt.Errorf("variant %q: need %d, have %d: %w", variant, n, len(candidates), ErrTooFewRows)
	}

	// Partial Fisher-Yates: the first n slots end up a uniform sample.
	out := make([]Vector, n)
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
		vec, _ := c.rows[candidates[i]].cells[variant].Vector()
		out[i] = vec
	}
	return out, nil
}
