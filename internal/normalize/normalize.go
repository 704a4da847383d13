package normalize

import (
	"errors"
	"math"
)

// ErrZeroNorm is returned when a vector has no direction to normalize to.
var ErrZeroNorm = errors.New("zero-norm vector")

// ErrNonFinite is returned when a vector contains NaN or Inf components.
var ErrNonFinite = errors.New("non-finite vector component")

// Norm returns the L2 norm of vec, accumulated in float64.
func Norm(vec []float32) float64 {
	var sumSq float64
	for _, v := range vec {
		f := float64(v)
		sumSq += f * f
	}
	return math.Sqrt(sumSq)
}

// L2NormalizeInPlace normalizes vec to unit L2 norm.
// If vec is empty or all zeros, it is left unchanged.
func L2NormalizeInPlace(vec []float32) {
	if len(vec) == 0 {
		return
	}
	n := Norm(vec)
	if n <= 0 {
		return
	}
	invNorm := float32(1.0 / n)
	for i := range vec {
		vec[i] *= invNorm
	}
}

// Unit returns a float64 copy of vec scaled to unit L2 norm.
// Empty, all-zero and non-finite vectors are rejected rather than passed through.
func Unit(vec []float32) ([]float64, error) {
	if len(vec) == 0 {
		return nil, ErrZeroNorm
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrNonFinite
		}
	}
	n := Norm(vec)
	if n <= 0 || math.IsInf(n, 0) {
		return nil, ErrZeroNorm
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v) / n
	}
	return out, nil
}

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
