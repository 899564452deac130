// Package embedding holds vector helpers for building classifier heads from
// embedding vectors.
package embedding

import (
	"errors"
	"fmt"
	"math"
)

var ErrDimension = errors.New("embedding: dimension mismatch")

// normEpsilon is the smallest norm a vector may have and still be normalized.
const normEpsilon = 1e-5

// SquaredSum returns the sum of squares of v.
func SquaredSum(v []float32) float32 {
	var s float32
	for _, x := range v {
		s += x * x
	}
	return s
}

// L2Norm returns the Euclidean length of v.
func L2Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(SquaredSum(v))))
}

// L2Normalize returns v scaled to unit length. Vectors whose norm does not
// exceed 1e-5 normalize to zeros.
func L2Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := L2Norm(v)
	if norm <= normEpsilon {
		return out
	}
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// ImprintWeights computes classifier weights by imprinting: each class's row
// is the normalized mean of its normalized embeddings. classes[c] holds the
// embeddings of class c. The result is the row-major [len(classes), dim]
// kernel and dim.
func ImprintWeights(classes [][][]float32) ([]float32, int, error) {
	if len(classes) == 0 {
		return nil, 0, fmt.Errorf("%w: no classes", ErrDimension)
	}
	dim := -1
	var weights []float32
	for c, samples := range classes {
		if len(samples) == 0 {
			return nil, 0, fmt.Errorf("%w: class %d has no embeddings", ErrDimension, c)
		}
		if dim < 0 {
			dim = len(samples[0])
			if dim == 0 {
				return nil, 0, fmt.Errorf("%w: empty embedding", ErrDimension)
			}
			weights = make([]float32, 0, len(classes)*dim)
		}

		mean := make([]float32, dim)
		for i, s := range samples {
			if len(s) != dim {
				return nil, 0, fmt.Errorf("%w: class %d embedding %d has %d values, want %d", ErrDimension, c, i, len(s), dim)
			}
			for j, x := range L2Normalize(s) {
				mean[j] += x
			}
		}
		for j := range mean {
			mean[j] /= float32(len(samples))
		}
		weights = append(weights, L2Normalize(mean)...)
	}
	return weights, dim, nil
}
