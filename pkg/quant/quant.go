// Package quant implements affine (scale, zero point) quantization as used by
// 8-bit graph runtimes.
//
// A real value r and its quantized value q are related by
//
//	r = scale * (q - zero_point)
//
// Every range handled here must contain 0, so that 0 is exactly representable.
package quant

import (
	"errors"
	"fmt"
	"math"
)

var ErrRangeInvalid = errors.New("quant: invalid range")

// IntRange is the representable range of a target integer type.
type IntRange struct {
	Min int64
	Max int64
}

var (
	Uint8 = IntRange{Min: 0, Max: math.MaxUint8}
	Int8  = IntRange{Min: math.MinInt8, Max: math.MaxInt8}
	Int32 = IntRange{Min: math.MinInt32, Max: math.MaxInt32}
)

func (r IntRange) clamp(v float64) int64 {
	if v <= float64(r.Min) {
		return r.Min
	}
	if v >= float64(r.Max) {
		return r.Max
	}
	return int64(v)
}

// Params holds single-channel affine quantization parameters.
type Params struct {
	Scale     float32
	ZeroPoint int32
}

func (p Params) String() string {
	return fmt.Sprintf("(scale=%g, zero_point=%d)", p.Scale, p.ZeroPoint)
}

// DeriveAffineParams calculates scale and zero point for the float range
// [fmin, fmax] mapped onto the integer range r.
//
// The range must contain 0. A point range must be {0} and yields (0, 0).
func DeriveAffineParams(fmin, fmax float32, r IntRange) (Params, error) {
	if math.IsNaN(float64(fmin)) || math.IsNaN(float64(fmax)) || math.IsInf(float64(fmin), 0) || math.IsInf(float64(fmax), 0) {
		return Params{}, fmt.Errorf("%w: non-finite range [%g, %g]", ErrRangeInvalid, fmin, fmax)
	}
	if fmin > 0 || fmax < 0 {
		return Params{}, fmt.Errorf("%w: [%g, %g] does not contain 0", ErrRangeInvalid, fmin, fmax)
	}
	if r.Max <= r.Min {
		return Params{}, fmt.Errorf("%w: empty integer range [%d, %d]", ErrRangeInvalid, r.Min, r.Max)
	}
	if fmin == fmax {
		// Only reachable with fmin == fmax == 0 given the check above.
		return Params{}, nil
	}

	qmin := float32(r.Min)
	qmax := float32(r.Max)
	scale := (fmax - fmin) / (qmax - qmin)

	// The zero point solves the affine equation for either known pair
	// (fmin, qmin) or (fmax, qmax). The arithmetic error of each is roughly
	// epsilon * (sum of magnitudes of its terms), so use the smaller one.
	fromMin := qmin - fmin/scale
	fromMax := qmax - fmax/scale
	fromMinErr := abs32(qmin) + abs32(fmin/scale)
	fromMaxErr := abs32(qmax) + abs32(fmax/scale)

	zp := fromMax
	if fromMinErr < fromMaxErr {
		zp = fromMin
	}

	// Nudge the zero point onto an integer inside [qmin, qmax].
	var nudged int64
	switch {
	case zp < qmin:
		nudged = r.Min
	case zp > qmax:
		nudged = r.Max
	default:
		nudged = r.clamp(math.Round(float64(zp)))
	}
	if nudged > math.MaxInt32 || nudged < math.MinInt32 {
		return Params{}, fmt.Errorf("%w: zero point %d overflows int32", ErrRangeInvalid, nudged)
	}
	return Params{Scale: scale, ZeroPoint: int32(nudged)}, nil
}

// ZeroInclusiveRange returns the min and max of values, widened to include 0.
// An empty slice yields (0, 0).
func ZeroInclusiveRange(values []float32) (float32, float32) {
	var lo, hi float32
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

func quantizeValue(v float32, p Params, r IntRange) int64 {
	if p.Scale == 0 {
		// Degenerate point range: only 0 is representable.
		return r.clamp(float64(p.ZeroPoint))
	}
	q := math.Round(float64(float32(p.ZeroPoint) + v/p.Scale))
	if math.IsNaN(q) {
		return r.clamp(float64(p.ZeroPoint))
	}
	return r.clamp(q)
}

// Quantize maps values onto r, saturating at its bounds.
func Quantize(values []float32, p Params, r IntRange) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = quantizeValue(v, p, r)
	}
	return out
}

// QuantizeUint8 quantizes values to uint8 storage.
func QuantizeUint8(values []float32, p Params) []uint8 {
	out := make([]uint8, len(values))
	for i, v := range values {
		out[i] = uint8(quantizeValue(v, p, Uint8))
	}
	return out
}

// QuantizeInt32 quantizes values to int32 storage, as used for conv biases.
func QuantizeInt32(values []float32, p Params) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(quantizeValue(v, p, Int32))
	}
	return out
}

type integer interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~int64
}

// Dequantize maps quantized values back to reals.
func Dequantize[T integer](values []T, p Params) []float32 {
	out := make([]float32, len(values))
	for i, q := range values {
		out[i] = p.Scale * float32(int64(q)-int64(p.ZeroPoint))
	}
	return out
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}
