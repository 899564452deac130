package graph

import "slices"

// Options is the operator-kind-specific parameter payload of an Operator.
// The set of cases is closed: L2NormOptions, Conv2DOptions, ReshapeOptions,
// SoftmaxOptions and RawOptions.
type Options interface {
	// OptionsType is the persisted tag of the payload.
	OptionsType() OptionsType
	clone() Options
}

// OptionsType tags a persisted options payload. Values match the runtime's
// builtin options union and must never be renumbered.
type OptionsType uint8

const (
	OptionsNone    OptionsType = 0
	OptionsConv2D  OptionsType = 1
	OptionsSoftmax OptionsType = 9
	OptionsL2Norm  OptionsType = 12
	OptionsReshape OptionsType = 17
)

type Padding uint8

const (
	PaddingSame Padding = iota
	PaddingValid
)

type Activation uint8

const (
	ActivationNone Activation = iota
	ActivationRelu
	ActivationReluN1To1
	ActivationRelu6
)

type L2NormOptions struct {
	Activation Activation
}

func (L2NormOptions) OptionsType() OptionsType { return OptionsL2Norm }

func (o L2NormOptions) clone() Options { return o }

type Conv2DOptions struct {
	Padding    Padding
	StrideW    int32
	StrideH    int32
	DilationW  int32
	DilationH  int32
	Activation Activation
}

func (Conv2DOptions) OptionsType() OptionsType { return OptionsConv2D }

func (o Conv2DOptions) clone() Options { return o }

type ReshapeOptions struct {
	NewShape []int32
}

func (ReshapeOptions) OptionsType() OptionsType { return OptionsReshape }

func (o ReshapeOptions) clone() Options {
	return ReshapeOptions{NewShape: slices.Clone(o.NewShape)}
}

type SoftmaxOptions struct {
	// Beta must be non-zero: the runtime derives a fixed-point multiplier from it.
	Beta float32
}

func (SoftmaxOptions) OptionsType() OptionsType { return OptionsSoftmax }

func (o SoftmaxOptions) clone() Options { return o }

// RawOptions preserves a payload of a kind this package does not interpret,
// so foreign graphs round-trip without losing parameters.
type RawOptions struct {
	Type OptionsType
	Data []byte
}

func (o RawOptions) OptionsType() OptionsType { return o.Type }

func (o RawOptions) clone() Options {
	return RawOptions{Type: o.Type, Data: slices.Clone(o.Data)}
}

// CloneOptions returns a deep copy of o. A nil payload stays nil.
func CloneOptions(o Options) Options {
	if o == nil {
		return nil
	}
	return o.clone()
}
