// Package graph is the in-memory form of a serialized, quantized computation graph.
//
// A Model owns its operator codes, buffers and exactly one subgraph. All
// cross-references are positions in those lists; positions are identity, so
// entries are only ever appended, never reordered.
package graph

import (
	"slices"

	"github.com/google/uuid"
)

// Model is one editable graph.
type Model struct {
	OperatorCodes []OperatorCode
	Buffers       []Buffer
	Subgraph      Subgraph
	Metadata      Metadata
}

// Metadata describes the provenance of a graph file.
type Metadata struct {
	// ID is assigned each time the graph is written.
	ID uuid.UUID
	// ParentID is the ID of the graph this one was derived from, if known.
	ParentID    uuid.UUID
	Producer    string
	Description string
}

// OperatorCode identifies an operator kind. CustomCode is only meaningful
// when Builtin is OpCustom.
type OperatorCode struct {
	Builtin    BuiltinOperator
	CustomCode string
}

// Buffer is raw storage for one tensor. Buffers of non-parameter tensors are
// empty; the runtime treats any populated buffer as a constant.
type Buffer struct {
	Data []byte
}

// Quantization holds per-channel affine parameters. Graphs edited here only
// use a single channel.
type Quantization struct {
	Min       []float32
	Max       []float32
	Scale     []float32
	ZeroPoint []int64
}

// NewQuantization builds single-channel parameters.
func NewQuantization(min, max, scale float32, zeroPoint int64) *Quantization {
	return &Quantization{
		Min:       []float32{min},
		Max:       []float32{max},
		Scale:     []float32{scale},
		ZeroPoint: []int64{zeroPoint},
	}
}

// Clone returns a deep copy; a nil receiver yields nil.
func (q *Quantization) Clone() *Quantization {
	if q == nil {
		return nil
	}
	return &Quantization{
		Min:       slices.Clone(q.Min),
		Max:       slices.Clone(q.Max),
		Scale:     slices.Clone(q.Scale),
		ZeroPoint: slices.Clone(q.ZeroPoint),
	}
}

type Tensor struct {
	Type         TensorType
	Shape        []int32
	Buffer       BufferIndex
	Name         string
	Quantization *Quantization
}

// CustomOptionsFormat describes how a custom operator's option bytes are encoded.
type CustomOptionsFormat uint8

const CustomOptionsFlexbuffers CustomOptionsFormat = 0

type Operator struct {
	Opcode  OpcodeIndex
	Inputs  []TensorIndex
	Outputs []TensorIndex
	// Options is nil for operators without parameters and for custom operators.
	Options Options
	// CustomOptions is an opaque blob, only used by custom operators.
	CustomOptions       []byte
	CustomOptionsFormat CustomOptionsFormat
}

// Clone returns a deep copy of the operator record.
func (op *Operator) Clone() Operator {
	return Operator{
		Opcode:              op.Opcode,
		Inputs:              slices.Clone(op.Inputs),
		Outputs:             slices.Clone(op.Outputs),
		Options:             CloneOptions(op.Options),
		CustomOptions:       slices.Clone(op.CustomOptions),
		CustomOptionsFormat: op.CustomOptionsFormat,
	}
}

type Subgraph struct {
	Name      string
	Tensors   []Tensor
	Operators []Operator
	Inputs    []TensorIndex
	Outputs   []TensorIndex
}

// Tensor returns the tensor at i. It panics on an invalid index, as any
// index obtained from this model is valid by construction.
func (m *Model) Tensor(i TensorIndex) *Tensor {
	return &m.Subgraph.Tensors[i]
}

func (m *Model) Buffer(i BufferIndex) *Buffer {
	return &m.Buffers[i]
}

func (m *Model) Operator(i OperatorIndex) *Operator {
	return &m.Subgraph.Operators[i]
}

func (m *Model) OperatorCode(i OpcodeIndex) OperatorCode {
	return m.OperatorCodes[i]
}

// OperatorKind returns the builtin kind of the operator at i.
func (m *Model) OperatorKind(i OperatorIndex) BuiltinOperator {
	return m.OperatorCodes[m.Subgraph.Operators[i].Opcode].Builtin
}

// AddBuffer appends a zero-filled buffer of the given size and returns its index.
func (m *Model) AddBuffer(sizeBytes int) BufferIndex {
	var b Buffer
	if sizeBytes > 0 {
		b.Data = make([]byte, sizeBytes)
	}
	m.Buffers = append(m.Buffers, b)
	return BufferIndex(len(m.Buffers) - 1)
}

// AddTensor appends t to the subgraph and returns its index.
func (m *Model) AddTensor(t Tensor) TensorIndex {
	m.Subgraph.Tensors = append(m.Subgraph.Tensors, t)
	return TensorIndex(len(m.Subgraph.Tensors) - 1)
}

// AddOperator appends op to the subgraph and returns its index.
func (m *Model) AddOperator(op Operator) OperatorIndex {
	m.Subgraph.Operators = append(m.Subgraph.Operators, op)
	return OperatorIndex(len(m.Subgraph.Operators) - 1)
}

// NumElements returns the product of shape. An empty shape is a scalar.
func NumElements(shape []int32) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	out := &Model{
		OperatorCodes: slices.Clone(m.OperatorCodes),
		Buffers:       slices.Clone(m.Buffers),
		Metadata:      m.Metadata,
		Subgraph: Subgraph{
			Name:      m.Subgraph.Name,
			Tensors:   slices.Clone(m.Subgraph.Tensors),
			Operators: slices.Clone(m.Subgraph.Operators),
			Inputs:    slices.Clone(m.Subgraph.Inputs),
			Outputs:   slices.Clone(m.Subgraph.Outputs),
		},
	}
	for i := range out.Buffers {
		out.Buffers[i].Data = slices.Clone(out.Buffers[i].Data)
	}
	for i := range out.Subgraph.Tensors {
		t := &out.Subgraph.Tensors[i]
		t.Shape = slices.Clone(t.Shape)
		t.Quantization = t.Quantization.Clone()
	}
	for i := range out.Subgraph.Operators {
		out.Subgraph.Operators[i] = out.Subgraph.Operators[i].Clone()
	}
	return out
}
