package surgery

import (
	"fmt"
	"slices"

	"github.com/samcharles93/graft/internal/graph"
)

// TensorRole says where a tensor created by an append is attached.
type TensorRole uint8

const (
	// RoleOutput tensors are produced by the new operator. Their buffers stay
	// empty so the runtime allocates them.
	RoleOutput TensorRole = iota
	// RoleInput tensors are pre-existing operator inputs resolved by name.
	RoleInput
	// RoleParameter tensors are constant inputs backed by a sized buffer.
	RoleParameter
)

func (r TensorRole) String() string {
	switch r {
	case RoleOutput:
		return "output"
	case RoleInput:
		return "input"
	case RoleParameter:
		return "parameter"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// TensorConfig describes one tensor taking part in an append.
type TensorConfig struct {
	Name         string
	Type         graph.TensorType
	Role         TensorRole
	Shape        []int32
	Quantization *graph.Quantization
}

// bufferSize is the byte length of the buffer backing a new tensor.
func (c *TensorConfig) bufferSize() (int, error) {
	if c.Role != RoleParameter {
		return 0, nil
	}
	size := c.Type.ElementSize()
	if size == 0 {
		return 0, fmt.Errorf("%w: tensor %q has unsupported type %s", graph.ErrStructure, c.Name, c.Type)
	}
	for _, d := range c.Shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: tensor %q has negative dimension in shape %v", graph.ErrStructure, c.Name, c.Shape)
		}
	}
	return graph.NumElements(c.Shape) * size, nil
}

// configArity is the number of tensor configs each appendable builtin takes.
var configArity = map[graph.BuiltinOperator]int{
	graph.OpConv2D:          3,
	graph.OpL2Normalization: 1,
	graph.OpReshape:         1,
	graph.OpSoftmax:         1,
}

// softmaxBeta must stay non-zero: the runtime derives a fixed-point
// multiplier from it and rejects 0.
const softmaxBeta = 1.0

// builtinOptions returns the parameter payload of a new operator of kind.
func builtinOptions(kind graph.BuiltinOperator, configs []TensorConfig) (graph.Options, error) {
	switch kind {
	case graph.OpL2Normalization:
		return graph.L2NormOptions{}, nil
	case graph.OpConv2D:
		// A 1x1 kernel with unit stride acts as a dense layer.
		return graph.Conv2DOptions{
			Padding:   graph.PaddingSame,
			StrideW:   1,
			StrideH:   1,
			DilationW: 1,
			DilationH: 1,
		}, nil
	case graph.OpReshape:
		return graph.ReshapeOptions{NewShape: slices.Clone(configs[0].Shape)}, nil
	case graph.OpSoftmax:
		return graph.SoftmaxOptions{Beta: softmaxBeta}, nil
	default:
		return nil, fmt.Errorf("%w: no options builder for %s", graph.ErrUnsupportedOperator, kind)
	}
}

// plannedTensor is a tensor staged by an append before anything is committed.
type plannedTensor struct {
	config *TensorConfig
	size   int
}

// Append attaches a builtin operator of kind to the current graph output.
//
// CONV_2D takes three configs (kernel, bias, output); L2_NORMALIZATION,
// RESHAPE and SOFTMAX take exactly one output config. The operator's first
// input is the current first graph output; parameter tensors follow it in
// config order. On success the first graph output is replaced by the new
// operator's first output.
func (e *Editor) Append(configs []TensorConfig, kind graph.BuiltinOperator) (graph.OperatorIndex, error) {
	m := e.model
	want, ok := configArity[kind]
	if !ok {
		return -1, fmt.Errorf("%w: cannot append %s", graph.ErrUnsupportedOperator, kind)
	}
	if len(configs) != want {
		return -1, fmt.Errorf("%w: %s takes %d tensor configs, got %d", graph.ErrStructure, kind, want, len(configs))
	}
	if len(m.Subgraph.Outputs) == 0 {
		return -1, fmt.Errorf("%w: graph has no output to append %s to", graph.ErrStructure, kind)
	}
	current := m.Subgraph.Outputs[0]
	if current < 0 || int(current) >= len(m.Subgraph.Tensors) {
		return -1, fmt.Errorf("%w: graph output references tensor %d of %d", graph.ErrStructure, current, len(m.Subgraph.Tensors))
	}

	planned := make([]plannedTensor, 0, len(configs))
	outputs := 0
	for i := range configs {
		c := &configs[i]
		if c.Role == RoleInput {
			return -1, fmt.Errorf("%w: %s tensor %q: input role is only valid for custom appends", graph.ErrStructure, kind, c.Name)
		}
		size, err := c.bufferSize()
		if err != nil {
			return -1, err
		}
		if c.Role == RoleOutput {
			outputs++
		}
		planned = append(planned, plannedTensor{config: c, size: size})
	}
	if outputs == 0 {
		return -1, fmt.Errorf("%w: %s has no output tensor config", graph.ErrStructure, kind)
	}
	options, err := builtinOptions(kind, configs)
	if err != nil {
		return -1, err
	}

	// Nothing below can fail.
	op := graph.Operator{
		Opcode:  e.findOrCreateOpcode(kind, ""),
		Inputs:  []graph.TensorIndex{current},
		Options: options,
	}
	e.commitTensors(&op, planned)

	m.Subgraph.Outputs[0] = op.Outputs[0]
	idx := m.AddOperator(op)
	e.log.Debug("appended operator", "kind", kind, "operator", idx, "inputs", op.Inputs, "outputs", op.Outputs)
	return idx, nil
}

// AppendCustom attaches an operator whose tensors may already exist.
//
// Each config whose name matches an existing tensor wires that tensor instead
// of creating one; existing tensors come first in the operator's input and
// output lists. For OpCustom the operator stores customOptions as a
// FlexBuffers blob and is registered under customCode; builtin kinds get
// their usual options. The whole graph output list is replaced by the
// operator's outputs.
func (e *Editor) AppendCustom(configs []TensorConfig, kind graph.BuiltinOperator, customCode string, customOptions []byte) (graph.OperatorIndex, error) {
	m := e.model
	if kind != graph.OpCustom {
		want, ok := configArity[kind]
		if !ok {
			return -1, fmt.Errorf("%w: cannot append %s", graph.ErrUnsupportedOperator, kind)
		}
		if len(configs) != want {
			return -1, fmt.Errorf("%w: %s takes %d tensor configs, got %d", graph.ErrStructure, kind, want, len(configs))
		}
	} else if customCode == "" {
		return -1, fmt.Errorf("%w: custom operator needs a custom code", graph.ErrStructure)
	}
	if len(m.Subgraph.Outputs) == 0 {
		return -1, fmt.Errorf("%w: graph has no output to append %s to", graph.ErrStructure, kind)
	}

	var op graph.Operator
	planned := make([]plannedTensor, 0, len(configs))
	for i := range configs {
		c := &configs[i]
		if idx := m.FindTensor(c.Name); idx != graph.NoTensor {
			if c.Role == RoleOutput {
				op.Outputs = append(op.Outputs, idx)
			} else {
				op.Inputs = append(op.Inputs, idx)
			}
			continue
		}
		if c.Role == RoleInput {
			return -1, fmt.Errorf("%w: %s input tensor %q not found", graph.ErrStructure, kind, c.Name)
		}
		size, err := c.bufferSize()
		if err != nil {
			return -1, err
		}
		planned = append(planned, plannedTensor{config: c, size: size})
	}
	hasOutput := len(op.Outputs) > 0
	for _, p := range planned {
		hasOutput = hasOutput || p.config.Role == RoleOutput
	}
	if !hasOutput {
		return -1, fmt.Errorf("%w: %s has no output tensor config", graph.ErrStructure, kind)
	}

	if kind == graph.OpCustom {
		op.CustomOptions = slices.Clone(customOptions)
		op.CustomOptionsFormat = graph.CustomOptionsFlexbuffers
	} else {
		options, err := builtinOptions(kind, configs)
		if err != nil {
			return -1, err
		}
		op.Options = options
	}

	op.Opcode = e.findOrCreateOpcode(kind, customCode)
	e.commitTensors(&op, planned)

	m.Subgraph.Outputs = slices.Clone(op.Outputs)
	idx := m.AddOperator(op)
	e.log.Debug("appended operator", "kind", kind, "custom_code", customCode, "operator", idx, "inputs", op.Inputs, "outputs", op.Outputs)
	return idx, nil
}

func (e *Editor) findOrCreateOpcode(kind graph.BuiltinOperator, customCode string) graph.OpcodeIndex {
	before := len(e.model.OperatorCodes)
	idx := e.model.FindOrCreateOpcode(kind, customCode)
	if len(e.model.OperatorCodes) > before {
		e.log.Debug("opcode added", "kind", kind, "custom_code", customCode, "index", idx)
	} else {
		e.log.Debug("opcode found", "kind", kind, "custom_code", customCode, "index", idx)
	}
	return idx
}

// commitTensors creates the buffers and tensors of planned and routes each to
// op's inputs or outputs.
func (e *Editor) commitTensors(op *graph.Operator, planned []plannedTensor) {
	m := e.model
	for _, p := range planned {
		c := p.config
		buf := m.AddBuffer(p.size)
		idx := m.AddTensor(graph.Tensor{
			Type:         c.Type,
			Shape:        slices.Clone(c.Shape),
			Buffer:       buf,
			Name:         c.Name,
			Quantization: c.Quantization.Clone(),
		})
		e.log.Debug("tensor added", "name", c.Name, "role", c.Role, "tensor", idx, "buffer", buf, "buffer_bytes", p.size)
		if c.Role == RoleOutput {
			op.Outputs = append(op.Outputs, idx)
		} else {
			op.Inputs = append(op.Inputs, idx)
		}
	}
}
