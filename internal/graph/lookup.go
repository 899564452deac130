package graph

import "fmt"

// FindTensor returns the index of the first tensor named name, or NoTensor.
func (m *Model) FindTensor(name string) TensorIndex {
	for i := range m.Subgraph.Tensors {
		if m.Subgraph.Tensors[i].Name == name {
			return TensorIndex(i)
		}
	}
	return NoTensor
}

// FindOperators returns every operator of the given kind, in graph order.
func (m *Model) FindOperators(kind BuiltinOperator) []OperatorIndex {
	return m.findOperators(kind, NoTensor, 0)
}

// FindOperatorsWithInput returns operators of the given kind whose first input
// is input, scanning from operator index base.
func (m *Model) FindOperatorsWithInput(kind BuiltinOperator, input TensorIndex, base OperatorIndex) []OperatorIndex {
	return m.findOperators(kind, input, base)
}

func (m *Model) findOperators(kind BuiltinOperator, input TensorIndex, base OperatorIndex) []OperatorIndex {
	var out []OperatorIndex
	if base < 0 {
		base = 0
	}
	ops := m.Subgraph.Operators
	for i := int(base); i < len(ops); i++ {
		op := &ops[i]
		if int(op.Opcode) < 0 || int(op.Opcode) >= len(m.OperatorCodes) {
			continue
		}
		if m.OperatorCodes[op.Opcode].Builtin != kind {
			continue
		}
		if input != NoTensor && (len(op.Inputs) == 0 || op.Inputs[0] != input) {
			continue
		}
		out = append(out, OperatorIndex(i))
	}
	return out
}

// FindSingleOperator returns the only operator of the given kind.
func (m *Model) FindSingleOperator(kind BuiltinOperator) (OperatorIndex, error) {
	return single(m.FindOperators(kind), kind)
}

// FindSingleOperatorWithInput returns the only operator of the given kind
// whose first input is input, scanning from base.
func (m *Model) FindSingleOperatorWithInput(kind BuiltinOperator, input TensorIndex, base OperatorIndex) (OperatorIndex, error) {
	return single(m.FindOperatorsWithInput(kind, input, base), kind)
}

func single(found []OperatorIndex, kind BuiltinOperator) (OperatorIndex, error) {
	if len(found) != 1 {
		return -1, fmt.Errorf("%w: want exactly one %s operator, found %d", ErrStructure, kind, len(found))
	}
	return found[0], nil
}

// OutputTensors returns the subgraph's declared output tensors.
func (m *Model) OutputTensors() []*Tensor {
	out := make([]*Tensor, 0, len(m.Subgraph.Outputs))
	for _, idx := range m.Subgraph.Outputs {
		out = append(out, m.Tensor(idx))
	}
	return out
}

// OutputTensor returns the index of the subgraph's sole output tensor.
func (m *Model) OutputTensor() (TensorIndex, error) {
	if n := len(m.Subgraph.Outputs); n != 1 {
		return NoTensor, fmt.Errorf("%w: want exactly one graph output, found %d", ErrStructure, n)
	}
	return m.checkTensor(m.Subgraph.Outputs[0], "graph output")
}

// InputTensor returns the index of the subgraph's sole input tensor.
func (m *Model) InputTensor() (TensorIndex, error) {
	if n := len(m.Subgraph.Inputs); n != 1 {
		return NoTensor, fmt.Errorf("%w: want exactly one graph input, found %d", ErrStructure, n)
	}
	return m.checkTensor(m.Subgraph.Inputs[0], "graph input")
}

func (m *Model) checkTensor(idx TensorIndex, role string) (TensorIndex, error) {
	if idx < 0 || int(idx) >= len(m.Subgraph.Tensors) {
		return NoTensor, fmt.Errorf("%w: %s references tensor %d of %d", ErrStructure, role, idx, len(m.Subgraph.Tensors))
	}
	return idx, nil
}
