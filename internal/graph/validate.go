package graph

import "fmt"

// Validate checks the cross-reference invariants of the model: every tensor
// references an existing buffer, every operator references an existing
// operator code and existing tensors, graph inputs and outputs are valid and
// there is at least one output.
func (m *Model) Validate() error {
	sg := &m.Subgraph
	nt := len(sg.Tensors)

	for i := range sg.Tensors {
		t := &sg.Tensors[i]
		if t.Buffer < 0 || int(t.Buffer) >= len(m.Buffers) {
			return fmt.Errorf("%w: tensor %d (%q) references buffer %d of %d", ErrStructure, i, t.Name, t.Buffer, len(m.Buffers))
		}
		for _, d := range t.Shape {
			if d < 0 {
				return fmt.Errorf("%w: tensor %d (%q) has negative dimension in shape %v", ErrStructure, i, t.Name, t.Shape)
			}
		}
		if q := t.Quantization; q != nil && len(q.Scale) != len(q.ZeroPoint) {
			return fmt.Errorf("%w: tensor %d (%q) has %d scales and %d zero points", ErrStructure, i, t.Name, len(q.Scale), len(q.ZeroPoint))
		}
	}

	for i := range sg.Operators {
		op := &sg.Operators[i]
		if op.Opcode < 0 || int(op.Opcode) >= len(m.OperatorCodes) {
			return fmt.Errorf("%w: operator %d references opcode %d of %d", ErrStructure, i, op.Opcode, len(m.OperatorCodes))
		}
		for _, idx := range op.Inputs {
			// -1 marks an omitted optional input.
			if idx < NoTensor || int(idx) >= nt {
				return fmt.Errorf("%w: operator %d (%s) input references tensor %d of %d", ErrStructure, i, m.OperatorCodes[op.Opcode].Builtin, idx, nt)
			}
		}
		for _, idx := range op.Outputs {
			if idx < 0 || int(idx) >= nt {
				return fmt.Errorf("%w: operator %d (%s) output references tensor %d of %d", ErrStructure, i, m.OperatorCodes[op.Opcode].Builtin, idx, nt)
			}
		}
	}

	for _, idx := range sg.Inputs {
		if idx < 0 || int(idx) >= nt {
			return fmt.Errorf("%w: graph input references tensor %d of %d", ErrStructure, idx, nt)
		}
	}
	if len(sg.Outputs) == 0 {
		return fmt.Errorf("%w: graph has no outputs", ErrStructure)
	}
	for _, idx := range sg.Outputs {
		if idx < 0 || int(idx) >= nt {
			return fmt.Errorf("%w: graph output references tensor %d of %d", ErrStructure, idx, nt)
		}
	}

	seen := make(map[OperatorCode]int, len(m.OperatorCodes))
	for i, oc := range m.OperatorCodes {
		if oc.Builtin != OpCustom {
			oc.CustomCode = ""
		}
		if j, ok := seen[oc]; ok {
			return fmt.Errorf("%w: opcodes %d and %d are both %s", ErrStructure, j, i, oc.Builtin)
		}
		seen[oc] = i
	}
	return nil
}
