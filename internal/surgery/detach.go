package surgery

import (
	"slices"

	"github.com/samcharles93/graft/internal/graph"
)

// DetachTrailing removes the last operator if it is of kind (and, for custom
// kinds, registered under customCode). The graph outputs become that
// operator's inputs, less any omitted optional inputs. Tensors and buffers it
// referenced stay in place.
//
// It returns a copy of the removed operator and true, or false with the
// model untouched when the trailing operator does not match or has no
// tensor inputs.
func (e *Editor) DetachTrailing(kind graph.BuiltinOperator, customCode string) (graph.Operator, bool) {
	m := e.model
	ops := m.Subgraph.Operators
	if len(ops) == 0 {
		return graph.Operator{}, false
	}
	last := &ops[len(ops)-1]
	if int(last.Opcode) < 0 || int(last.Opcode) >= len(m.OperatorCodes) {
		return graph.Operator{}, false
	}
	oc := m.OperatorCodes[last.Opcode]
	if oc.Builtin != kind || (kind == graph.OpCustom && oc.CustomCode != customCode) {
		e.log.Debug("trailing operator does not match", "want", kind, "have", oc.Builtin, "custom_code", oc.CustomCode)
		return graph.Operator{}, false
	}

	// Omitted optional inputs are NoTensor and cannot become graph outputs.
	outputs := slices.DeleteFunc(slices.Clone(last.Inputs), func(t graph.TensorIndex) bool {
		return t < 0 || int(t) >= len(m.Subgraph.Tensors)
	})
	if len(outputs) == 0 {
		e.log.Debug("trailing operator has no tensor inputs to restore", "kind", kind)
		return graph.Operator{}, false
	}

	detached := last.Clone()
	m.Subgraph.Outputs = outputs
	m.Subgraph.Operators = ops[:len(ops)-1]
	e.log.Debug("detached operator", "kind", kind, "operator", len(ops)-1, "outputs", m.Subgraph.Outputs)
	return detached, true
}
