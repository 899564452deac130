package graph_test

import (
	"errors"
	"testing"

	"github.com/samcharles93/graft/internal/graph"
	"github.com/samcharles93/graft/internal/graph/graphtest"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(m *graph.Model)
	}{
		{"dangling buffer", func(m *graph.Model) { m.Subgraph.Tensors[0].Buffer = 99 }},
		{"negative dimension", func(m *graph.Model) { m.Subgraph.Tensors[0].Shape[1] = -4 }},
		{"dangling opcode", func(m *graph.Model) { m.Subgraph.Operators[0].Opcode = 5 }},
		{"dangling operator input", func(m *graph.Model) { m.Subgraph.Operators[0].Inputs[0] = 17 }},
		{"dangling operator output", func(m *graph.Model) { m.Subgraph.Operators[0].Outputs[0] = -1 }},
		{"dangling graph input", func(m *graph.Model) { m.Subgraph.Inputs[0] = 8 }},
		{"no outputs", func(m *graph.Model) { m.Subgraph.Outputs = nil }},
		{"dangling graph output", func(m *graph.Model) { m.Subgraph.Outputs[0] = 4 }},
		{"duplicate opcode", func(m *graph.Model) {
			m.OperatorCodes = append(m.OperatorCodes, graph.OperatorCode{Builtin: graph.OpDepthwiseConv2D})
		}},
		{"scale without zero point", func(m *graph.Model) {
			m.Subgraph.Tensors[0].Quantization.ZeroPoint = nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := graphtest.EmbeddingModel([]int32{1, 1, 1, 4}, 0.1, 0)
			if err := m.Validate(); err != nil {
				t.Fatalf("fixture: %v", err)
			}
			tt.mutate(m)
			if err := m.Validate(); !errors.Is(err, graph.ErrStructure) {
				t.Fatalf("got %v want ErrStructure", err)
			}
		})
	}
}

func TestValidateAllowsOmittedOptionalInput(t *testing.T) {
	t.Parallel()

	m := graphtest.EmbeddingModel([]int32{1, 1, 1, 4}, 0.1, 0)
	m.Subgraph.Operators[0].Inputs[2] = graph.NoTensor
	if err := m.Validate(); err != nil {
		t.Fatalf("optional input: %v", err)
	}
}
