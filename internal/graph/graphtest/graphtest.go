// Package graphtest builds small graphs for tests.
package graphtest

import (
	"github.com/google/uuid"

	"github.com/samcharles93/graft/internal/graph"
)

// EmbeddingModel returns a graph with a single DEPTHWISE_CONV_2D operator
// that maps a [1,4,4,depth] uint8 feature map to an embedding tensor of the
// given shape, quantized with (scale, zeroPoint). depth is the last dimension
// of embedding. Tensor names mirror a typical frozen extractor:
// "input", "extractor/weights", "extractor/bias" and "embedding".
func EmbeddingModel(embedding []int32, scale float32, zeroPoint int64) *graph.Model {
	m := &graph.Model{
		Metadata: graph.Metadata{
			ID:       uuid.MustParse("6f0c2f8e-4d2a-4c9a-9b55-0b6f6b1d7a10"),
			Producer: "graphtest",
		},
	}
	dwconv := m.FindOrCreateOpcode(graph.OpDepthwiseConv2D, "")
	depth := embedding[len(embedding)-1]

	in := m.AddTensor(graph.Tensor{
		Type:         graph.TypeUInt8,
		Shape:        []int32{1, 4, 4, depth},
		Buffer:       m.AddBuffer(0),
		Name:         "input",
		Quantization: graph.NewQuantization(0, 1, 1.0/255, 0),
	})

	weights := m.AddBuffer(int(depth) * 4 * 4)
	for i := range m.Buffer(weights).Data {
		m.Buffer(weights).Data[i] = byte(i)
	}
	w := m.AddTensor(graph.Tensor{
		Type:         graph.TypeUInt8,
		Shape:        []int32{1, 4, 4, depth},
		Buffer:       weights,
		Name:         "extractor/weights",
		Quantization: graph.NewQuantization(-1, 1, 2.0/255, 128),
	})
	b := m.AddTensor(graph.Tensor{
		Type:         graph.TypeInt32,
		Shape:        []int32{depth},
		Buffer:       m.AddBuffer(int(depth) * 4),
		Name:         "extractor/bias",
		Quantization: graph.NewQuantization(0, 0, 1.0/255*2.0/255, 0),
	})
	out := m.AddTensor(graph.Tensor{
		Type:         graph.TypeUInt8,
		Shape:        embedding,
		Buffer:       m.AddBuffer(0),
		Name:         "embedding",
		Quantization: graph.NewQuantization(0, 25.5, scale, zeroPoint),
	})

	m.AddOperator(graph.Operator{
		Opcode:  dwconv,
		Inputs:  []graph.TensorIndex{in, w, b},
		Outputs: []graph.TensorIndex{out},
		// Depthwise options are carried opaquely: VALID padding, unit
		// strides, depth multiplier 1.
		Options: graph.RawOptions{Type: 2, Data: []byte{1, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}},
	})
	m.Subgraph.Name = "main"
	m.Subgraph.Inputs = []graph.TensorIndex{in}
	m.Subgraph.Outputs = []graph.TensorIndex{out}
	return m
}
