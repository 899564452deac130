package surgery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/graft/internal/graph"
	"github.com/samcharles93/graft/internal/graph/graphtest"
)

func newEmbedding() *graph.Model {
	return graphtest.EmbeddingModel([]int32{1, 1, 1, 4}, 0.1, 0)
}

func softmaxConfig(shape []int32) []TensorConfig {
	return []TensorConfig{{
		Name:         SoftmaxOutputName,
		Type:         graph.TypeUInt8,
		Role:         RoleOutput,
		Shape:        shape,
		Quantization: softmaxQuantization,
	}}
}

func TestAppendThenDetachRestoresOutputs(t *testing.T) {
	t.Parallel()

	m := newEmbedding()
	e := NewEditor(m, nil)
	orig := m.Subgraph.Outputs[0]
	nOps, nTensors, nBufs := len(m.Subgraph.Operators), len(m.Subgraph.Tensors), len(m.Buffers)

	idx, err := e.Append(softmaxConfig([]int32{1, 1, 1, 4}), graph.OpSoftmax)
	require.NoError(t, err)

	op := m.Operator(idx)
	require.Equal(t, []graph.TensorIndex{orig}, op.Inputs)
	require.Len(t, op.Outputs, 1)
	require.Equal(t, op.Outputs, m.Subgraph.Outputs)
	require.Equal(t, graph.SoftmaxOptions{Beta: 1}, op.Options)
	require.Equal(t, SoftmaxOutputName, m.Tensor(op.Outputs[0]).Name)

	detached, ok := e.DetachTrailing(graph.OpSoftmax, "")
	require.True(t, ok)
	require.Equal(t, *op, detached)
	require.Equal(t, []graph.TensorIndex{orig}, m.Subgraph.Outputs)
	require.Len(t, m.Subgraph.Operators, nOps)
	// The detached operator's tensor and buffer remain as orphans.
	require.Len(t, m.Subgraph.Tensors, nTensors+1)
	require.Len(t, m.Buffers, nBufs+1)
}

func TestDetachMismatchIsNoop(t *testing.T) {
	t.Parallel()

	m := newEmbedding()
	e := NewEditor(m, nil)
	_, err := e.Append(softmaxConfig([]int32{1, 1, 1, 4}), graph.OpSoftmax)
	require.NoError(t, err)
	before := m.Clone()

	_, ok := e.DetachTrailing(graph.OpReshape, "")
	require.False(t, ok)
	_, ok = e.DetachTrailing(graph.OpCustom, "Softmax")
	require.False(t, ok)
	require.Equal(t, before, m)

	empty := &graph.Model{}
	_, ok = NewEditor(empty, nil).DetachTrailing(graph.OpSoftmax, "")
	require.False(t, ok)
}

func TestDetachSkipsOmittedInputs(t *testing.T) {
	t.Parallel()

	m := newEmbedding()
	in, weights := m.FindTensor("input"), m.FindTensor("extractor/weights")
	require.NotEqual(t, graph.NoTensor, in)
	require.NotEqual(t, graph.NoTensor, weights)
	m.Operator(0).Inputs = []graph.TensorIndex{in, weights, graph.NoTensor}
	require.NoError(t, m.Validate())

	op, ok := NewEditor(m, nil).DetachTrailing(graph.OpDepthwiseConv2D, "")
	require.True(t, ok)
	require.Equal(t, []graph.TensorIndex{in, weights, graph.NoTensor}, op.Inputs)
	require.Equal(t, []graph.TensorIndex{in, weights}, m.Subgraph.Outputs)
	require.NoError(t, m.Validate())
	require.Len(t, m.OutputTensors(), 2)
}

func TestDetachWithoutTensorInputsIsNoop(t *testing.T) {
	t.Parallel()

	m := newEmbedding()
	m.Operator(0).Inputs = []graph.TensorIndex{graph.NoTensor}
	before := m.Clone()

	_, ok := NewEditor(m, nil).DetachTrailing(graph.OpDepthwiseConv2D, "")
	require.False(t, ok)
	require.Equal(t, before, m)
}

func TestAppendBufferRoles(t *testing.T) {
	t.Parallel()

	m := newEmbedding()
	e := NewEditor(m, nil)
	configs := []TensorConfig{
		{Name: "k", Type: graph.TypeUInt8, Role: RoleParameter, Shape: []int32{3, 1, 1, 4}},
		{Name: "b", Type: graph.TypeInt32, Role: RoleParameter, Shape: []int32{3}},
		{Name: "o", Type: graph.TypeUInt8, Role: RoleOutput, Shape: []int32{1, 1, 1, 3}},
	}
	idx, err := e.Append(configs, graph.OpConv2D)
	require.NoError(t, err)

	op := m.Operator(idx)
	require.Len(t, op.Inputs, 3)
	require.Len(t, op.Outputs, 1)
	for _, in := range op.Inputs[1:] {
		tensor := m.Tensor(in)
		want := graph.NumElements(tensor.Shape) * tensor.Type.ElementSize()
		require.Len(t, m.Buffer(tensor.Buffer).Data, want, "parameter %q", tensor.Name)
	}
	require.Empty(t, m.Buffer(m.Tensor(op.Outputs[0]).Buffer).Data)
	require.Equal(t, graph.Conv2DOptions{
		Padding: graph.PaddingSame, StrideW: 1, StrideH: 1, DilationW: 1, DilationH: 1,
	}, op.Options)
	require.NoError(t, m.Validate())
}

func TestAppendFailuresLeaveModelUntouched(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		configs []TensorConfig
		kind    graph.BuiltinOperator
		wantErr error
	}{
		{"conv arity", softmaxConfig([]int32{1, 4}), graph.OpConv2D, graph.ErrStructure},
		{"softmax arity", nil, graph.OpSoftmax, graph.ErrStructure},
		{"unsupported kind", softmaxConfig([]int32{1, 4}), graph.OpMean, graph.ErrUnsupportedOperator},
		{"unsupported tensor type", []TensorConfig{
			{Name: "k", Type: graph.TensorType(9), Role: RoleParameter, Shape: []int32{1}},
			{Name: "b", Type: graph.TypeInt32, Role: RoleParameter, Shape: []int32{1}},
			{Name: "o", Type: graph.TypeUInt8, Role: RoleOutput, Shape: []int32{1}},
		}, graph.OpConv2D, graph.ErrStructure},
		{"late invalid config", []TensorConfig{
			{Name: "k", Type: graph.TypeUInt8, Role: RoleParameter, Shape: []int32{1}},
			{Name: "b", Type: graph.TypeInt32, Role: RoleParameter, Shape: []int32{-1}},
			{Name: "o", Type: graph.TypeUInt8, Role: RoleOutput, Shape: []int32{1}},
		}, graph.OpConv2D, graph.ErrStructure},
		{"no output", []TensorConfig{
			{Name: "k", Type: graph.TypeUInt8, Role: RoleParameter, Shape: []int32{1}},
			{Name: "b", Type: graph.TypeInt32, Role: RoleParameter, Shape: []int32{1}},
			{Name: "c", Type: graph.TypeInt32, Role: RoleParameter, Shape: []int32{1}},
		}, graph.OpConv2D, graph.ErrStructure},
		{"input role", []TensorConfig{
			{Name: "embedding", Role: RoleInput},
		}, graph.OpSoftmax, graph.ErrStructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := newEmbedding()
			before := m.Clone()
			_, err := NewEditor(m, nil).Append(tt.configs, tt.kind)
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, before, m)
		})
	}
}

func TestAppendCustomResolvesExistingTensors(t *testing.T) {
	t.Parallel()

	m := newEmbedding()
	e := NewEditor(m, nil)
	emb := m.Subgraph.Outputs[0]
	in := m.Subgraph.Inputs[0]
	opts := []byte{0xde, 0xad}

	idx, err := e.AppendCustom([]TensorConfig{
		{Name: "embedding", Role: RoleInput},
		{Name: "input", Role: RoleInput},
		{Name: "anchors", Type: graph.TypeFloat32, Role: RoleParameter, Shape: []int32{10, 4}},
		{Name: "boxes", Type: graph.TypeFloat32, Role: RoleOutput, Shape: []int32{1, 10, 4}},
		{Name: "scores", Type: graph.TypeFloat32, Role: RoleOutput, Shape: []int32{1, 10}},
	}, graph.OpCustom, "PostProcess", opts)
	require.NoError(t, err)
	opts[0] = 0

	op := m.Operator(idx)
	require.Len(t, op.Inputs, 3)
	require.Equal(t, []graph.TensorIndex{emb, in}, op.Inputs[:2])
	require.Equal(t, "anchors", m.Tensor(op.Inputs[2]).Name)
	require.Len(t, m.Buffer(m.Tensor(op.Inputs[2]).Buffer).Data, 10*4*4)
	require.Equal(t, op.Outputs, m.Subgraph.Outputs)
	require.Len(t, m.Subgraph.Outputs, 2)
	require.Nil(t, op.Options)
	require.Equal(t, []byte{0xde, 0xad}, op.CustomOptions)
	require.Equal(t, graph.CustomOptionsFlexbuffers, op.CustomOptionsFormat)
	require.Equal(t, graph.OperatorCode{Builtin: graph.OpCustom, CustomCode: "PostProcess"}, m.OperatorCode(op.Opcode))
	require.NoError(t, m.Validate())

	_, ok := e.DetachTrailing(graph.OpCustom, "Other")
	require.False(t, ok)
	detached, ok := e.DetachTrailing(graph.OpCustom, "PostProcess")
	require.True(t, ok)
	require.Equal(t, detached.Inputs, m.Subgraph.Outputs)
}

func TestAppendCustomMissingInput(t *testing.T) {
	t.Parallel()

	m := newEmbedding()
	before := m.Clone()
	_, err := NewEditor(m, nil).AppendCustom([]TensorConfig{
		{Name: "nope", Role: RoleInput},
		{Name: "out", Type: graph.TypeUInt8, Role: RoleOutput, Shape: []int32{1}},
	}, graph.OpCustom, "Decoder", nil)
	require.ErrorIs(t, err, graph.ErrStructure)
	require.Equal(t, before, m)

	_, err = NewEditor(m, nil).AppendCustom(nil, graph.OpCustom, "", nil)
	require.ErrorIs(t, err, graph.ErrStructure)
}

func TestAppendCustomWithBuiltinKind(t *testing.T) {
	t.Parallel()

	m := newEmbedding()
	emb := m.Subgraph.Outputs[0]
	idx, err := NewEditor(m, nil).AppendCustom([]TensorConfig{
		{Name: "embedding", Role: RoleInput},
	}, graph.OpSoftmax, "", nil)
	require.ErrorIs(t, err, graph.ErrStructure, "a lone input is not an output")
	require.Equal(t, graph.OperatorIndex(-1), idx)

	idx, err = NewEditor(m, nil).AppendCustom(softmaxConfig([]int32{1, 1, 1, 4}), graph.OpSoftmax, "", nil)
	require.NoError(t, err)
	op := m.Operator(idx)
	require.Empty(t, op.Inputs, "custom appends only wire named tensors")
	require.Equal(t, graph.SoftmaxOptions{Beta: 1}, op.Options)
	require.NotEqual(t, emb, m.Subgraph.Outputs[0])
}
