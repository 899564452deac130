package surgery

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/samcharles93/graft/internal/graph"
)

// Names of tensors created by the layer builders. They are fixed so that
// graphs grafted from the same extractor can later be joined by name.
const (
	L2NormOutputName  = "Imprinting/L2Norm/Output"
	DenseWeightsName  = "Appended/FC/Weights"
	DenseBiasName     = "Appended/FC/Bias"
	DenseOutputName   = "Appended/FC/Output"
	ReshapeOutputName = "Imprinting/Reshape/Output"
	SoftmaxOutputName = "Imprinting/Softmax/Output"
)

// Output quantization of the fixed-range layers.
var (
	// Unit vectors lie in [-1, 1].
	l2NormQuantization = graph.NewQuantization(-1, 1, 1.0/128, 128)
	// Probabilities lie in [0, 1].
	softmaxQuantization = graph.NewQuantization(0, 1, 1.0/256, 0)
)

// DenseQuantization holds the parameters of the three tensors a dense layer creates.
type DenseQuantization struct {
	Kernel *graph.Quantization
	Bias   *graph.Quantization
	Output *graph.Quantization
}

// currentOutput returns the sole graph output tensor.
func (e *Editor) currentOutput() (*graph.Tensor, error) {
	idx, err := e.model.OutputTensor()
	if err != nil {
		return nil, err
	}
	return e.model.Tensor(idx), nil
}

// AppendL2Norm appends an L2 normalization whose output has the current
// output's shape.
func (e *Editor) AppendL2Norm() (graph.OperatorIndex, error) {
	cur, err := e.currentOutput()
	if err != nil {
		return -1, err
	}
	return e.Append([]TensorConfig{{
		Name:         L2NormOutputName,
		Type:         graph.TypeUInt8,
		Role:         RoleOutput,
		Shape:        slices.Clone(cur.Shape),
		Quantization: l2NormQuantization,
	}}, graph.OpL2Normalization)
}

// AppendFullyConnected appends a dense layer as a 1x1 CONV_2D. kernelShape is
// [classes, 1, 1, depth] where depth matches the last dimension of the
// current output. The kernel and bias buffers are zero until SetConv2DParams
// fills them.
func (e *Editor) AppendFullyConnected(kernelShape []int32, q DenseQuantization) (graph.OperatorIndex, error) {
	cur, err := e.currentOutput()
	if err != nil {
		return -1, err
	}
	if len(kernelShape) != 4 || kernelShape[1] != 1 || kernelShape[2] != 1 {
		return -1, fmt.Errorf("%w: dense kernel shape %v, want [classes, 1, 1, depth]", graph.ErrStructure, kernelShape)
	}
	if len(cur.Shape) == 0 || cur.Shape[len(cur.Shape)-1] != kernelShape[3] {
		return -1, fmt.Errorf("%w: dense kernel depth %d does not match input %q shape %v", graph.ErrStructure, kernelShape[3], cur.Name, cur.Shape)
	}

	return e.Append([]TensorConfig{
		{
			Name:         DenseWeightsName,
			Type:         graph.TypeUInt8,
			Role:         RoleParameter,
			Shape:        slices.Clone(kernelShape),
			Quantization: q.Kernel,
		},
		{
			Name:         DenseBiasName,
			Type:         graph.TypeInt32,
			Role:         RoleParameter,
			Shape:        []int32{kernelShape[0]},
			Quantization: q.Bias,
		},
		{
			Name:         DenseOutputName,
			Type:         graph.TypeUInt8,
			Role:         RoleOutput,
			Shape:        conv2DOutputShape(cur.Shape, kernelShape),
			Quantization: q.Output,
		},
	}, graph.OpConv2D)
}

// conv2DOutputShape is input with its last dimension replaced by the
// kernel's output channel count.
func conv2DOutputShape(input, kernel []int32) []int32 {
	out := slices.Clone(input)
	out[len(out)-1] = kernel[0]
	return out
}

// AppendReshape flattens the current output to [first, last] dimensions. The
// output keeps the input's quantization.
func (e *Editor) AppendReshape() (graph.OperatorIndex, error) {
	cur, err := e.currentOutput()
	if err != nil {
		return -1, err
	}
	if len(cur.Shape) == 0 {
		return -1, fmt.Errorf("%w: cannot reshape scalar tensor %q", graph.ErrStructure, cur.Name)
	}
	return e.Append([]TensorConfig{{
		Name:         ReshapeOutputName,
		Type:         graph.TypeUInt8,
		Role:         RoleOutput,
		Shape:        []int32{cur.Shape[0], cur.Shape[len(cur.Shape)-1]},
		Quantization: cur.Quantization,
	}}, graph.OpReshape)
}

// AppendSoftmax appends a softmax whose output has the current output's shape.
func (e *Editor) AppendSoftmax() (graph.OperatorIndex, error) {
	cur, err := e.currentOutput()
	if err != nil {
		return -1, err
	}
	return e.Append([]TensorConfig{{
		Name:         SoftmaxOutputName,
		Type:         graph.TypeUInt8,
		Role:         RoleOutput,
		Shape:        slices.Clone(cur.Shape),
		Quantization: softmaxQuantization,
	}}, graph.OpSoftmax)
}

// SetConv2DParams writes quantized kernel and bias values into the buffers
// of the CONV_2D operator at op. The kernel buffer grows if it is too short.
// A non-empty bias must fill its buffer exactly; an empty bias zeroes it.
func (e *Editor) SetConv2DParams(kernel []uint8, bias []int32, op graph.OperatorIndex) error {
	m := e.model
	if op < 0 || int(op) >= len(m.Subgraph.Operators) {
		return fmt.Errorf("%w: operator %d of %d", graph.ErrStructure, op, len(m.Subgraph.Operators))
	}
	if kind := m.OperatorKind(op); kind != graph.OpConv2D {
		return fmt.Errorf("%w: operator %d is %s, want %s", graph.ErrStructure, op, kind, graph.OpConv2D)
	}
	conv := m.Operator(op)
	if len(conv.Inputs) != 3 {
		return fmt.Errorf("%w: %s operator %d has %d inputs, want 3", graph.ErrStructure, graph.OpConv2D, op, len(conv.Inputs))
	}
	for _, in := range conv.Inputs[1:] {
		if in < 0 || int(in) >= len(m.Subgraph.Tensors) {
			return fmt.Errorf("%w: %s operator %d parameter references tensor %d", graph.ErrStructure, graph.OpConv2D, op, in)
		}
	}

	kernelBuf := m.Buffer(m.Tensor(conv.Inputs[1]).Buffer)
	biasBuf := m.Buffer(m.Tensor(conv.Inputs[2]).Buffer)
	if len(bias) > 0 && 4*len(bias) != len(biasBuf.Data) {
		return fmt.Errorf("%w: %d bias values for a %d byte buffer", graph.ErrStructure, len(bias), len(biasBuf.Data))
	}

	if len(kernelBuf.Data) < len(kernel) {
		kernelBuf.Data = slices.Grow(kernelBuf.Data, len(kernel)-len(kernelBuf.Data))[:len(kernel)]
	}
	copy(kernelBuf.Data, kernel)

	if len(bias) == 0 {
		clear(biasBuf.Data)
	} else {
		for i, v := range bias {
			binary.LittleEndian.PutUint32(biasBuf.Data[4*i:], uint32(v))
		}
	}
	e.log.Debug("conv2d params set", "operator", op, "kernel_bytes", len(kernel), "bias_values", len(bias))
	return nil
}
