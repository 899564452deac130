package surgery

import (
	"context"
	"fmt"

	"github.com/samcharles93/graft/internal/graph"
	"github.com/samcharles93/graft/internal/graphstore"
	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/pkg/quant"
)

// ClassifierHead is a learned classification head to graft onto an embedding.
type ClassifierHead struct {
	// Weights is the row-major [classes, depth] kernel.
	Weights []float32
	// Biases has one value per class, or is empty for a zero bias.
	Biases []float32
	// OutputMin and OutputMax bound the dense layer's output (the logits).
	// The range is widened to include 0.
	OutputMin float32
	OutputMax float32
	// Normalize inserts an L2 normalization before the dense layer, as used
	// for weight imprinting.
	Normalize bool
}

// Classifier reports the operators a classifier append created.
type Classifier struct {
	// L2Norm is -1 unless the head was normalized.
	L2Norm       graph.OperatorIndex
	Dense        graph.OperatorIndex
	Reshape      graph.OperatorIndex
	Softmax      graph.OperatorIndex
	Quantization DenseQuantization
}

// DenseQuantParams derives the kernel, bias and output parameters of a dense
// layer reading a tensor quantized with input.
//
// The kernel covers the zero-inclusive range of weights. The bias scale is
// input scale times kernel scale with zero point 0, as the runtime's
// fixed-point multiplier requires. The output covers [outMin, outMax]
// widened to include 0.
func DenseQuantParams(weights, biases []float32, input *graph.Quantization, outMin, outMax float32) (DenseQuantization, error) {
	if input == nil || len(input.Scale) == 0 {
		return DenseQuantization{}, fmt.Errorf("%w: dense input tensor is not quantized", graph.ErrStructure)
	}

	wMin, wMax := quant.ZeroInclusiveRange(weights)
	kernel, err := quant.DeriveAffineParams(wMin, wMax, quant.Uint8)
	if err != nil {
		return DenseQuantization{}, fmt.Errorf("kernel: %w", err)
	}

	bMin, bMax := quant.ZeroInclusiveRange(biases)
	biasScale := input.Scale[0] * kernel.Scale

	oMin, oMax := min(outMin, 0), max(outMax, 0)
	output, err := quant.DeriveAffineParams(oMin, oMax, quant.Uint8)
	if err != nil {
		return DenseQuantization{}, fmt.Errorf("output: %w", err)
	}

	return DenseQuantization{
		Kernel: graph.NewQuantization(wMin, wMax, kernel.Scale, int64(kernel.ZeroPoint)),
		Bias:   graph.NewQuantization(bMin, bMax, biasScale, 0),
		Output: graph.NewQuantization(oMin, oMax, output.Scale, int64(output.ZeroPoint)),
	}, nil
}

func singleParams(q *graph.Quantization) quant.Params {
	return quant.Params{Scale: q.Scale[0], ZeroPoint: int32(q.ZeroPoint[0])}
}

// AppendClassifier grafts head onto the graph's sole output: an optional L2
// normalization, a dense layer, a reshape to [batch, classes] and a softmax.
// On error the model is left unchanged.
func (e *Editor) AppendClassifier(head ClassifierHead) (Classifier, error) {
	res := Classifier{L2Norm: -1}

	emb, err := e.currentOutput()
	if err != nil {
		return res, err
	}
	if len(emb.Shape) == 0 {
		return res, fmt.Errorf("%w: embedding tensor %q is a scalar", graph.ErrStructure, emb.Name)
	}
	depth := int(emb.Shape[len(emb.Shape)-1])
	if depth <= 0 || len(head.Weights) == 0 || len(head.Weights)%depth != 0 {
		return res, fmt.Errorf("%w: %d weights do not form a kernel for embedding %q of depth %d", graph.ErrStructure, len(head.Weights), emb.Name, depth)
	}
	classes := len(head.Weights) / depth
	if len(head.Biases) != 0 && len(head.Biases) != classes {
		return res, fmt.Errorf("%w: %d biases for %d classes", graph.ErrStructure, len(head.Biases), classes)
	}
	e.log.Debug("embedding located", "tensor", emb.Name, "shape", emb.Shape, "classes", classes)

	input := emb.Quantization
	if head.Normalize {
		input = l2NormQuantization
	}
	q, err := DenseQuantParams(head.Weights, head.Biases, input, head.OutputMin, head.OutputMax)
	if err != nil {
		return res, err
	}
	res.Quantization = q
	e.log.Debug("dense quantization derived",
		"kernel", singleParams(q.Kernel),
		"bias", singleParams(q.Bias),
		"output", singleParams(q.Output))

	kernel := quant.QuantizeUint8(head.Weights, singleParams(q.Kernel))
	bias := quant.QuantizeInt32(head.Biases, singleParams(q.Bias))

	restore := e.checkpoint()
	fail := func(err error) (Classifier, error) {
		restore()
		return Classifier{L2Norm: -1}, err
	}

	if head.Normalize {
		if res.L2Norm, err = e.AppendL2Norm(); err != nil {
			return fail(err)
		}
	}
	if res.Dense, err = e.AppendFullyConnected([]int32{int32(classes), 1, 1, int32(depth)}, q); err != nil {
		return fail(err)
	}
	if res.Reshape, err = e.AppendReshape(); err != nil {
		return fail(err)
	}
	if res.Softmax, err = e.AppendSoftmax(); err != nil {
		return fail(err)
	}
	if err := e.SetConv2DParams(kernel, bias, res.Dense); err != nil {
		return fail(err)
	}
	return res, nil
}

// checkpoint records the list lengths and outputs of the model. The returned
// function truncates everything appended since.
func (e *Editor) checkpoint() func() {
	m := e.model
	nCodes, nBufs := len(m.OperatorCodes), len(m.Buffers)
	nTensors, nOps := len(m.Subgraph.Tensors), len(m.Subgraph.Operators)
	outputs := append([]graph.TensorIndex(nil), m.Subgraph.Outputs...)
	return func() {
		m.OperatorCodes = m.OperatorCodes[:nCodes]
		m.Buffers = m.Buffers[:nBufs]
		m.Subgraph.Tensors = m.Subgraph.Tensors[:nTensors]
		m.Subgraph.Operators = m.Subgraph.Operators[:nOps]
		m.Subgraph.Outputs = outputs
	}
}

// GraftRequest describes a file-to-file classifier graft.
type GraftRequest struct {
	InputPath  string
	OutputPath string
	Head       ClassifierHead
	// Producer is recorded in the output file's metadata when set.
	Producer string
}

// AppendDenseAndActivation reads the graph at req.InputPath, grafts req.Head
// onto its output and writes the result to req.OutputPath. The logger is
// taken from ctx.
func AppendDenseAndActivation(ctx context.Context, req GraftRequest) (Classifier, error) {
	log := logger.FromContext(ctx).With("input", req.InputPath)

	m, err := graphstore.Load(req.InputPath)
	if err != nil {
		return Classifier{L2Norm: -1}, err
	}
	log.Debug("graph loaded",
		"operators", len(m.Subgraph.Operators),
		"tensors", len(m.Subgraph.Tensors),
		"buffers", len(m.Buffers))

	if err := ctx.Err(); err != nil {
		return Classifier{L2Norm: -1}, err
	}

	res, err := NewEditor(m, log).AppendClassifier(req.Head)
	if err != nil {
		return res, fmt.Errorf("graft %s: %w", req.InputPath, err)
	}

	if err := graphstore.Save(m, req.OutputPath, graphstore.SaveOptions{Producer: req.Producer}); err != nil {
		return res, err
	}
	log.Info("classifier appended",
		"output", req.OutputPath,
		"output_shape", m.Tensor(m.Subgraph.Outputs[0]).Shape,
		"graph_id", m.Metadata.ID)
	return res, nil
}
