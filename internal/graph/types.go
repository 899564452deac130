package graph

import "fmt"

// Entities are addressed by their position in the owning list. Each kind of
// position has its own type so a tensor index cannot stand in for a buffer index.
type (
	TensorIndex   int32
	BufferIndex   int32
	OpcodeIndex   int32
	OperatorIndex int32
)

// NoTensor is returned by lookups that find nothing.
const NoTensor TensorIndex = -1

// BuiltinOperator identifies an operator kind. Values match the runtime's
// builtin operator codes and must never be renumbered.
type BuiltinOperator uint32

const (
	OpAdd             BuiltinOperator = 0
	OpAveragePool2D   BuiltinOperator = 1
	OpConcatenation   BuiltinOperator = 2
	OpConv2D          BuiltinOperator = 3
	OpDepthwiseConv2D BuiltinOperator = 4
	OpDequantize      BuiltinOperator = 6
	OpFullyConnected  BuiltinOperator = 9
	OpL2Normalization BuiltinOperator = 11
	OpLogistic        BuiltinOperator = 14
	OpMaxPool2D       BuiltinOperator = 17
	OpMul             BuiltinOperator = 18
	OpRelu            BuiltinOperator = 19
	OpRelu6           BuiltinOperator = 21
	OpReshape         BuiltinOperator = 22
	OpResizeBilinear  BuiltinOperator = 23
	OpSoftmax         BuiltinOperator = 25
	OpCustom          BuiltinOperator = 32
	OpPad             BuiltinOperator = 34
	OpMean            BuiltinOperator = 40
	OpSqueeze         BuiltinOperator = 43
	OpQuantize        BuiltinOperator = 114
)

var builtinNames = map[BuiltinOperator]string{
	OpAdd:             "ADD",
	OpAveragePool2D:   "AVERAGE_POOL_2D",
	OpConcatenation:   "CONCATENATION",
	OpConv2D:          "CONV_2D",
	OpDepthwiseConv2D: "DEPTHWISE_CONV_2D",
	OpDequantize:      "DEQUANTIZE",
	OpFullyConnected:  "FULLY_CONNECTED",
	OpL2Normalization: "L2_NORMALIZATION",
	OpLogistic:        "LOGISTIC",
	OpMaxPool2D:       "MAX_POOL_2D",
	OpMul:             "MUL",
	OpRelu:            "RELU",
	OpRelu6:           "RELU6",
	OpReshape:         "RESHAPE",
	OpResizeBilinear:  "RESIZE_BILINEAR",
	OpSoftmax:         "SOFTMAX",
	OpCustom:          "CUSTOM",
	OpPad:             "PAD",
	OpMean:            "MEAN",
	OpSqueeze:         "SQUEEZE",
	OpQuantize:        "QUANTIZE",
}

func (op BuiltinOperator) String() string {
	if name, ok := builtinNames[op]; ok {
		return name
	}
	return fmt.Sprintf("BUILTIN_%d", uint32(op))
}

// ParseBuiltinOperator resolves a case-sensitive operator name such as "SOFTMAX".
func ParseBuiltinOperator(name string) (BuiltinOperator, bool) {
	for op, n := range builtinNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// TensorType is the element type of a tensor. Values match the runtime's codes.
type TensorType uint8

const (
	TypeFloat32 TensorType = 0
	TypeInt32   TensorType = 2
	TypeUInt8   TensorType = 3
)

func (t TensorType) String() string {
	switch t {
	case TypeFloat32:
		return "FLOAT32"
	case TypeInt32:
		return "INT32"
	case TypeUInt8:
		return "UINT8"
	default:
		return fmt.Sprintf("TYPE_%d", uint8(t))
	}
}

// ElementSize returns the byte width of one element, or 0 for unsupported types.
func (t TensorType) ElementSize() int {
	switch t {
	case TypeUInt8:
		return 1
	case TypeInt32, TypeFloat32:
		return 4
	default:
		return 0
	}
}
