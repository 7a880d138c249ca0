package constprop

// This file folds the element-wise operators: binary arithmetic with
// multi-directional broadcast, unary transforms, and Where.

import (
	"math"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/onnx-constprop/elements"
	"github.com/gomlx/onnx-constprop/ir"
)

// Per-family implementations of the binary arithmetic operators. Arithmetic
// on booleans is excluded (nil entries); Min and Max are total.
var binaryOps = map[string]elements.BinaryOp{
	"Add": {
		Int:   func(lhs, rhs int64) int64 { return lhs + rhs },
		Uint:  func(lhs, rhs uint64) uint64 { return lhs + rhs },
		Float: func(lhs, rhs float64) float64 { return lhs + rhs },
	},
	"Sub": {
		Int:   func(lhs, rhs int64) int64 { return lhs - rhs },
		Uint:  func(lhs, rhs uint64) uint64 { return lhs - rhs },
		Float: func(lhs, rhs float64) float64 { return lhs - rhs },
	},
	"Mul": {
		Int:   func(lhs, rhs int64) int64 { return lhs * rhs },
		Uint:  func(lhs, rhs uint64) uint64 { return lhs * rhs },
		Float: func(lhs, rhs float64) float64 { return lhs * rhs },
	},
	"Div": {
		Int:   func(lhs, rhs int64) int64 { return lhs / rhs },
		Uint:  func(lhs, rhs uint64) uint64 { return lhs / rhs },
		Float: func(lhs, rhs float64) float64 { return lhs / rhs },
	},
	"Min": {
		Int:   func(lhs, rhs int64) int64 { return min(lhs, rhs) },
		Uint:  func(lhs, rhs uint64) uint64 { return min(lhs, rhs) },
		Float: math.Min,
		Bool:  func(lhs, rhs bool) bool { return lhs && rhs },
	},
	"Max": {
		Int:   func(lhs, rhs int64) int64 { return max(lhs, rhs) },
		Uint:  func(lhs, rhs uint64) uint64 { return max(lhs, rhs) },
		Float: math.Max,
		Bool:  func(lhs, rhs bool) bool { return lhs || rhs },
	},
}

func elementwiseBinaryPattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-elementwise-binary",
		OpTypes: []string{"Add", "Sub", "Mul", "Div", "Min", "Max"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) != 2 || !allDenseConstants(op.Inputs) {
				return false
			}
			lhs := ir.ConstantElements(op.Inputs[0])
			rhs := ir.ConstantElements(op.Inputs[1])
			if lhs.DType() != rhs.DType() {
				exceptions.Panicf("element-wise binary ops require matching operand dtypes, got %s and %s",
					lhs.DType(), rhs.DType())
			}
			countFold("ElementwiseBinary", lhs, rhs)
			combiner := binaryOps[op.Type].Combiner(lhs.DType())
			result := elements.Combine(lhs, rhs, op.Outputs[0].Shape, combiner)
			replaceWithConstants(rw, op, result)
			return true
		},
	}
}

// Per-family implementations of the unary operators. Sqrt is float-only,
// matching the ONNX operator.
var unaryOps = map[string]elements.UnaryOp{
	"Neg": {
		Int:   func(val int64) int64 { return -val },
		Uint:  func(val uint64) uint64 { return -val },
		Float: func(val float64) float64 { return -val },
	},
	"Sqrt": {
		Float: math.Sqrt,
	},
	"Relu": {
		Int: func(val int64) int64 { return max(val, 0) },
		Uint: func(val uint64) uint64 {
			return val // Unsigned values are never negative.
		},
		Float: func(val float64) float64 {
			if val < 0 {
				return 0
			}
			return val
		},
	},
}

func elementwiseUnaryPattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-elementwise-unary",
		OpTypes: []string{"Neg", "Sqrt", "Relu"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) != 1 || !allDenseConstants(op.Inputs) {
				return false
			}
			operand := ir.ConstantElements(op.Inputs[0])
			outType := op.Outputs[0].Shape.DType
			if outType != operand.DType() {
				exceptions.Panicf("element-wise unary ops preserve the dtype, got %s -> %s", operand.DType(), outType)
			}
			countFold("ElementwiseUnary", operand)
			fn := unaryOps[op.Type].Function(outType)
			result := elements.Transform(operand, outType, fn)
			replaceWithConstants(rw, op, result)
			return true
		},
	}
}

func wherePattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-where",
		OpTypes: []string{"Where"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) != 3 || !allDenseConstants(op.Inputs) {
				return false
			}
			cond := ir.ConstantElements(op.Inputs[0])
			lhs := ir.ConstantElements(op.Inputs[1])
			rhs := ir.ConstantElements(op.Inputs[2])
			countFold("Where", cond, lhs, rhs)
			result := elements.Where(cond, lhs, rhs, op.Outputs[0].Shape)
			replaceWithConstants(rw, op, result)
			return true
		},
	}
}
