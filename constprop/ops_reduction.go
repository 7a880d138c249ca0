package constprop

// This file folds the reduction operators. ReduceMean is computed as
// ReduceSum followed by division by the product of the reduced extents.

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/onnx-constprop/elements"
	"github.com/gomlx/onnx-constprop/ir"
)

// reduceCombiners maps each reduction op to its element-wise combiner.
// ReduceMean reduces with Add and divides afterwards.
var reduceCombiners = map[string]string{
	"ReduceSum":  "Add",
	"ReduceProd": "Mul",
	"ReduceMin":  "Min",
	"ReduceMax":  "Max",
	"ReduceMean": "Add",
}

// reduceIdentity returns the identity element folded over an empty tensor,
// or panics for the reductions that have none (following NumPy, which
// rejects empty tensors for Min, Max and Mean).
func reduceIdentity(opType string, dtype dtypes.DType) elements.WideNum {
	switch opType {
	case "ReduceSum":
		return zeroOf(dtype)
	case "ReduceProd":
		return oneOf(dtype)
	default:
		exceptions.Panicf("%s of an empty tensor is unsupported (no identity)", opType)
		panic(nil) // for lint benefit.
	}
}

func zeroOf(dtype dtypes.DType) elements.WideNum {
	if elements.FamilyOf(dtype) == elements.FamilyFloat {
		return elements.WideFromFloat(0)
	}
	return elements.WideFromInt(0)
}

func oneOf(dtype dtypes.DType) elements.WideNum {
	if elements.FamilyOf(dtype) == elements.FamilyFloat {
		return elements.WideFromFloat(1)
	}
	return elements.WideFromInt(1)
}

// reduceAxes extracts the reduction axes, which newer opsets pass as a
// constant second operand and older opsets as an "axes" attribute. Using
// both at once is an error. Negative axes are normalized; duplicates
// rejected. ok is false when the axes operand is not constant, in which
// case the op is left alone.
func reduceAxes(op *ir.Op, rank int) (axes []int, ok bool) {
	fromOperand := false
	if len(op.Inputs) > 1 && op.Inputs[1] != nil {
		if !ir.IsDenseConstant(op.Inputs[1]) {
			return nil, false
		}
		axesElements := ir.ConstantElements(op.Inputs[1])
		if !axesElements.DType().IsInt() {
			exceptions.Panicf("%s axes must be integer, got %s", op.Type, axesElements.DType())
		}
		axes = elements.IntValues(axesElements)
		fromOperand = true
	}
	if attrAxes := op.IntsAttrOr("axes", nil); len(attrAxes) > 0 {
		if fromOperand {
			exceptions.Panicf("%s: axes operand and axes attribute cannot be used together", op.Type)
		}
		axes = append([]int(nil), attrAxes...)
	}
	seen := make(map[int]bool, len(axes))
	for ii, axis := range axes {
		axis = adjustAxis(axis, rank)
		if seen[axis] {
			exceptions.Panicf("%s: duplicate reduction axis %d", op.Type, axis)
		}
		seen[axis] = true
		axes[ii] = axis
	}
	return axes, true
}

func reducePattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-reduce",
		OpTypes: []string{"ReduceSum", "ReduceProd", "ReduceMin", "ReduceMax", "ReduceMean"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) < 1 || !ir.IsDenseConstant(op.Inputs[0]) {
				return false
			}
			data := ir.ConstantElements(op.Inputs[0])
			rank := data.Rank()
			axes, ok := reduceAxes(op, rank)
			if !ok {
				return false
			}
			keepDims := op.IntAttrOr("keepdims", 1) != 0
			noopWithEmptyAxes := op.IntAttrOr("noop_with_empty_axes", 0) != 0
			if len(axes) == 0 {
				if noopWithEmptyAxes {
					countFold("Reduce", data)
					replaceWithConstants(rw, op, data)
					return true
				}
				for axis := 0; axis < rank; axis++ {
					axes = append(axes, axis)
				}
			}
			countFold("Reduce", data)

			outShape := op.Outputs[0].Shape
			if data.Size() == 0 {
				identity := reduceIdentity(op.Type, data.DType())
				replaceWithConstants(rw, op, elements.NewSplat(outShape, identity))
				return true
			}

			combiner := binaryOps[reduceCombiners[op.Type]].Combiner(data.DType())
			reduced := elements.Reduce(data, axes, keepDims, combiner)
			if op.Type == "ReduceMean" {
				if reduced.Size() == 0 || data.Size()%reduced.Size() != 0 {
					exceptions.Panicf("ReduceMean must reduce the element count by an integer factor, got %d -> %d",
						data.Size(), reduced.Size())
				}
				denominator := data.Size() / reduced.Size()
				reduced = elements.Transform(reduced, reduced.DType(), divideBy(reduced.DType(), denominator))
			}
			replaceWithConstants(rw, op, reduced)
			return true
		},
	}
}

// divideBy returns an element-wise division by a constant denominator at the
// precision of dtype.
func divideBy(dtype dtypes.DType, denominator int) elements.UnaryFunc {
	op := elements.UnaryOp{
		Int:   func(val int64) int64 { return val / int64(denominator) },
		Uint:  func(val uint64) uint64 { return val / uint64(denominator) },
		Float: func(val float64) float64 { return val / float64(denominator) },
	}
	return op.Function(dtype)
}
