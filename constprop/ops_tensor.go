package constprop

// This file folds the tensor-manipulation operators: Transpose, the
// reshape family (Reshape/Squeeze/Unsqueeze), Split, ScatterND, Cast,
// Slice, Concat, Expand and Gather.

import (
	"slices"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/onnx-constprop/elements"
	"github.com/gomlx/onnx-constprop/ir"
)

func transposePattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-transpose",
		OpTypes: []string{"Transpose"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) != 1 || !allDenseConstants(op.Inputs) {
				return false
			}
			data := ir.ConstantElements(op.Inputs[0])
			perm := op.IntsAttrOr("perm", nil)
			if perm == nil {
				// Default is to reverse the axes.
				perm = make([]int, data.Rank())
				for ii := range perm {
					perm[ii] = data.Rank() - 1 - ii
				}
			}
			countFold("Transpose", data)
			replaceWithConstants(rw, op, elements.Transpose(data, perm))
			return true
		},
	}
}

// The whole reshape family folds the same way: the data is rearranged into
// the declared result shape, which shape inference already computed from
// the axes/shape parameters.
func reshapePattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-reshape",
		OpTypes: []string{"Reshape", "Squeeze", "Unsqueeze"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) < 1 || !ir.IsDenseConstant(op.Inputs[0]) {
				return false
			}
			data := ir.ConstantElements(op.Inputs[0])
			countFold(op.Type, data)
			result := elements.Reshape(data, op.Outputs[0].Shape.Dimensions)
			replaceWithConstants(rw, op, result)
			return true
		},
	}
}

// splitSizes resolves the per-result sizes: from the "split" attribute, a
// constant second operand, or equal division when unspecified. Dynamic
// (non-constant) split sizes are unsupported.
func splitSizes(op *ir.Op, axisSize int) []int {
	sizes := op.IntsAttrOr("split", nil)
	if len(op.Inputs) > 1 {
		if !ir.IsDenseConstant(op.Inputs[1]) {
			exceptions.Panicf("Split with dynamic sizes is not supported")
		}
		if sizes != nil {
			exceptions.Panicf("Split: split operand and split attribute cannot be used together")
		}
		sizes = elements.IntValues(ir.ConstantElements(op.Inputs[1]))
	}
	numResults := len(op.Outputs)
	if sizes == nil {
		if axisSize%numResults != 0 {
			exceptions.Panicf("Split without sizes needs the axis size (%d) to be divisible by the number of results (%d)",
				axisSize, numResults)
		}
		sizes = make([]int, numResults)
		for ii := range sizes {
			sizes[ii] = axisSize / numResults
		}
		return sizes
	}
	if len(sizes) != numResults {
		exceptions.Panicf("Split has %d results but %d sizes", numResults, len(sizes))
	}
	total := 0
	for _, size := range sizes {
		total += size
	}
	if total != axisSize {
		exceptions.Panicf("Split sizes %v must sum to axis size %d", sizes, axisSize)
	}
	return sizes
}

func splitPattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-split",
		OpTypes: []string{"Split"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) < 1 || !ir.IsDenseConstant(op.Inputs[0]) {
				return false
			}
			data := ir.ConstantElements(op.Inputs[0])
			axis := adjustAxis(op.IntAttrOr("axis", 0), data.Rank())
			sizes := splitSizes(op, data.Shape().Dim(axis))
			countFold("Split", data)
			replaceWithConstants(rw, op, elements.Split(data, axis, sizes)...)
			return true
		},
	}
}

func scatterNDPattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-scatternd",
		OpTypes: []string{"ScatterND"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) != 3 || !allDenseConstants(op.Inputs) {
				return false
			}
			data := ir.ConstantElements(op.Inputs[0])
			indices := ir.ConstantElements(op.Inputs[1])
			updates := ir.ConstantElements(op.Inputs[2])
			countFold("Scatter", data, indices, updates)
			result := elements.ScatterND(data, indices, updates)
			replaceWithConstants(rw, op, result)
			return true
		},
	}
}

func castPattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-cast",
		OpTypes: []string{"Cast"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) != 1 || !allDenseConstants(op.Inputs) {
				return false
			}
			data := ir.ConstantElements(op.Inputs[0])
			countFold("Cast", data)
			result := elements.CastElementType(data, op.Outputs[0].Shape.DType)
			replaceWithConstants(rw, op, result)
			return true
		},
	}
}

func slicePattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-slice",
		OpTypes: []string{"Slice"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) < 3 || !allDenseConstants(op.Inputs) {
				return false
			}
			data := ir.ConstantElements(op.Inputs[0])
			params := normalizeSliceParams(op, data.Shape())
			if !slices.Equal(params.lens, op.Outputs[0].Shape.Dimensions) {
				exceptions.Panicf("Slice selects %v elements per axis, but the result type is %s",
					params.lens, op.Outputs[0].Shape)
			}
			countFold("Slice", data)
			result := elements.Slice(data, params.starts, params.steps, op.Outputs[0].Shape)
			replaceWithConstants(rw, op, result)
			return true
		},
	}
}

func concatPattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-concat",
		OpTypes: []string{"Concat"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) == 0 || !allDenseConstants(op.Inputs) {
				return false
			}
			inputs := make([]*elements.Elements, len(op.Inputs))
			for ii, in := range op.Inputs {
				inputs[ii] = ir.ConstantElements(in)
			}
			axis := adjustAxis(op.IntAttrOr("axis", 0), inputs[0].Rank())
			countFold("Concat", inputs...)
			replaceWithConstants(rw, op, elements.Concat(inputs, axis))
			return true
		},
	}
}

func expandPattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-expand",
		OpTypes: []string{"Expand"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) < 1 || !ir.IsDenseConstant(op.Inputs[0]) {
				return false
			}
			data := ir.ConstantElements(op.Inputs[0])
			countFold("Expand", data)
			result := elements.Expand(data, op.Outputs[0].Shape.Dimensions)
			replaceWithConstants(rw, op, result)
			return true
		},
	}
}

func gatherPattern() ir.Pattern {
	return ir.Pattern{
		Name:    "constprop-gather",
		OpTypes: []string{"Gather"},
		Rewrite: func(rw *ir.Rewriter, op *ir.Op) bool {
			if len(op.Inputs) != 2 || !allDenseConstants(op.Inputs) {
				return false
			}
			data := ir.ConstantElements(op.Inputs[0])
			indices := ir.ConstantElements(op.Inputs[1])
			axis := adjustAxis(op.IntAttrOr("axis", 0), data.Rank())
			countFold("Gather", data, indices)
			replaceWithConstants(rw, op, elements.Gather(data, indices, axis))
			return true
		},
	}
}
