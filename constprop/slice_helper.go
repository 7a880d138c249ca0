package constprop

// The slice shape helper normalizes the Slice operator's parameters, which
// arrive as constant operands, into absolute literal starts/steps plus the
// selection lengths per axis, following the ONNX Slice-13 rules.

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/shapes"

	"github.com/gomlx/onnx-constprop/elements"
	"github.com/gomlx/onnx-constprop/ir"
)

type sliceParams struct {
	starts []int // absolute start per data axis
	steps  []int // signed non-zero step per data axis
	lens   []int // selection length per data axis
}

// normalizeSliceParams reads starts/ends and the optional axes/steps
// constant operands of op and resolves them against dataShape: negative
// indices and axes wrap, bounds clamp to the axis size, and a zero step is
// an error. Axes not listed select their full range.
func normalizeSliceParams(op *ir.Op, dataShape shapes.Shape) sliceParams {
	rank := dataShape.Rank()
	starts := elements.IntValues(ir.ConstantElements(op.Inputs[1]))
	ends := elements.IntValues(ir.ConstantElements(op.Inputs[2]))
	if len(starts) != len(ends) {
		exceptions.Panicf("Slice starts (%d) and ends (%d) must have the same length", len(starts), len(ends))
	}

	var axes []int
	if len(op.Inputs) > 3 && op.Inputs[3] != nil {
		axes = elements.IntValues(ir.ConstantElements(op.Inputs[3]))
	} else {
		axes = make([]int, len(starts))
		for ii := range axes {
			axes[ii] = ii
		}
	}
	if len(axes) != len(starts) {
		exceptions.Panicf("Slice axes (%d) must match starts (%d)", len(axes), len(starts))
	}

	var steps []int
	if len(op.Inputs) > 4 && op.Inputs[4] != nil {
		steps = elements.IntValues(ir.ConstantElements(op.Inputs[4]))
		if len(steps) != len(starts) {
			exceptions.Panicf("Slice steps (%d) must match starts (%d)", len(steps), len(starts))
		}
	} else {
		steps = make([]int, len(starts))
		for ii := range steps {
			steps[ii] = 1
		}
	}

	params := sliceParams{
		starts: make([]int, rank),
		steps:  make([]int, rank),
		lens:   make([]int, rank),
	}
	for axis := 0; axis < rank; axis++ {
		params.steps[axis] = 1
		params.lens[axis] = dataShape.Dim(axis)
	}
	seen := make(map[int]bool, len(axes))
	for ii, rawAxis := range axes {
		axis := adjustAxis(rawAxis, rank)
		if seen[axis] {
			exceptions.Panicf("Slice: duplicate axis %d", axis)
		}
		seen[axis] = true
		dim := dataShape.Dim(axis)
		step := steps[ii]
		if step == 0 {
			exceptions.Panicf("Slice step must be non-zero on axis %d", axis)
		}
		start, end := starts[ii], ends[ii]
		if start < 0 {
			start += dim
		}
		if end < 0 {
			end += dim
		}
		if step > 0 {
			start = clamp(start, 0, dim)
			end = clamp(end, 0, dim)
			params.lens[axis] = ceilDiv(end-start, step)
		} else {
			start = clamp(start, 0, dim-1)
			end = clamp(end, -1, dim-1)
			params.lens[axis] = ceilDiv(end-start, step)
		}
		params.starts[axis] = start
		params.steps[axis] = step
	}
	return params
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// ceilDiv rounds the quotient away from zero; a non-positive span yields 0.
func ceilDiv(span, step int) int {
	length := (span + step - sign(step)) / step
	return max(length, 0)
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}
