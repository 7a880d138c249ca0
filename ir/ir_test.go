package ir

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/onnx-constprop/elements"
)

func TestConstantRecognizer(t *testing.T) {
	g := NewGraph("test")
	c := g.AddConstant("c", elements.FromFlat([]float32{1, 2}, 2))
	require.True(t, IsDenseConstant(c))
	require.Equal(t, []float32{1, 2}, elements.Flat[float32](ConstantElements(c)))

	input := g.AddInput(shapes.Make(dtypes.Float32, 2))
	require.False(t, IsDenseConstant(input))

	sum := g.AddOp("Add", "sum", []*Value{c, input}, nil, shapes.Make(dtypes.Float32, 2))
	require.False(t, IsDenseConstant(sum.Outputs[0]))
}

func TestAttrGetters(t *testing.T) {
	g := NewGraph("test")
	op := g.AddOp("ReduceSum", "r", nil, Attrs{
		"keepdims": 0,
		"axes":     []int{1, -1},
		"mode":     "constant",
	}, shapes.Make(dtypes.Float32))

	require.Equal(t, 0, op.IntAttrOr("keepdims", 1))
	require.Equal(t, 1, op.IntAttrOr("noop_with_empty_axes", 1))
	require.Equal(t, []int{1, -1}, op.IntsAttrOr("axes", nil))
	require.Equal(t, "constant", op.StringAttrOr("mode", ""))
	require.Panics(t, func() { op.IntAttrOr("axes", 0) }) // wrong type
}

func TestReplaceOpRewiresUses(t *testing.T) {
	g := NewGraph("test")
	a := g.AddConstant("a", elements.FromFlat([]int32{1}, 1))
	b := g.AddConstant("b", elements.FromFlat([]int32{2}, 1))
	sum := g.AddOp("Add", "sum", []*Value{a, b}, nil, shapes.Make(dtypes.Int32, 1))
	double := g.AddOp("Add", "double", []*Value{sum.Outputs[0], sum.Outputs[0]}, nil, shapes.Make(dtypes.Int32, 1))
	g.Outputs = []*Value{double.Outputs[0]}

	rw := &Rewriter{graph: g}
	folded := rw.CreateConstant("sum.const", elements.FromFlat([]int32{3}, 1))
	rw.ReplaceOp(sum, folded)

	require.Same(t, folded, double.Inputs[0])
	require.Same(t, folded, double.Inputs[1])
	for _, op := range g.Ops() {
		require.NotSame(t, sum, op)
	}
}

func TestReplaceOpChecksTypes(t *testing.T) {
	g := NewGraph("test")
	a := g.AddConstant("a", elements.FromFlat([]int32{1, 2}, 2))
	op := g.AddOp("Neg", "n", []*Value{a}, nil, shapes.Make(dtypes.Int32, 2))
	rw := &Rewriter{graph: g}
	wrongShape := rw.CreateConstant("w", elements.FromFlat([]int32{1}, 1))
	require.Panics(t, func() { rw.ReplaceOp(op, wrongShape) })
}

func TestGreedyDriverReachesFixedPoint(t *testing.T) {
	g := NewGraph("test")
	a := g.AddConstant("a", elements.FromFlat([]int64{1}, 1))
	b := g.AddConstant("b", elements.FromFlat([]int64{2}, 1))
	sum := g.AddOp("Add", "sum", []*Value{a, b}, nil, shapes.Make(dtypes.Int64, 1))
	twice := g.AddOp("Add", "twice", []*Value{sum.Outputs[0], sum.Outputs[0]}, nil, shapes.Make(dtypes.Int64, 1))
	g.Outputs = []*Value{twice.Outputs[0]}

	// A toy folding pattern: Add of two constants becomes a constant.
	foldAdd := Pattern{
		Name:    "fold-add",
		OpTypes: []string{"Add"},
		Rewrite: func(rw *Rewriter, op *Op) bool {
			if !IsDenseConstant(op.Inputs[0]) || !IsDenseConstant(op.Inputs[1]) {
				return false
			}
			lhs := elements.Flat[int64](ConstantElements(op.Inputs[0]))
			rhs := elements.Flat[int64](ConstantElements(op.Inputs[1]))
			out := make([]int64, len(lhs))
			for ii := range out {
				out[ii] = lhs[ii] + rhs[ii]
			}
			folded := rw.CreateConstant(op.Name+".const", elements.FromFlat(out, len(out)))
			rw.ReplaceOp(op, folded)
			return true
		},
	}

	require.NoError(t, ApplyPatternsGreedily(g, []Pattern{foldAdd}))

	// Both adds fold in a single run and the dead constants are erased:
	// only the final constant remains.
	require.Len(t, g.Ops(), 1)
	require.True(t, IsDenseConstant(g.Outputs[0]))
	require.Equal(t, []int64{6}, elements.Flat[int64](ConstantElements(g.Outputs[0])))
}

func TestDriverWrapsRewriteFailures(t *testing.T) {
	g := NewGraph("test")
	a := g.AddConstant("a", elements.FromFlat([]int64{1}, 1))
	g.AddOp("Boom", "boom", []*Value{a}, nil, shapes.Make(dtypes.Int64, 1))

	failing := Pattern{
		Name:    "always-fails",
		OpTypes: []string{"Boom"},
		Rewrite: func(rw *Rewriter, op *Op) bool {
			exceptions.Panicf("rewrite exploded")
			return false
		},
	}
	err := ApplyPatternsGreedily(g, []Pattern{failing})
	require.Error(t, err)
	require.Contains(t, err.Error(), "always-fails")
	require.Contains(t, err.Error(), "boom")
}

func TestDeadOpErasureKeepsGraphOutputs(t *testing.T) {
	g := NewGraph("test")
	kept := g.AddConstant("kept", elements.FromFlat([]int32{1}, 1))
	g.AddConstant("dead", elements.FromFlat([]int32{2}, 1))
	g.Outputs = []*Value{kept}

	require.NoError(t, ApplyPatternsGreedily(g, nil))
	require.Len(t, g.Ops(), 1)
	require.Same(t, kept, g.Outputs[0])
}
