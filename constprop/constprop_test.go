package constprop

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/onnx-constprop/elements"
	"github.com/gomlx/onnx-constprop/ir"
)

// runPass folds g and requires success.
func runPass(t *testing.T, g *ir.Graph) {
	t.Helper()
	require.NoError(t, New().Run(g))
}

// requireFoldedTo asserts that the graph collapsed to constants with the
// given payloads.
func requireFoldedTo(t *testing.T, g *ir.Graph, want ...*elements.Elements) {
	t.Helper()
	require.Len(t, g.Outputs, len(want))
	for ii, out := range g.Outputs {
		require.True(t, ir.IsDenseConstant(out), "output %d is not a constant", ii)
		got := ir.ConstantElements(out)
		require.True(t, want[ii].Equal(got), "output %d: got %v, want %v",
			ii, got.WideNums(), want[ii].WideNums())
	}
}

func TestFoldAdd(t *testing.T) {
	ResetCounters()
	g := ir.NewGraph("add")
	lhs := g.AddConstant("lhs", elements.FromFlat([]float32{1, 2, 3}, 3))
	rhs := g.AddConstant("rhs", elements.FromFlat([]float32{10, 20, 30}, 3))
	op := g.AddOp("Add", "add", []*ir.Value{lhs, rhs}, nil, shapes.Make(dtypes.Float32, 3))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]float32{11, 22, 33}, 3))
	require.Len(t, g.Ops(), 1)

	var report bytes.Buffer
	DumpReport(&report)
	require.Contains(t, report.String(), "ElementwiseBinary invocations:1 input elements:6")
}

func TestFoldReduceMean(t *testing.T) {
	g := ir.NewGraph("reducemean")
	data := g.AddConstant("data", elements.FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	op := g.AddOp("ReduceMean", "mean", []*ir.Value{data},
		ir.Attrs{"axes": []int{1}, "keepdims": 0}, shapes.Make(dtypes.Float32, 2))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]float32{2, 5}, 2))
}

func TestFoldTranspose(t *testing.T) {
	g := ir.NewGraph("transpose")
	data := g.AddConstant("data", elements.FromFlat([]int32{1, 2, 3, 4, 5, 6}, 2, 3))
	op := g.AddOp("Transpose", "t", []*ir.Value{data},
		ir.Attrs{"perm": []int{1, 0}}, shapes.Make(dtypes.Int32, 3, 2))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]int32{1, 4, 2, 5, 3, 6}, 3, 2))
}

func TestFoldSlice(t *testing.T) {
	g := ir.NewGraph("slice")
	data := g.AddConstant("data", elements.FromFlat([]int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 10))
	starts := g.AddConstant("starts", elements.FromFlat([]int64{1}, 1))
	ends := g.AddConstant("ends", elements.FromFlat([]int64{8}, 1))
	axes := g.AddConstant("axes", elements.FromFlat([]int64{0}, 1))
	steps := g.AddConstant("steps", elements.FromFlat([]int64{2}, 1))
	op := g.AddOp("Slice", "s", []*ir.Value{data, starts, ends, axes, steps}, nil,
		shapes.Make(dtypes.Int64, 4))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]int64{1, 3, 5, 7}, 4))
}

func TestFoldGather(t *testing.T) {
	g := ir.NewGraph("gather")
	data := g.AddConstant("data", elements.FromFlat([]float32{10, 20, 30, 40, 50, 60}, 3, 2))
	indices := g.AddConstant("indices", elements.FromFlat([]int64{2, 0, -1}, 3))
	op := g.AddOp("Gather", "g", []*ir.Value{data, indices},
		ir.Attrs{"axis": 0}, shapes.Make(dtypes.Float32, 3, 2))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]float32{50, 60, 10, 20, 50, 60}, 3, 2))
}

func TestFoldScatterND(t *testing.T) {
	g := ir.NewGraph("scatternd")
	data := g.AddConstant("data", elements.SplatOf(float32(0), 4, 4))
	indices := g.AddConstant("indices", elements.FromFlat([]int64{0, 0, 2, 3}, 2, 2))
	updates := g.AddConstant("updates", elements.FromFlat([]float32{1.0, 9.0}, 2))
	op := g.AddOp("ScatterND", "s", []*ir.Value{data, indices, updates}, nil,
		shapes.Make(dtypes.Float32, 4, 4))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	want := make([]float32, 16)
	want[0] = 1.0
	want[11] = 9.0
	requireFoldedTo(t, g, elements.FromFlat(want, 4, 4))
}

func TestFoldConcat(t *testing.T) {
	g := ir.NewGraph("concat")
	a := g.AddConstant("a", elements.FromFlat([]int32{1, 2}, 2))
	b := g.AddConstant("b", elements.FromFlat([]int32{3, 4, 5}, 3))
	op := g.AddOp("Concat", "c", []*ir.Value{a, b},
		ir.Attrs{"axis": 0}, shapes.Make(dtypes.Int32, 5))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]int32{1, 2, 3, 4, 5}, 5))
}

func TestFoldTransitiveChain(t *testing.T) {
	// Add(c1, c2) feeding Reshape collapses in a single pass run.
	g := ir.NewGraph("chain")
	c1 := g.AddConstant("c1", elements.FromFlat([]float32{1, 2, 3, 4}, 4))
	c2 := g.AddConstant("c2", elements.SplatOf(float32(1), 4))
	sum := g.AddOp("Add", "sum", []*ir.Value{c1, c2}, nil, shapes.Make(dtypes.Float32, 4))
	reshaped := g.AddOp("Reshape", "r", []*ir.Value{sum.Outputs[0]}, nil,
		shapes.Make(dtypes.Float32, 2, 2))
	g.Outputs = []*ir.Value{reshaped.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]float32{2, 3, 4, 5}, 2, 2))
	require.Len(t, g.Ops(), 1)
}

func TestFoldSplit(t *testing.T) {
	g := ir.NewGraph("split")
	data := g.AddConstant("data", elements.FromFlat([]int32{1, 2, 3, 4, 5, 6}, 6))
	sizes := g.AddConstant("sizes", elements.FromFlat([]int64{2, 4}, 2))
	op := g.AddOp("Split", "s", []*ir.Value{data, sizes}, nil,
		shapes.Make(dtypes.Int32, 2), shapes.Make(dtypes.Int32, 4))
	g.Outputs = []*ir.Value{op.Outputs[0], op.Outputs[1]}

	runPass(t, g)
	requireFoldedTo(t, g,
		elements.FromFlat([]int32{1, 2}, 2),
		elements.FromFlat([]int32{3, 4, 5, 6}, 4))
}

func TestFoldSplitEqualParts(t *testing.T) {
	g := ir.NewGraph("split")
	data := g.AddConstant("data", elements.FromFlat([]int32{1, 2, 3, 4}, 4))
	op := g.AddOp("Split", "s", []*ir.Value{data}, nil,
		shapes.Make(dtypes.Int32, 2), shapes.Make(dtypes.Int32, 2))
	g.Outputs = []*ir.Value{op.Outputs[0], op.Outputs[1]}

	runPass(t, g)
	requireFoldedTo(t, g,
		elements.FromFlat([]int32{1, 2}, 2),
		elements.FromFlat([]int32{3, 4}, 2))
}

func TestDynamicSplitFails(t *testing.T) {
	g := ir.NewGraph("split")
	data := g.AddConstant("data", elements.FromFlat([]int32{1, 2, 3, 4}, 4))
	sizes := g.AddInput(shapes.Make(dtypes.Int64, 2))
	op := g.AddOp("Split", "s", []*ir.Value{data, sizes}, nil,
		shapes.Make(dtypes.Int32, 2), shapes.Make(dtypes.Int32, 2))
	g.Outputs = []*ir.Value{op.Outputs[0], op.Outputs[1]}

	err := New().Run(g)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dynamic sizes")
}

func TestFoldCast(t *testing.T) {
	g := ir.NewGraph("cast")
	data := g.AddConstant("data", elements.FromFlat([]float32{1.7, -2.9, 3}, 3))
	op := g.AddOp("Cast", "c", []*ir.Value{data}, nil, shapes.Make(dtypes.Int32, 3))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]int32{1, -2, 3}, 3))
}

func TestFoldExpand(t *testing.T) {
	g := ir.NewGraph("expand")
	data := g.AddConstant("data", elements.FromFlat([]float32{1, 2, 3}, 3))
	op := g.AddOp("Expand", "e", []*ir.Value{data}, nil, shapes.Make(dtypes.Float32, 2, 3))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]float32{1, 2, 3, 1, 2, 3}, 2, 3))
}

func TestFoldWhere(t *testing.T) {
	g := ir.NewGraph("where")
	cond := g.AddConstant("cond", elements.FromFlat([]bool{true, false, true}, 3))
	lhs := g.AddConstant("lhs", elements.FromFlat([]float32{1, 2, 3}, 3))
	rhs := g.AddConstant("rhs", elements.SplatOf(float32(-1), 3))
	op := g.AddOp("Where", "w", []*ir.Value{cond, lhs, rhs}, nil, shapes.Make(dtypes.Float32, 3))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]float32{1, -1, 3}, 3))
}

func TestFoldUnarySqrtAndRelu(t *testing.T) {
	g := ir.NewGraph("unary")
	data := g.AddConstant("data", elements.FromFlat([]float32{4, 9, 16}, 3))
	sqrtOp := g.AddOp("Sqrt", "sqrt", []*ir.Value{data}, nil, shapes.Make(dtypes.Float32, 3))
	neg := g.AddConstant("neg", elements.FromFlat([]float32{-1, 0, 2}, 3))
	reluOp := g.AddOp("Relu", "relu", []*ir.Value{neg}, nil, shapes.Make(dtypes.Float32, 3))
	g.Outputs = []*ir.Value{sqrtOp.Outputs[0], reluOp.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g,
		elements.FromFlat([]float32{2, 3, 4}, 3),
		elements.FromFlat([]float32{0, 0, 2}, 3))
}

func TestFoldReduceVariants(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	for _, tc := range []struct {
		opType string
		want   []float32
	}{
		{"ReduceSum", []float32{6, 15}},
		{"ReduceProd", []float32{6, 120}},
		{"ReduceMin", []float32{1, 4}},
		{"ReduceMax", []float32{3, 6}},
		{"ReduceMean", []float32{2, 5}},
	} {
		t.Run(tc.opType, func(t *testing.T) {
			g := ir.NewGraph("reduce")
			c := g.AddConstant("c", elements.FromFlat(data, 2, 3))
			axes := g.AddConstant("axes", elements.FromFlat([]int64{1}, 1))
			op := g.AddOp(tc.opType, "r", []*ir.Value{c, axes},
				ir.Attrs{"keepdims": 0}, shapes.Make(dtypes.Float32, 2))
			g.Outputs = []*ir.Value{op.Outputs[0]}

			runPass(t, g)
			requireFoldedTo(t, g, elements.FromFlat(tc.want, 2))
		})
	}
}

func TestReduceAllAxesByDefault(t *testing.T) {
	g := ir.NewGraph("reduceall")
	c := g.AddConstant("c", elements.FromFlat([]float32{1, 2, 3, 4}, 2, 2))
	op := g.AddOp("ReduceSum", "r", []*ir.Value{c},
		ir.Attrs{"keepdims": 1}, shapes.Make(dtypes.Float32, 1, 1))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]float32{10}, 1, 1))
}

func TestReduceNoopWithEmptyAxes(t *testing.T) {
	g := ir.NewGraph("noop")
	c := g.AddConstant("c", elements.FromFlat([]float32{1, 2}, 2))
	op := g.AddOp("ReduceSum", "r", []*ir.Value{c},
		ir.Attrs{"noop_with_empty_axes": 1}, shapes.Make(dtypes.Float32, 2))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]float32{1, 2}, 2))
}

func TestReduceEmptyTensor(t *testing.T) {
	// Sum over an empty tensor folds to the identity...
	g := ir.NewGraph("empty")
	c := g.AddConstant("c", elements.FromFlat([]float32{}, 0, 3))
	op := g.AddOp("ReduceSum", "r", []*ir.Value{c},
		ir.Attrs{"axes": []int{0}, "keepdims": 0}, shapes.Make(dtypes.Float32, 3))
	g.Outputs = []*ir.Value{op.Outputs[0]}
	runPass(t, g)
	requireFoldedTo(t, g, elements.SplatOf(float32(0), 3))

	// ...but Max has none and fails.
	g = ir.NewGraph("empty-max")
	c = g.AddConstant("c", elements.FromFlat([]float32{}, 0, 3))
	op = g.AddOp("ReduceMax", "r", []*ir.Value{c},
		ir.Attrs{"axes": []int{0}, "keepdims": 0}, shapes.Make(dtypes.Float32, 3))
	g.Outputs = []*ir.Value{op.Outputs[0]}
	err := New().Run(g)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no identity")
}

func TestFoldSqueezeUnsqueeze(t *testing.T) {
	g := ir.NewGraph("squeeze")
	c := g.AddConstant("c", elements.FromFlat([]float32{1, 2, 3}, 1, 3))
	squeezed := g.AddOp("Squeeze", "sq", []*ir.Value{c}, nil, shapes.Make(dtypes.Float32, 3))
	unsqueezed := g.AddOp("Unsqueeze", "unsq", []*ir.Value{squeezed.Outputs[0]}, nil,
		shapes.Make(dtypes.Float32, 3, 1))
	g.Outputs = []*ir.Value{unsqueezed.Outputs[0]}

	runPass(t, g)
	requireFoldedTo(t, g, elements.FromFlat([]float32{1, 2, 3}, 3, 1))
}

func TestNoMatchLeavesDynamicOps(t *testing.T) {
	g := ir.NewGraph("dynamic")
	c := g.AddConstant("c", elements.FromFlat([]float32{1, 2}, 2))
	x := g.AddInput(shapes.Make(dtypes.Float32, 2))
	op := g.AddOp("Add", "add", []*ir.Value{c, x}, nil, shapes.Make(dtypes.Float32, 2))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	require.Len(t, g.Ops(), 2) // Constant + Add, untouched.
	require.False(t, ir.IsDenseConstant(g.Outputs[0]))
}

func TestSliceStepZeroFails(t *testing.T) {
	g := ir.NewGraph("slice")
	data := g.AddConstant("data", elements.FromFlat([]int64{0, 1, 2, 3}, 4))
	starts := g.AddConstant("starts", elements.FromFlat([]int64{0}, 1))
	ends := g.AddConstant("ends", elements.FromFlat([]int64{4}, 1))
	axes := g.AddConstant("axes", elements.FromFlat([]int64{0}, 1))
	steps := g.AddConstant("steps", elements.FromFlat([]int64{0}, 1))
	op := g.AddOp("Slice", "s", []*ir.Value{data, starts, ends, axes, steps}, nil,
		shapes.Make(dtypes.Int64, 4))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	err := New().Run(g)
	require.Error(t, err)
	require.Contains(t, err.Error(), "non-zero")
}

func TestGatherIndexOutOfRangeFails(t *testing.T) {
	g := ir.NewGraph("gather")
	data := g.AddConstant("data", elements.FromFlat([]float32{1, 2, 3}, 3))
	indices := g.AddConstant("indices", elements.FromFlat([]int64{5}, 1))
	op := g.AddOp("Gather", "g", []*ir.Value{data, indices}, nil, shapes.Make(dtypes.Float32, 1))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	err := New().Run(g)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of range")
}

func TestIdempotence(t *testing.T) {
	g := ir.NewGraph("idempotent")
	c1 := g.AddConstant("c1", elements.FromFlat([]float32{1, 2}, 2))
	c2 := g.AddConstant("c2", elements.FromFlat([]float32{3, 4}, 2))
	x := g.AddInput(shapes.Make(dtypes.Float32, 2))
	sum := g.AddOp("Add", "sum", []*ir.Value{c1, c2}, nil, shapes.Make(dtypes.Float32, 2))
	mixed := g.AddOp("Mul", "mixed", []*ir.Value{sum.Outputs[0], x}, nil, shapes.Make(dtypes.Float32, 2))
	g.Outputs = []*ir.Value{mixed.Outputs[0]}

	runPass(t, g)
	opsAfterFirst := describeOps(g)

	runPass(t, g)
	require.Equal(t, opsAfterFirst, describeOps(g))
}

func describeOps(g *ir.Graph) []string {
	var out []string
	for _, op := range g.Ops() {
		out = append(out, fmt.Sprintf("%s/%s", op.Type, op.Name))
	}
	return out
}

func TestSplatPreservation(t *testing.T) {
	g := ir.NewGraph("splat")
	lhs := g.AddConstant("lhs", elements.SplatOf(float32(1), 1000, 1000))
	rhs := g.AddConstant("rhs", elements.SplatOf(float32(2), 1000, 1000))
	op := g.AddOp("Add", "add", []*ir.Value{lhs, rhs}, nil, shapes.Make(dtypes.Float32, 1000, 1000))
	g.Outputs = []*ir.Value{op.Outputs[0]}

	runPass(t, g)
	require.True(t, ir.IsDenseConstant(g.Outputs[0]))
	folded := ir.ConstantElements(g.Outputs[0])
	require.True(t, folded.IsSplat(), "splat inputs must fold to a splat, not a dense buffer")
	require.Equal(t, 3.0, folded.SplatValue().Float())
}

func TestReportFormat(t *testing.T) {
	ResetCounters()
	g := ir.NewGraph("report")
	lhs := g.AddConstant("lhs", elements.FromFlat([]float32{1, 2, 3}, 3))
	rhs := g.AddConstant("rhs", elements.FromFlat([]float32{4, 5, 6}, 3))
	sum := g.AddOp("Add", "sum", []*ir.Value{lhs, rhs}, nil, shapes.Make(dtypes.Float32, 3))
	negated := g.AddOp("Neg", "neg", []*ir.Value{sum.Outputs[0]}, nil, shapes.Make(dtypes.Float32, 3))
	g.Outputs = []*ir.Value{negated.Outputs[0]}

	var report bytes.Buffer
	require.NoError(t, New(WithReport(true), WithReportWriter(&report)).Run(g))

	lines := strings.Split(strings.TrimRight(report.String(), "\n"), "\n")
	require.Equal(t, "constprop report (cumulative), entries: 2, total invocations:2, total input elements:9", lines[0])
	require.Equal(t, []string{
		"  ElementwiseBinary invocations:1 input elements:6",
		"  ElementwiseUnary invocations:1 input elements:3",
	}, lines[1:])
}

func TestPassRegistry(t *testing.T) {
	ctor, found := Lookup(PassName)
	require.True(t, found)
	require.NotNil(t, ctor)
	_, found = Lookup("no-such-pass")
	require.False(t, found)
}
