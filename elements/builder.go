package elements

// This file implements the algebra of transformations over Elements used by
// the constant-propagation pass. All operations return a new Elements and
// never mutate their inputs. Transpose, slice, expand and reshape return
// strided views when expressible; gather, concat, split and scatter return
// lazily produced values; transform, combine, cast and reduce materialize
// eagerly since they touch every element anyway.

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// viewComponents decomposes src into a stride-addressable base plus the
// offset and per-axis strides describing src's current layout. The returned
// base is never itself a view.
func viewComponents(src *Elements) (base *Elements, offset int, strides []int) {
	if src.view != nil {
		return src.view.base, src.view.offset, src.view.strides
	}
	return src, 0, rowMajorStrides(src.shape.Dimensions)
}

func newView(shape shapes.Shape, base *Elements, offset int, strides []int) *Elements {
	return &Elements{shape: shape, view: &view{base: base, offset: offset, strides: strides}}
}

// Transform applies fn elementwise. The shape is preserved; the output dtype
// may differ from the input's (fn is responsible for producing values at
// outDType's precision). A splat input yields a splat output.
func Transform(src *Elements, outDType dtypes.DType, fn UnaryFunc) *Elements {
	outShape := makeShape(outDType, src.shape.Dimensions)
	if src.IsSplat() {
		return NewSplat(outShape, fn(src.SplatValue()))
	}
	wide := src.WideNums()
	for ii, w := range wide {
		wide[ii] = fn(w)
	}
	return newDenseFromWide(outShape, wide)
}

func newDenseFromWide(shape shapes.Shape, wide []WideNum) *Elements {
	buf := make([]byte, len(wide)*int(shape.DType.Size()))
	for ii, w := range wide {
		pack(shape.DType, buf, ii, w)
	}
	return &Elements{shape: shape, buf: buf}
}

// broadcastDims applies the ONNX multi-directional broadcast rule to a pair
// of shapes: align from the right, each dimension pair must be equal or have
// at least one side equal to 1, output is the maximum.
func broadcastDims(lhs, rhs []int) []int {
	rank := max(len(lhs), len(rhs))
	out := make([]int, rank)
	for axis := range rank {
		l, r := 1, 1
		if d := axis - (rank - len(lhs)); d >= 0 {
			l = lhs[d]
		}
		if d := axis - (rank - len(rhs)); d >= 0 {
			r = rhs[d]
		}
		if l != r && l != 1 && r != 1 {
			exceptions.Panicf("elements: shapes %v and %v are not broadcast-compatible", lhs, rhs)
		}
		out[axis] = max(l, r)
	}
	return out
}

// broadcastView returns src broadcast to outDims as a zero-copy view (or
// splat). outDims must be broadcast-compatible with src's dimensions.
func broadcastView(src *Elements, outDims []int) *Elements {
	outShape := makeShape(src.DType(), outDims)
	if slices.Equal(src.shape.Dimensions, outDims) {
		return src
	}
	if src.IsSplat() {
		return NewSplat(outShape, src.SplatValue())
	}
	base, offset, strides := viewComponents(src)
	srcDims := src.shape.Dimensions
	outStrides := make([]int, len(outDims))
	lead := len(outDims) - len(srcDims)
	for axis := range outDims {
		d := axis - lead
		switch {
		case d < 0 || srcDims[d] == 1 && outDims[axis] != 1:
			outStrides[axis] = 0
		case srcDims[d] != outDims[axis]:
			exceptions.Panicf("elements: cannot broadcast %v to %v", srcDims, outDims)
		default:
			outStrides[axis] = strides[d]
		}
	}
	return newView(outShape, base, offset, outStrides)
}

// Combine evaluates fn elementwise over lhs and rhs with multi-directional
// broadcast to outShape. Element types of both operands and of outShape must
// be equal. Two splats combine into a splat.
func Combine(lhs, rhs *Elements, outShape shapes.Shape, fn BinaryFunc) *Elements {
	if lhs.DType() != rhs.DType() {
		exceptions.Panicf("elements: Combine operands must share a dtype, got %s and %s", lhs.DType(), rhs.DType())
	}
	if outShape.DType != lhs.DType() {
		exceptions.Panicf("elements: Combine output dtype %s differs from operands dtype %s", outShape.DType, lhs.DType())
	}
	dims := broadcastDims(lhs.shape.Dimensions, rhs.shape.Dimensions)
	if !slices.Equal(dims, outShape.Dimensions) {
		exceptions.Panicf("elements: Combine of %s and %s broadcasts to %v, but result type is %s",
			lhs.shape, rhs.shape, dims, outShape)
	}
	if lhs.IsSplat() && rhs.IsSplat() {
		return NewSplat(outShape, fn(lhs.SplatValue(), rhs.SplatValue()))
	}
	lhsWide := broadcastView(lhs, dims).WideNums()
	rhsWide := broadcastView(rhs, dims).WideNums()
	for ii := range lhsWide {
		lhsWide[ii] = fn(lhsWide[ii], rhsWide[ii])
	}
	return newDenseFromWide(outShape, lhsWide)
}

// Where selects lhs or rhs elementwise according to cond, with the same
// broadcast discipline as Combine. cond must be boolean; lhs and rhs must
// share a dtype.
func Where(cond, lhs, rhs *Elements, outShape shapes.Shape) *Elements {
	if cond.DType() != dtypes.Bool {
		exceptions.Panicf("elements: Where condition must be boolean, got %s", cond.DType())
	}
	if lhs.DType() != rhs.DType() {
		exceptions.Panicf("elements: Where branches must share a dtype, got %s and %s", lhs.DType(), rhs.DType())
	}
	dims := broadcastDims(broadcastDims(cond.shape.Dimensions, lhs.shape.Dimensions), rhs.shape.Dimensions)
	if !slices.Equal(dims, outShape.Dimensions) {
		exceptions.Panicf("elements: Where broadcasts to %v, but result type is %s", dims, outShape)
	}
	if cond.IsSplat() && lhs.IsSplat() && rhs.IsSplat() {
		if cond.SplatValue().Bool() {
			return NewSplat(outShape, lhs.SplatValue())
		}
		return NewSplat(outShape, rhs.SplatValue())
	}
	condWide := broadcastView(cond, dims).WideNums()
	lhsWide := broadcastView(lhs, dims).WideNums()
	rhsWide := broadcastView(rhs, dims).WideNums()
	for ii := range condWide {
		if !condWide[ii].Bool() {
			lhsWide[ii] = rhsWide[ii]
		}
	}
	return newDenseFromWide(outShape, lhsWide)
}

// Transpose permutes the axes of src: output axis i maps to input axis
// perm[i]. perm must be a permutation of [0, rank). Returns a view.
func Transpose(src *Elements, perm []int) *Elements {
	rank := src.Rank()
	if len(perm) != rank {
		exceptions.Panicf("elements: Transpose permutation %v doesn't match rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	for _, axis := range perm {
		if axis < 0 || axis >= rank || seen[axis] {
			exceptions.Panicf("elements: Transpose permutation %v is not a permutation of [0,%d)", perm, rank)
		}
		seen[axis] = true
	}
	outDims := make([]int, rank)
	for ii, axis := range perm {
		outDims[ii] = src.shape.Dimensions[axis]
	}
	outShape := makeShape(src.DType(), outDims)
	if src.IsSplat() {
		return NewSplat(outShape, src.SplatValue())
	}
	base, offset, strides := viewComponents(src)
	outStrides := make([]int, rank)
	for ii, axis := range perm {
		outStrides[ii] = strides[axis]
	}
	return newView(outShape, base, offset, outStrides)
}

// Reshape changes the dimensions of src preserving row-major order. The
// element count must not change. Dense buffers are shared, not copied.
func Reshape(src *Elements, dimensions []int) *Elements {
	outShape := makeShape(src.DType(), dimensions)
	if outShape.Size() != src.Size() {
		exceptions.Panicf("elements: Reshape from %s to %v changes the element count", src.shape, dimensions)
	}
	if src.IsSplat() {
		return NewSplat(outShape, src.SplatValue())
	}
	contiguous := src.materialize()
	return &Elements{shape: outShape, buf: contiguous.buf}
}

// Expand broadcasts src to the target dimensions under the standard rules.
// Splats stay splats; everything else becomes a view.
func Expand(src *Elements, dimensions []int) *Elements {
	dims := broadcastDims(src.shape.Dimensions, dimensions)
	if !slices.Equal(dims, dimensions) {
		exceptions.Panicf("elements: cannot expand %s to %v", src.shape, dimensions)
	}
	return broadcastView(src, dimensions)
}

// CastElementType converts every element to the new dtype with C-style
// conversion semantics (see ConvertWide).
func CastElementType(src *Elements, newType dtypes.DType) *Elements {
	if newType == src.DType() {
		return src
	}
	from := src.DType()
	outShape := makeShape(newType, src.shape.Dimensions)
	if src.IsSplat() {
		return NewSplat(outShape, ConvertWide(from, newType, src.SplatValue()))
	}
	wide := src.WideNums()
	for ii, w := range wide {
		wide[ii] = ConvertWide(from, newType, w)
	}
	return newDenseFromWide(outShape, wide)
}

// Reduce folds src along the given absolute axes with the combiner, in
// row-major traversal order. axes must be distinct and within [0, rank);
// src must be non-empty (reductions without an identity reject empty
// tensors at the operator level). keepDims retains reduced axes as size 1.
func Reduce(src *Elements, axes []int, keepDims bool, combiner BinaryFunc) *Elements {
	rank := src.Rank()
	reduced := make([]bool, rank)
	for _, axis := range axes {
		if axis < 0 || axis >= rank {
			exceptions.Panicf("elements: Reduce axis %d out of range for rank %d", axis, rank)
		}
		if reduced[axis] {
			exceptions.Panicf("elements: Reduce axis %d appears more than once", axis)
		}
		reduced[axis] = true
	}
	if src.Size() == 0 {
		exceptions.Panicf("elements: Reduce of an empty tensor has no identity")
	}

	srcDims := src.shape.Dimensions
	var outDims []int
	for axis, dim := range srcDims {
		if reduced[axis] {
			if keepDims {
				outDims = append(outDims, 1)
			}
		} else {
			outDims = append(outDims, dim)
		}
	}
	outShape := makeShape(src.DType(), outDims)

	if src.IsSplat() {
		count := 1
		for axis, dim := range srcDims {
			if reduced[axis] {
				count *= dim
			}
		}
		acc := src.SplatValue()
		for ii := 1; ii < count; ii++ {
			acc = combiner(acc, src.SplatValue())
		}
		return NewSplat(outShape, acc)
	}

	// Fold in row-major order of src; each output cell sees its collapsed
	// elements in their row-major order.
	outStrides := make([]int, rank) // per src axis; 0 on reduced axes.
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		if !reduced[axis] {
			outStrides[axis] = stride
			stride *= srcDims[axis]
		}
	}
	acc := make([]WideNum, outShape.Size())
	seeded := make([]bool, len(acc))
	wide := src.WideNums()
	indices := make([]int, rank)
	outPos := 0
	for _, w := range wide {
		if !seeded[outPos] {
			acc[outPos] = w
			seeded[outPos] = true
		} else {
			acc[outPos] = combiner(acc[outPos], w)
		}
		for axis := rank - 1; axis >= 0; axis-- {
			indices[axis]++
			outPos += outStrides[axis]
			if indices[axis] < srcDims[axis] {
				break
			}
			outPos -= indices[axis] * outStrides[axis]
			indices[axis] = 0
		}
	}
	return newDenseFromWide(outShape, acc)
}

// Split partitions src along axis into one slab per entry of sizes, which
// must sum to the axis dimension. Each slab is a view.
func Split(src *Elements, axis int, sizes []int) []*Elements {
	rank := src.Rank()
	if axis < 0 || axis >= rank {
		exceptions.Panicf("elements: Split axis %d out of range for rank %d", axis, rank)
	}
	total := 0
	for _, size := range sizes {
		if size < 0 {
			exceptions.Panicf("elements: Split sizes must be non-negative, got %v", sizes)
		}
		total += size
	}
	if total != src.shape.Dimensions[axis] {
		exceptions.Panicf("elements: Split sizes %v must sum to axis size %d", sizes, src.shape.Dimensions[axis])
	}
	outs := make([]*Elements, len(sizes))
	starts := make([]int, rank)
	steps := make([]int, rank)
	for ii := range steps {
		steps[ii] = 1
	}
	dims := slices.Clone(src.shape.Dimensions)
	for ii, size := range sizes {
		dims[axis] = size
		outs[ii] = Slice(src, starts, steps, makeShape(src.DType(), dims))
		starts[axis] += size
	}
	return outs
}

// Slice selects a strided region: output index i on each axis reads input
// index starts[axis] + i*steps[axis]. The parameters must already be
// normalized to absolute literal values (see the slice shape helper in the
// constprop package); outShape's dimensions give the selection lengths.
// Steps may be negative but not zero. Returns a view.
func Slice(src *Elements, starts, steps []int, outShape shapes.Shape) *Elements {
	rank := src.Rank()
	if len(starts) != rank || len(steps) != rank || outShape.Rank() != rank {
		exceptions.Panicf("elements: Slice parameters must cover all %d axes", rank)
	}
	if outShape.DType != src.DType() {
		exceptions.Panicf("elements: Slice result dtype %s differs from input dtype %s", outShape.DType, src.DType())
	}
	for axis := range rank {
		if steps[axis] == 0 {
			exceptions.Panicf("elements: Slice step must be non-zero on axis %d", axis)
		}
		last := starts[axis] + (outShape.Dim(axis)-1)*steps[axis]
		dim := src.shape.Dim(axis)
		if outShape.Dim(axis) > 0 && (starts[axis] < 0 || starts[axis] >= dim || last < 0 || last >= dim) {
			exceptions.Panicf("elements: Slice selection out of bounds on axis %d (start %d, step %d, len %d, dim %d)",
				axis, starts[axis], steps[axis], outShape.Dim(axis), dim)
		}
	}
	if src.IsSplat() {
		return NewSplat(outShape, src.SplatValue())
	}
	base, offset, strides := viewComponents(src)
	outStrides := make([]int, rank)
	for axis := range rank {
		offset += starts[axis] * strides[axis]
		outStrides[axis] = steps[axis] * strides[axis]
	}
	return newView(outShape, base, offset, outStrides)
}

// Concat joins the inputs along axis. All inputs must share dtype, rank and
// every non-axis dimension. The result is lazily produced.
func Concat(inputs []*Elements, axis int) *Elements {
	if len(inputs) == 0 {
		exceptions.Panicf("elements: Concat needs at least one input")
	}
	first := inputs[0]
	rank := first.Rank()
	if axis < 0 || axis >= rank {
		exceptions.Panicf("elements: Concat axis %d out of range for rank %d", axis, rank)
	}
	outDims := slices.Clone(first.shape.Dimensions)
	for _, in := range inputs[1:] {
		if in.DType() != first.DType() {
			exceptions.Panicf("elements: Concat inputs must share a dtype, got %s and %s", first.DType(), in.DType())
		}
		if in.Rank() != rank {
			exceptions.Panicf("elements: Concat inputs must share rank, got %d and %d", rank, in.Rank())
		}
		for d, dim := range in.shape.Dimensions {
			if d == axis {
				continue
			}
			if dim != outDims[d] {
				exceptions.Panicf("elements: Concat inputs disagree on non-axis dimension %d: %d vs %d", d, outDims[d], dim)
			}
		}
		outDims[axis] += in.shape.Dimensions[axis]
	}
	outShape := makeShape(first.DType(), outDims)
	held := slices.Clone(inputs) // producers keep their parents alive.
	return FromWideNums(outShape, func(dst []WideNum) {
		// One input contributes a contiguous run of `length` elements every
		// `stride` elements of the output, offset by the runs before it.
		stride := suffixProduct(outDims, axis)
		start := 0
		for _, in := range held {
			length := suffixProduct(in.shape.Dimensions, axis)
			wide := in.WideNums()
			pos := 0
			for offset := start; offset < len(dst); offset += stride {
				copy(dst[offset:offset+length], wide[pos:pos+length])
				pos += length
			}
			start += length
		}
	})
}

// suffixProduct returns the number of elements of dims[from:].
func suffixProduct(dims []int, from int) int {
	count := 1
	for _, dim := range dims[from:] {
		count *= dim
	}
	return count
}

// Gather produces, for each entry of indices, the axis-slab of src it
// selects. Negative indices are adjusted by the axis size; indices out of
// range after adjustment are an error. The output shape is
// src.shape[:axis] ++ indices.shape ++ src.shape[axis+1:].
func Gather(src, indices *Elements, axis int) *Elements {
	rank := src.Rank()
	if axis < 0 || axis >= rank {
		exceptions.Panicf("elements: Gather axis %d out of range for rank %d", axis, rank)
	}
	srcDims := src.shape.Dimensions
	axisSize := srcDims[axis]
	idxs := IntValues(indices)
	for ii, idx := range idxs {
		if idx < 0 {
			idx += axisSize
		}
		if idx < 0 || idx >= axisSize {
			exceptions.Panicf("elements: Gather index %d out of range for axis size %d", idxs[ii], axisSize)
		}
		idxs[ii] = idx
	}
	outDims := make([]int, 0, rank-1+indices.Rank())
	outDims = append(outDims, srcDims[:axis]...)
	outDims = append(outDims, indices.shape.Dimensions...)
	outDims = append(outDims, srcDims[axis+1:]...)
	outShape := makeShape(src.DType(), outDims)
	if src.IsSplat() {
		return NewSplat(outShape, src.SplatValue())
	}
	held := src
	return FromWideNums(outShape, func(dst []WideNum) {
		wide := held.WideNums()
		inStride := suffixProduct(srcDims, axis)
		length := inStride / axisSize
		outStride := len(idxs) * length
		start := 0
		for _, idx := range idxs {
			pos := idx * length
			for offset := start; offset < len(dst); offset += outStride {
				copy(dst[offset:offset+length], wide[pos:pos+length])
				pos += inStride
			}
			start += length
		}
	})
}

// ScatterND returns data with updates written at the positions given by
// indices, per ONNX ScatterND-13: indices has shape [..., k] with
// k <= data.rank; each k-tuple addresses the leading k axes of data and the
// corresponding slab of updates replaces that slice. On colliding index
// tuples the last write, in row-major order of indices, wins.
func ScatterND(data, indices, updates *Elements) *Elements {
	if data.DType() != updates.DType() {
		exceptions.Panicf("elements: ScatterND updates dtype %s differs from data dtype %s", updates.DType(), data.DType())
	}
	if indices.Rank() < 1 {
		exceptions.Panicf("elements: ScatterND indices must have rank >= 1")
	}
	dataDims := data.shape.Dimensions
	idxDims := indices.shape.Dimensions
	k := idxDims[len(idxDims)-1]
	if k > data.Rank() {
		exceptions.Panicf("elements: ScatterND index tuples of length %d exceed data rank %d", k, data.Rank())
	}
	wantUpdateDims := append(slices.Clone(idxDims[:len(idxDims)-1]), dataDims[k:]...)
	if !slices.Equal(updates.shape.Dimensions, wantUpdateDims) {
		exceptions.Panicf("elements: ScatterND updates shaped %v, want %v", updates.shape.Dimensions, wantUpdateDims)
	}

	idxs := IntValues(indices)
	dataStrides := rowMajorStrides(dataDims)
	sliceSize := suffixProduct(dataDims, k)
	numSlices := len(idxs) / max(k, 1)
	if k == 0 {
		numSlices = indices.Size() // degenerate: every tuple is empty.
	}
	for slab := 0; slab < numSlices; slab++ {
		for d := 0; d < k; d++ {
			idx := idxs[slab*k+d]
			if idx < 0 || idx >= dataDims[d] {
				exceptions.Panicf("elements: ScatterND index %d out of range for axis %d of size %d", idx, d, dataDims[d])
			}
		}
	}
	heldData, heldUpdates := data, updates
	return FromWideNums(data.shape, func(dst []WideNum) {
		heldData.ReadAll(dst)
		updatesWide := heldUpdates.WideNums()
		for slab := 0; slab < numSlices; slab++ {
			pos := 0
			for d := 0; d < k; d++ {
				pos += idxs[slab*k+d] * dataStrides[d]
			}
			copy(dst[pos:pos+sliceSize], updatesWide[slab*sliceSize:(slab+1)*sliceSize])
		}
	})
}

// IntValues reads an integer-typed Elements as a flat []int.
func IntValues(e *Elements) []int {
	if FamilyOf(e.DType()) != FamilySignedInt && FamilyOf(e.DType()) != FamilyUnsignedInt {
		exceptions.Panicf("elements: IntValues called on elements of dtype %s", e.DType())
	}
	wide := e.WideNums()
	out := make([]int, len(wide))
	for ii, w := range wide {
		out[ii] = int(w.Int())
	}
	return out
}
