package elements

import (
	"bytes"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Elements is an immutable N-dimensional constant tensor value. The shape
// carries the dtype, like GoMLX shapes do.
//
// Four representations are supported:
//
//   - dense: contiguous row-major packed bytes;
//   - splat: a single scalar logically broadcast to the full shape;
//   - view: an affine remap (offset + per-axis strides) of a dense or splat
//     base, read on demand;
//   - producer: a closure that fills a wide-scalar buffer on first read.
//
// Views and producers keep their base Elements alive through ordinary Go
// references; a producer must be idempotent since it may run on any later
// goroutine that first observes the value.
type Elements struct {
	shape shapes.Shape

	buf      []byte
	splat    *WideNum
	view     *view
	producer func(dst []WideNum)
	once     *sync.Once
}

// view remaps output indices to a flat position in base, which is always
// dense or splat. Strides are in base flat elements; stride 0 broadcasts.
type view struct {
	base    *Elements
	offset  int
	strides []int
}

// makeShape builds a shape directly, since zero-sized dimensions (empty
// tensors) are legal here.
func makeShape(dtype dtypes.DType, dims []int) shapes.Shape {
	return shapes.Shape{DType: dtype, Dimensions: slices.Clone(dims)}
}

// rowMajorStrides returns the flat strides of a contiguous row-major layout.
func rowMajorStrides(dims []int) []int {
	strides := make([]int, len(dims))
	count := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = count
		count *= dims[axis]
	}
	return strides
}

func checkSupported(shape shapes.Shape) {
	if !IsSupported(shape.DType) {
		exceptions.Panicf("elements: dtype %s is not supported", shape.DType)
	}
}

// NewDenseRaw wraps packed row-major bytes. The buffer length must be exactly
// shape.Size() * dtype.Size(); the caller must not modify it afterwards.
func NewDenseRaw(shape shapes.Shape, data []byte) *Elements {
	checkSupported(shape)
	if want := shape.Size() * int(shape.DType.Size()); len(data) != want {
		exceptions.Panicf("elements: dense buffer for %s needs %d bytes, got %d", shape, want, len(data))
	}
	return &Elements{shape: shape, buf: data}
}

// NewSplat creates a value with every element equal to w, interpreted and
// narrowed per the shape's dtype.
func NewSplat(shape shapes.Shape, w WideNum) *Elements {
	checkSupported(shape)
	n := narrowed(shape.DType, w)
	return &Elements{shape: shape, splat: &n}
}

// FromWideNums creates a lazily produced value: fill runs at most once, on
// first read, and must populate dst (len = shape.Size()) with wide scalars
// already at the dtype's precision.
func FromWideNums(shape shapes.Shape, fill func(dst []WideNum)) *Elements {
	checkSupported(shape)
	return &Elements{shape: shape, producer: fill, once: &sync.Once{}}
}

// goNative are the Go element types accepted by FromFlat and Flat.
type goNative interface {
	bool | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

func wideFromGo[T goNative](v T) WideNum {
	switch x := any(v).(type) {
	case bool:
		return WideFromBool(x)
	case int8:
		return WideFromInt(int64(x))
	case int16:
		return WideFromInt(int64(x))
	case int32:
		return WideFromInt(int64(x))
	case int64:
		return WideFromInt(x)
	case uint8:
		return WideFromUint(uint64(x))
	case uint16:
		return WideFromUint(uint64(x))
	case uint32:
		return WideFromUint(uint64(x))
	case uint64:
		return WideFromUint(x)
	case float32:
		return WideFromFloat(float64(x))
	case float64:
		return WideFromFloat(x)
	}
	panic(nil) // unreachable, goNative is exhaustive.
}

func goFromWide[T goNative](w WideNum) T {
	var zero T
	switch any(zero).(type) {
	case bool:
		return any(w.Bool()).(T)
	case int8:
		return any(int8(w.Int())).(T)
	case int16:
		return any(int16(w.Int())).(T)
	case int32:
		return any(int32(w.Int())).(T)
	case int64:
		return any(w.Int()).(T)
	case uint8:
		return any(uint8(w.Uint())).(T)
	case uint16:
		return any(uint16(w.Uint())).(T)
	case uint32:
		return any(uint32(w.Uint())).(T)
	case uint64:
		return any(w.Uint()).(T)
	case float32:
		return any(float32(w.Float())).(T)
	case float64:
		return any(w.Float()).(T)
	}
	panic(nil) // unreachable.
}

// FromFlat creates a dense value from a row-major flat slice. The dtype is
// taken from T, the way GoMLX creates tensors from flat data.
func FromFlat[T goNative](data []T, dimensions ...int) *Elements {
	shape := makeShape(dtypes.FromGenericsType[T](), dimensions)
	if len(data) != shape.Size() {
		exceptions.Panicf("elements: shape %s has %d elements, but %d values were given", shape, shape.Size(), len(data))
	}
	buf := make([]byte, len(data)*int(shape.DType.Size()))
	for ii, v := range data {
		pack(shape.DType, buf, ii, wideFromGo(v))
	}
	return &Elements{shape: shape, buf: buf}
}

// SplatOf creates a splat of the given dimensions from a Go scalar.
func SplatOf[T goNative](value T, dimensions ...int) *Elements {
	shape := makeShape(dtypes.FromGenericsType[T](), dimensions)
	return NewSplat(shape, wideFromGo(value))
}

// Flat reads e back as a row-major flat slice of T. T must match e's dtype.
func Flat[T goNative](e *Elements) []T {
	if got := dtypes.FromGenericsType[T](); got != e.DType() {
		exceptions.Panicf("elements: Flat[%s] called on elements of dtype %s", got, e.DType())
	}
	wide := make([]WideNum, e.Size())
	e.ReadAll(wide)
	out := make([]T, len(wide))
	for ii, w := range wide {
		out[ii] = goFromWide[T](w)
	}
	return out
}

// Shape returns the value's shape (dtype included).
func (e *Elements) Shape() shapes.Shape { return e.shape }

// DType returns the element type.
func (e *Elements) DType() dtypes.DType { return e.shape.DType }

// Rank returns the number of axes.
func (e *Elements) Rank() int { return e.shape.Rank() }

// Size returns the number of elements.
func (e *Elements) Size() int { return e.shape.Size() }

// IsSplat reports whether e is represented by a single broadcast scalar.
func (e *Elements) IsSplat() bool { return e.splat != nil }

// SplatValue returns the broadcast scalar of a splat value.
func (e *Elements) SplatValue() WideNum {
	if e.splat == nil {
		exceptions.Panicf("elements: SplatValue called on a non-splat value")
	}
	return *e.splat
}

// materialize returns e backed by dense storage (or splat, which is always
// cheap to read). Views and producers are flattened into a packed buffer.
func (e *Elements) materialize() *Elements {
	if e.buf != nil || e.splat != nil {
		return e
	}
	if e.producer != nil {
		e.once.Do(func() {
			wide := make([]WideNum, e.Size())
			e.producer(wide)
			buf := make([]byte, e.Size()*int(e.DType().Size()))
			for ii, w := range wide {
				pack(e.DType(), buf, ii, w)
			}
			e.buf = buf
		})
		return e
	}
	// View: walk the output index space once.
	wide := make([]WideNum, e.Size())
	e.ReadAll(wide)
	buf := make([]byte, e.Size()*int(e.DType().Size()))
	for ii, w := range wide {
		pack(e.DType(), buf, ii, w)
	}
	return &Elements{shape: e.shape, buf: buf}
}

// At returns the element at the given indices. Indices must be within the
// shape's bounds; rank must match.
func (e *Elements) At(indices ...int) WideNum {
	if len(indices) != e.Rank() {
		exceptions.Panicf("elements: At called with %d indices on a rank-%d value", len(indices), e.Rank())
	}
	if e.splat != nil {
		return *e.splat
	}
	if e.view != nil {
		pos := e.view.offset
		for axis, idx := range indices {
			pos += idx * e.view.strides[axis]
		}
		return e.view.base.atFlat(pos)
	}
	e.materialize()
	strides := rowMajorStrides(e.shape.Dimensions)
	pos := 0
	for axis, idx := range indices {
		pos += idx * strides[axis]
	}
	return e.atFlat(pos)
}

// atFlat reads the element at a row-major flat position. Only valid for
// dense, splat or producer-backed values.
func (e *Elements) atFlat(pos int) WideNum {
	if e.splat != nil {
		return *e.splat
	}
	e.materialize()
	return unpack(e.DType(), e.buf, pos)
}

// ReadAll fills dst (len = Size()) with all elements in row-major order.
// Splats are read without expansion of any buffer.
func (e *Elements) ReadAll(dst []WideNum) {
	if len(dst) != e.Size() {
		exceptions.Panicf("elements: ReadAll needs a buffer of %d wide nums, got %d", e.Size(), len(dst))
	}
	if e.splat != nil {
		for ii := range dst {
			dst[ii] = *e.splat
		}
		return
	}
	if e.view != nil {
		v := e.view
		base := v.base.materialize()
		dims := e.shape.Dimensions
		if len(dims) == 0 {
			dst[0] = base.atFlat(v.offset)
			return
		}
		// Generalized odometer over the output index space.
		indices := make([]int, len(dims))
		pos := v.offset
		for ii := range dst {
			dst[ii] = base.atFlat(pos)
			for axis := len(dims) - 1; axis >= 0; axis-- {
				indices[axis]++
				pos += v.strides[axis]
				if indices[axis] < dims[axis] {
					break
				}
				pos -= indices[axis] * v.strides[axis]
				indices[axis] = 0
			}
		}
		return
	}
	e.materialize()
	for ii := range dst {
		dst[ii] = unpack(e.DType(), e.buf, ii)
	}
}

// WideNums returns all elements in row-major order.
func (e *Elements) WideNums() []WideNum {
	dst := make([]WideNum, e.Size())
	e.ReadAll(dst)
	return dst
}

// Bytes returns the packed row-major bytes of e, materializing if needed.
// The returned buffer must not be modified.
func (e *Elements) Bytes() []byte {
	if e.splat != nil {
		buf := make([]byte, e.Size()*int(e.DType().Size()))
		for ii := 0; ii < e.Size(); ii++ {
			pack(e.DType(), buf, ii, *e.splat)
		}
		return buf
	}
	return e.materialize().buf
}

// Equal reports whether the two values have the same shape, dtype and
// elements (bitwise, after narrowing).
func (e *Elements) Equal(other *Elements) bool {
	if !e.shape.Equal(other.shape) {
		return false
	}
	if e.IsSplat() && other.IsSplat() {
		return *e.splat == *other.splat
	}
	return bytes.Equal(e.Bytes(), other.Bytes())
}
