// Package elements implements the constant tensor values manipulated by the
// constant-propagation pass: a wide-precision scalar (WideNum), an immutable
// N-dimensional value (Elements) and the algebra of transformations over it.
package elements

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// WideNum holds one tensor element at the widest precision of its dtype
// family: int64, uint64, float64 or bool, packed in a single 64-bit word.
// The interpretation is implicit, like a C union: callers select it from the
// accompanying dtype.
type WideNum struct {
	bits uint64
}

// WideFromInt creates a WideNum interpreted by the signed-int family.
func WideFromInt(v int64) WideNum { return WideNum{bits: uint64(v)} }

// WideFromUint creates a WideNum interpreted by the unsigned-int family.
func WideFromUint(v uint64) WideNum { return WideNum{bits: v} }

// WideFromFloat creates a WideNum interpreted by the float family.
func WideFromFloat(v float64) WideNum { return WideNum{bits: math.Float64bits(v)} }

// WideFromBool creates a WideNum interpreted by the bool family.
func WideFromBool(v bool) WideNum {
	if v {
		return WideNum{bits: 1}
	}
	return WideNum{bits: 0}
}

// Int reads the value as a signed 64-bit integer.
func (w WideNum) Int() int64 { return int64(w.bits) }

// Uint reads the value as an unsigned 64-bit integer.
func (w WideNum) Uint() uint64 { return w.bits }

// Float reads the value as a 64-bit float.
func (w WideNum) Float() float64 { return math.Float64frombits(w.bits) }

// Bool reads the value as a boolean.
func (w WideNum) Bool() bool { return w.bits != 0 }

// Family groups the concrete dtypes by their wide representative.
type Family int

const (
	FamilyInvalid Family = iota
	FamilySignedInt
	FamilyUnsignedInt
	FamilyFloat
	FamilyBool
)

// FamilyOf returns the wide-numeric family of dtype, or FamilyInvalid for
// dtypes the constant-propagation engine doesn't handle (complex, string,
// quantized types).
func FamilyOf(dtype dtypes.DType) Family {
	switch dtype {
	case dtypes.Bool:
		return FamilyBool
	case dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64:
		return FamilySignedInt
	case dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		return FamilyUnsignedInt
	case dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64:
		return FamilyFloat
	default:
		return FamilyInvalid
	}
}

// IsSupported reports whether dtype can be held in Elements.
func IsSupported(dtype dtypes.DType) bool {
	return FamilyOf(dtype) != FamilyInvalid
}

// narrowed rounds w through dtype's concrete precision: narrow to dtype and
// widen back. Folding uses this on every computed element so that the result
// is bit-identical to a runtime evaluation carried out in dtype itself.
func narrowed(dtype dtypes.DType, w WideNum) WideNum {
	switch dtype {
	case dtypes.Bool:
		return WideFromBool(w.Bool())
	case dtypes.Int8:
		return WideFromInt(int64(int8(w.Int())))
	case dtypes.Int16:
		return WideFromInt(int64(int16(w.Int())))
	case dtypes.Int32:
		return WideFromInt(int64(int32(w.Int())))
	case dtypes.Int64:
		return w
	case dtypes.Uint8:
		return WideFromUint(uint64(uint8(w.Uint())))
	case dtypes.Uint16:
		return WideFromUint(uint64(uint16(w.Uint())))
	case dtypes.Uint32:
		return WideFromUint(uint64(uint32(w.Uint())))
	case dtypes.Uint64:
		return w
	case dtypes.Float16:
		return WideFromFloat(float64(float16.Fromfloat32(float32(w.Float())).Float32()))
	case dtypes.BFloat16:
		return WideFromFloat(float64(bfloat16.FromFloat32(float32(w.Float())).Float32()))
	case dtypes.Float32:
		return WideFromFloat(float64(float32(w.Float())))
	case dtypes.Float64:
		return w
	default:
		exceptions.Panicf("elements: dtype %s is not supported", dtype)
		panic(nil) // for lint benefit.
	}
}

// ConvertWide reinterprets w, currently held per the `from` dtype, as a value
// of the `to` dtype, with C-style conversion semantics:
//   - float to int truncates toward zero; NaN converts to 0; values beyond
//     the wide integer range saturate at the wide conversion and then wrap
//     when narrowed to the target width.
//   - any numeric to bool is zero-vs-nonzero; bool to numeric is 0 or 1.
func ConvertWide(from, to dtypes.DType, w WideNum) WideNum {
	fromFamily, toFamily := FamilyOf(from), FamilyOf(to)
	if fromFamily == FamilyInvalid || toFamily == FamilyInvalid {
		exceptions.Panicf("elements: cannot convert %s to %s", from, to)
	}

	var wide WideNum
	switch toFamily {
	case FamilyBool:
		switch fromFamily {
		case FamilyFloat:
			wide = WideFromBool(w.Float() != 0)
		default:
			wide = WideFromBool(w.bits != 0)
		}
	case FamilySignedInt:
		switch fromFamily {
		case FamilyFloat:
			wide = WideFromInt(floatToInt(w.Float()))
		case FamilyBool:
			wide = WideFromInt(int64(w.bits & 1))
		default:
			wide = WideFromInt(w.Int())
		}
	case FamilyUnsignedInt:
		switch fromFamily {
		case FamilyFloat:
			wide = WideFromUint(floatToUint(w.Float()))
		case FamilyBool:
			wide = WideFromUint(w.bits & 1)
		default:
			wide = WideFromUint(w.Uint())
		}
	case FamilyFloat:
		switch fromFamily {
		case FamilySignedInt:
			wide = WideFromFloat(float64(w.Int()))
		case FamilyUnsignedInt:
			wide = WideFromFloat(float64(w.Uint()))
		case FamilyBool:
			wide = WideFromFloat(float64(w.bits & 1))
		default:
			wide = w
		}
	}
	return narrowed(to, wide)
}

// floatToInt truncates toward zero. NaN becomes 0; values beyond the int64
// range saturate (Go leaves the conversion implementation-defined, so the
// range is checked explicitly).
func floatToInt(f float64) int64 {
	if math.IsNaN(f) {
		return 0
	}
	f = math.Trunc(f)
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}

func floatToUint(f float64) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	f = math.Trunc(f)
	if f >= math.MaxUint64 {
		return math.MaxUint64
	}
	if f < 0 {
		return uint64(floatToInt(f))
	}
	return uint64(f)
}

// UnaryFunc maps one wide scalar to another.
type UnaryFunc func(WideNum) WideNum

// BinaryFunc combines two wide scalars.
type BinaryFunc func(WideNum, WideNum) WideNum

// UnaryOp holds one monomorphized implementation of an element-wise unary
// operation per dtype family. A nil entry marks the family as unsupported for
// the operation; selecting it is a programming error.
type UnaryOp struct {
	Int   func(int64) int64
	Uint  func(uint64) uint64
	Float func(float64) float64
	Bool  func(bool) bool
}

// Function selects the family implementation for dtype and wraps it with the
// narrowing round trip, so the returned function computes at dtype's actual
// precision.
func (op UnaryOp) Function(dtype dtypes.DType) UnaryFunc {
	switch FamilyOf(dtype) {
	case FamilySignedInt:
		if op.Int != nil {
			return func(x WideNum) WideNum {
				x = narrowed(dtype, x)
				return narrowed(dtype, WideFromInt(op.Int(x.Int())))
			}
		}
	case FamilyUnsignedInt:
		if op.Uint != nil {
			return func(x WideNum) WideNum {
				x = narrowed(dtype, x)
				return narrowed(dtype, WideFromUint(op.Uint(x.Uint())))
			}
		}
	case FamilyFloat:
		if op.Float != nil {
			return func(x WideNum) WideNum {
				x = narrowed(dtype, x)
				return narrowed(dtype, WideFromFloat(op.Float(x.Float())))
			}
		}
	case FamilyBool:
		if op.Bool != nil {
			return func(x WideNum) WideNum {
				return WideFromBool(op.Bool(x.Bool()))
			}
		}
	}
	exceptions.Panicf("elements: unary op not defined for dtype %s", dtype)
	panic(nil) // for lint benefit.
}

// BinaryOp holds one monomorphized implementation of an element-wise binary
// operation per dtype family. A nil entry marks the family as unsupported.
type BinaryOp struct {
	Int   func(int64, int64) int64
	Uint  func(uint64, uint64) uint64
	Float func(float64, float64) float64
	Bool  func(bool, bool) bool
}

// Combiner selects the family implementation for dtype and wraps it with the
// narrowing round trip. Arithmetic on booleans has no combiner, requesting
// one panics.
func (op BinaryOp) Combiner(dtype dtypes.DType) BinaryFunc {
	switch FamilyOf(dtype) {
	case FamilySignedInt:
		if op.Int != nil {
			return func(lhs, rhs WideNum) WideNum {
				lhs, rhs = narrowed(dtype, lhs), narrowed(dtype, rhs)
				return narrowed(dtype, WideFromInt(op.Int(lhs.Int(), rhs.Int())))
			}
		}
	case FamilyUnsignedInt:
		if op.Uint != nil {
			return func(lhs, rhs WideNum) WideNum {
				lhs, rhs = narrowed(dtype, lhs), narrowed(dtype, rhs)
				return narrowed(dtype, WideFromUint(op.Uint(lhs.Uint(), rhs.Uint())))
			}
		}
	case FamilyFloat:
		if op.Float != nil {
			return func(lhs, rhs WideNum) WideNum {
				lhs, rhs = narrowed(dtype, lhs), narrowed(dtype, rhs)
				return narrowed(dtype, WideFromFloat(op.Float(lhs.Float(), rhs.Float())))
			}
		}
	case FamilyBool:
		if op.Bool != nil {
			return func(lhs, rhs WideNum) WideNum {
				return WideFromBool(op.Bool(lhs.Bool(), rhs.Bool()))
			}
		}
	}
	exceptions.Panicf("elements: binary op not defined for dtype %s", dtype)
	panic(nil) // for lint benefit.
}
