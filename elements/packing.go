package elements

import (
	"encoding/binary"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Dense buffers store elements packed row-major, little-endian, with the byte
// width given by dtype.Size(). unpack and pack convert between the packed
// narrow form and WideNum.

func unpack(dtype dtypes.DType, buf []byte, idx int) WideNum {
	switch dtype {
	case dtypes.Bool:
		return WideFromBool(buf[idx] != 0)
	case dtypes.Int8:
		return WideFromInt(int64(int8(buf[idx])))
	case dtypes.Int16:
		return WideFromInt(int64(int16(binary.LittleEndian.Uint16(buf[idx*2:]))))
	case dtypes.Int32:
		return WideFromInt(int64(int32(binary.LittleEndian.Uint32(buf[idx*4:]))))
	case dtypes.Int64:
		return WideFromInt(int64(binary.LittleEndian.Uint64(buf[idx*8:])))
	case dtypes.Uint8:
		return WideFromUint(uint64(buf[idx]))
	case dtypes.Uint16:
		return WideFromUint(uint64(binary.LittleEndian.Uint16(buf[idx*2:])))
	case dtypes.Uint32:
		return WideFromUint(uint64(binary.LittleEndian.Uint32(buf[idx*4:])))
	case dtypes.Uint64:
		return WideFromUint(binary.LittleEndian.Uint64(buf[idx*8:]))
	case dtypes.Float16:
		return WideFromFloat(float64(float16.Frombits(binary.LittleEndian.Uint16(buf[idx*2:])).Float32()))
	case dtypes.BFloat16:
		return WideFromFloat(float64(bfloat16.BFloat16(binary.LittleEndian.Uint16(buf[idx*2:])).Float32()))
	case dtypes.Float32:
		return WideFromFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[idx*4:]))))
	case dtypes.Float64:
		return WideFromFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf[idx*8:])))
	default:
		exceptions.Panicf("elements: dtype %s is not supported", dtype)
		panic(nil) // for lint benefit.
	}
}

func pack(dtype dtypes.DType, buf []byte, idx int, w WideNum) {
	switch dtype {
	case dtypes.Bool:
		if w.Bool() {
			buf[idx] = 1
		} else {
			buf[idx] = 0
		}
	case dtypes.Int8:
		buf[idx] = byte(int8(w.Int()))
	case dtypes.Int16:
		binary.LittleEndian.PutUint16(buf[idx*2:], uint16(int16(w.Int())))
	case dtypes.Int32:
		binary.LittleEndian.PutUint32(buf[idx*4:], uint32(int32(w.Int())))
	case dtypes.Int64:
		binary.LittleEndian.PutUint64(buf[idx*8:], uint64(w.Int()))
	case dtypes.Uint8:
		buf[idx] = uint8(w.Uint())
	case dtypes.Uint16:
		binary.LittleEndian.PutUint16(buf[idx*2:], uint16(w.Uint()))
	case dtypes.Uint32:
		binary.LittleEndian.PutUint32(buf[idx*4:], uint32(w.Uint()))
	case dtypes.Uint64:
		binary.LittleEndian.PutUint64(buf[idx*8:], w.Uint())
	case dtypes.Float16:
		binary.LittleEndian.PutUint16(buf[idx*2:], float16.Fromfloat32(float32(w.Float())).Bits())
	case dtypes.BFloat16:
		binary.LittleEndian.PutUint16(buf[idx*2:], uint16(bfloat16.FromFloat32(float32(w.Float()))))
	case dtypes.Float32:
		binary.LittleEndian.PutUint32(buf[idx*4:], math.Float32bits(float32(w.Float())))
	case dtypes.Float64:
		binary.LittleEndian.PutUint64(buf[idx*8:], math.Float64bits(w.Float()))
	default:
		exceptions.Panicf("elements: dtype %s is not supported", dtype)
	}
}
