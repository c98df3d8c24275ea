package extractor

import "math"

// Native data type names, numpy style.
const (
	Uint8   = "uint8"
	Int8    = "int8"
	Uint16  = "uint16"
	Int16   = "int16"
	Uint32  = "uint32"
	Int32   = "int32"
	Uint64  = "uint64"
	Int64   = "int64"
	Float32 = "float32"
	Float64 = "float64"
)

func isIntegerType(dtype string) bool {
	switch dtype {
	case Uint8, Int8, Uint16, Int16, Uint32, Int32, Uint64, Int64:
		return true
	}
	return false
}

// minimumDtype returns the smallest type able to hold every value in
// [min, max]. Integer rasters stay integer, anything else becomes float.
func minimumDtype(dtype string, min, max float64) string {
	if isIntegerType(dtype) {
		if min >= 0 {
			switch {
			case max <= math.MaxUint8:
				return Uint8
			case max <= math.MaxUint16:
				return Uint16
			case max <= math.MaxUint32:
				return Uint32
			}
			return Uint64
		}
		switch {
		case min >= math.MinInt16 && max <= math.MaxInt16:
			return Int16
		case min >= math.MinInt32 && max <= math.MaxInt32:
			return Int32
		}
		return Int64
	}

	if min >= -math.MaxFloat32 && max <= math.MaxFloat32 {
		return Float32
	}
	return Float64
}
