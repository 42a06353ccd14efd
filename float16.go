package trtlite

import "github.com/x448/float16"

// f16LookupTable maps every FP16 bit pattern to its float32 value
var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion of FP16 engine
	// outputs to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// Float32ToFloat16 converts float32 values to FP16 bit patterns. RunFloat32
// uses it to fill inputs declared as half precision.
func Float32ToFloat16(in []float32) []uint16 {
	out := make([]uint16, len(in))

	for i, v := range in {
		out[i] = float16.Fromfloat32(v).Bits()
	}

	return out
}
