package cmn

import (
	"encoding/binary"
	"math"
)

// Float32SliceToBytes packs v as little-endian float32 bytes, the raw
// framing the bulk fast-recv side channel compresses (spec §4.1).
func Float32SliceToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// BytesToFloat32Slice reverses Float32SliceToBytes.
func BytesToFloat32Slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
