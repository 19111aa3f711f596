package compute

import (
	"encoding/binary"
	"math"
)

// Bytes encodes words as little-endian bytes, the layout of WGSL storage.
func Bytes(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

// Words decodes little-endian bytes. A trailing partial word is dropped.
func Words(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}

// F32 reinterprets a storage word as f32.
func F32(w uint32) float32 { return math.Float32frombits(w) }

// U32 reinterprets an f32 as a storage word.
func U32(f float32) uint32 { return math.Float32bits(f) }
