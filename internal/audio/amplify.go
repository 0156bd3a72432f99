package audio

import (
	"encoding/binary"
	"math"
)

// Amplify scales every sample by factor and saturates to the int16 range.
// A trailing odd byte is dropped. The input is not modified.
func Amplify(pcm []byte, factor float64) []byte {
	n := len(pcm) - len(pcm)%2
	out := make([]byte, n)
	for i := 0; i < n; i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(clamp16(float64(s)*factor)))
	}
	return out
}

func clamp16(v float64) int16 {
	v = math.Trunc(v)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// Samples decodes pcm into int16 samples, ignoring a trailing odd byte.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i : 2*i+2]))
	}
	return out
}
