package audio

import "encoding/binary"

// TrimSilence drops leading and trailing samples whose magnitude is below
// threshold. It returns a sub-slice of pcm, empty when nothing is loud enough.
func TrimSilence(pcm []byte, threshold int) []byte {
	n := len(pcm) / 2
	start, end := 0, n
	for start < end && quiet(pcm, start, threshold) {
		start++
	}
	for end > start && quiet(pcm, end-1, threshold) {
		end--
	}
	return pcm[start*2 : end*2]
}

func quiet(pcm []byte, i, threshold int) bool {
	s := int(int16(binary.LittleEndian.Uint16(pcm[2*i : 2*i+2])))
	if s < 0 {
		s = -s
	}
	return s < threshold
}
