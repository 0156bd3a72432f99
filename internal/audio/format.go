package audio

import (
	"errors"
	"fmt"
)

// Format describes an interleaved PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Mono16 returns a mono 16-bit format at the given rate.
func Mono16(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
}

// Validate rejects formats Duration cannot divide by.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channel count must be positive, got %d", f.Channels)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("audio: bits per sample must be a positive multiple of 8, got %d", f.BitsPerSample)
	}
	return nil
}

// Duration returns the length in seconds of n bytes of PCM in format f.
// The format must have passed Validate.
func Duration(n int, f Format) float64 {
	samples := n / (f.BitsPerSample / 8)
	return float64(samples) / float64(f.Channels*f.SampleRate)
}

var errEmptyPCM = errors.New("audio: empty pcm buffer")
