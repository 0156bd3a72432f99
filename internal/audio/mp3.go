package audio

import (
	"bytes"
	"fmt"

	"github.com/braheezy/shine-mp3/pkg/mp3"
)

// MP3Encoder encodes mono PCM at a fixed sample rate.
type MP3Encoder struct {
	sampleRate int
}

// NewMP3Encoder returns an encoder for mono 16-bit PCM at sampleRate.
func NewMP3Encoder(sampleRate int) (*MP3Encoder, error) {
	if err := Mono16(sampleRate).Validate(); err != nil {
		return nil, err
	}
	return &MP3Encoder{sampleRate: sampleRate}, nil
}

func (e *MP3Encoder) SampleRate() int {
	return e.sampleRate
}

func (e *MP3Encoder) Encode(pcm []byte) ([]byte, error) {
	samples := Samples(pcm)
	if len(samples) == 0 {
		return nil, errEmptyPCM
	}
	var buf bytes.Buffer
	enc := mp3.NewEncoder(e.sampleRate, 1)
	if err := enc.Write(&buf, samples); err != nil {
		return nil, fmt.Errorf("audio: encode mp3: %w", err)
	}
	return buf.Bytes(), nil
}
