package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := pcmOf(100, -200, 300, -400, 500)
	wav, err := EncodeWAV(pcm, Mono16(15000))
	require.NoError(t, err)
	require.Len(t, wav, wavHeaderSize+len(pcm))

	require.Equal(t, "RIFF", string(wav[0:4]))
	require.Equal(t, "WAVE", string(wav[8:12]))
	require.Equal(t, "fmt ", string(wav[12:16]))
	require.Equal(t, "data", string(wav[36:40]))
	require.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	require.Equal(t, uint32(15000), binary.LittleEndian.Uint32(wav[24:28]))
	require.Equal(t, uint32(30000), binary.LittleEndian.Uint32(wav[28:32]))
	require.Equal(t, uint16(2), binary.LittleEndian.Uint16(wav[32:34]))
	require.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	require.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	require.Equal(t, pcm, wav[wavHeaderSize:])
}

func TestEncodeWAV_DropsPartialFrame(t *testing.T) {
	wav, err := EncodeWAV(append(pcmOf(1, 2), 9), Mono16(16000))
	require.NoError(t, err)
	require.Equal(t, uint32(4), binary.LittleEndian.Uint32(wav[40:44]))
	require.Len(t, wav, wavHeaderSize+4)
}

func TestEncodeWAV_Errors(t *testing.T) {
	_, err := EncodeWAV(nil, Mono16(15000))
	require.Error(t, err)

	_, err = EncodeWAV(pcmOf(1), Mono16(0))
	require.Error(t, err)
}
