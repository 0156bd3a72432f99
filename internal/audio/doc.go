// Package audio holds the raw PCM helpers used around a turn: duration
// estimation, gain, silence trimming, WAV framing for transcription and MP3
// encoding of the synthesized reply. All PCM is signed 16-bit little-endian.
package audio
