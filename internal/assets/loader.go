// Package assets serves the pre-recorded clips played when a turn cannot
// produce a spoken reply of its own.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// Loader reads clips from a directory and keeps them in memory after the
// first successful read.
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[string][]byte
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string) (*Loader, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("assets: directory must not be empty")
	}
	return &Loader{dir: dir, cache: make(map[string][]byte)}, nil
}

func (l *Loader) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	b, ok := l.cache[clean]
	l.mu.RUnlock()
	if ok {
		return b, nil
	}

	b, err = os.ReadFile(filepath.Join(l.dir, clean))
	if err != nil {
		return nil, fmt.Errorf("assets: read %q: %w", clean, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("assets: %q is empty", clean)
	}

	l.mu.Lock()
	l.cache[clean] = b
	l.mu.Unlock()
	return b, nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("assets: name is required")
	}
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("assets: name %q escapes asset directory", name)
	}
	return clean, nil
}

// Info describes a decoded MP3 clip.
type Info struct {
	SampleRate int
	Duration   time.Duration
}

// Probe decodes the MP3 stream far enough to report its sample rate and
// length. The decoder always yields 16-bit stereo frames.
func Probe(b []byte) (Info, error) {
	dec, err := gomp3.NewDecoder(bytes.NewReader(b))
	if err != nil {
		return Info{}, fmt.Errorf("assets: decode mp3: %w", err)
	}
	rate := dec.SampleRate()
	if rate <= 0 {
		return Info{}, errors.New("assets: mp3 reports no sample rate")
	}
	length := dec.Length()
	if length <= 0 {
		return Info{}, errors.New("assets: mp3 has no audio frames")
	}
	const bytesPerFrame = 4
	frames := length / bytesPerFrame
	return Info{
		SampleRate: rate,
		Duration:   time.Duration(frames) * time.Second / time.Duration(rate),
	}, nil
}
