package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

// WAVConfig configures file replay.
type WAVConfig struct {
	Path         string
	FrameSamples int
	Loop         bool
	// Realtime paces frames at the file's sample rate.
	Realtime bool
}

// WAVSource replays a 16-bit mono WAV file as LINEAR16 frames.
type WAVSource struct {
	samples    []int
	frame      int
	sampleRate int
	loop       bool
	pos        int

	ticker *time.Ticker
	closed chan struct{}
	once   sync.Once
}

// OpenWAV decodes the whole file and prepares it for framed replay.
func OpenWAV(cfg WAVConfig) (*WAVSource, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("open wav %s: invalid wav file", cfg.Path)
	}
	if dec.BitDepth != 16 || dec.NumChans != 1 {
		return nil, fmt.Errorf("open wav %s: need 16-bit mono, got %d-bit %d channels", cfg.Path, dec.BitDepth, dec.NumChans)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	frame := cfg.FrameSamples
	if frame <= 0 {
		frame = 1024
	}
	s := &WAVSource{
		samples:    buf.Data,
		frame:      frame,
		sampleRate: int(dec.SampleRate),
		loop:       cfg.Loop,
		closed:     make(chan struct{}),
	}
	if cfg.Realtime && s.sampleRate > 0 {
		interval := time.Duration(frame) * time.Second / time.Duration(s.sampleRate)
		s.ticker = time.NewTicker(interval)
	}
	return s, nil
}

// WAVFactory returns a Factory replaying the configured file for every run.
func WAVFactory(cfg WAVConfig) Factory {
	return func(ctx context.Context, tenantId string) (Source, error) {
		return OpenWAV(cfg)
	}
}

// SampleRate returns the file's sample rate.
func (s *WAVSource) SampleRate() int {
	return s.sampleRate
}

// Read returns the next frame, io.EOF when a non-looping file is exhausted.
func (s *WAVSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrSourceClosed
	default:
	}
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, ErrSourceClosed
		case <-s.ticker.C:
		}
	}

	if s.pos >= len(s.samples) {
		if !s.loop || len(s.samples) == 0 {
			return nil, io.EOF
		}
		s.pos = 0
	}
	end := min(s.pos+s.frame, len(s.samples))
	out := encodeLinear16(s.samples[s.pos:end])
	s.pos = end
	return out, nil
}

// Close stops pacing. Idempotent.
func (s *WAVSource) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
	return nil
}

func encodeLinear16(samples []int) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(v)))
	}
	return out
}
