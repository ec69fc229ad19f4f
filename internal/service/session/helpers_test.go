package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"live-transcription-service/internal/service/audio"
	"live-transcription-service/internal/service/stt"
	"live-transcription-service/internal/service/stt/mock"
)

// endlessSource yields a small frame every millisecond until closed.
type endlessSource struct {
	mu     sync.Mutex
	closed bool
	reads  int
}

func (s *endlessSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, audio.ErrSourceClosed
	}
	s.reads++
	return []byte{0, 0, 0, 0}, nil
}

func (s *endlessSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *endlessSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// finiteSource yields n frames then io.EOF.
type finiteSource struct {
	mu        sync.Mutex
	remaining int
	closed    bool
}

func (s *finiteSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining == 0 {
		return nil, io.EOF
	}
	s.remaining--
	return []byte{0, 0}, nil
}

func (s *finiteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func staticAudio(src audio.Source) audio.Factory {
	return func(ctx context.Context, tenantID string) (audio.Source, error) {
		return src, nil
	}
}

// scriptedRecognizer hands out mock adapters that continue one script
// across reconnects.
type scriptedRecognizer struct {
	mu              sync.Mutex
	script          []mock.SimulatedUtterance
	failAfterFrames int
	opened          int
	next            int
}

func (r *scriptedRecognizer) factory(ctx context.Context) (stt.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
	a := mock.NewWithOptions(mock.Options{
		Utterances:      r.script,
		StartIndex:      r.next,
		FailAfterFrames: r.failAfterFrames,
	})
	if r.failAfterFrames > 0 {
		r.next += r.failAfterFrames
	}
	return a, nil
}

func (r *scriptedRecognizer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened
}

func finals(texts ...string) []mock.SimulatedUtterance {
	out := make([]mock.SimulatedUtterance, len(texts))
	for i, text := range texts {
		out[i] = mock.SimulatedUtterance{Final: text, Confidence: 0.9}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
