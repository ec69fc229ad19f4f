// Package audio provides the audio sources that feed recognition streams.
// Frames are raw 16-bit little-endian mono PCM.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrSourceClosed is returned by Read and Push once a source is closed.
	ErrSourceClosed = errors.New("audio source closed")
	// ErrNoActiveSource is returned when pushing audio for a tenant that is not streaming.
	ErrNoActiveSource = errors.New("no active audio source for tenant")
	// ErrBufferFull is returned when a push source cannot accept another frame.
	ErrBufferFull = errors.New("audio buffer full, frame dropped")
)

// BytesPerSample is the LINEAR16 sample width.
const BytesPerSample = 2

// Source yields audio frames until closed or exhausted (io.EOF).
// Read blocks until a frame is available or ctx is cancelled.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Factory opens the audio source for one streaming run of a tenant.
type Factory func(ctx context.Context, tenantId string) (Source, error)
