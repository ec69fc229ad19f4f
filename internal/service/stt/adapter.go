// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"
)

// ErrStreamClosed is reported through OnError when the provider ends the
// stream without a transport error.
var ErrStreamClosed = errors.New("recognition stream closed by provider")

// Word is a recognized word with its diarization tag (0 when unknown).
type Word struct {
	Text       string
	SpeakerTag int
}

// Result is a single recognition result.
type Result struct {
	IsFinal    bool
	Text       string
	Confidence float64
	Words      []Word
}

// SpeakerTag returns the tag of the last tagged word, or 0.
func (r Result) SpeakerTag() int {
	for i := len(r.Words) - 1; i >= 0; i-- {
		if r.Words[i].SpeakerTag != 0 {
			return r.Words[i].SpeakerTag
		}
	}
	return 0
}

// Callback receives transcript results from the STT provider.
// Adapters invoke callbacks from a single goroutine per stream.
type Callback interface {
	// OnPartial is called when an interim/partial transcript is received.
	OnPartial(text string)

	// OnFinal is called when a final transcript is received.
	OnFinal(r Result)

	// OnError is called once when the stream fails or ends.
	// No callbacks follow it.
	OnError(err error)
}

// Adapter is one recognition stream (Google, mock, ...).
// An Adapter is not reusable: after Close a fresh one must be created.
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the stream, waits for pending callbacks and releases resources.
	Close() error
}

// Factory opens adapters; the reconnect loop calls it once per attempt.
type Factory func(ctx context.Context) (Adapter, error)
