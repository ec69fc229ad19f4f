// Package mock provides a mock STT adapter for running without cloud credentials.
// It simulates a meeting: progressive partial transcripts, exactly one final
// per utterance, and optional transport failures after a number of frames.
package mock

import (
	"context"
	"errors"
	"sync"

	"live-transcription-service/internal/service/stt"
)

// ErrSimulatedFailure is reported when FailAfterFrames is reached.
var ErrSimulatedFailure = errors.New("mock: simulated transport failure")

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
	SpeakerTag int
}

// DefaultUtterances provides sample meeting utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Revenue", "Revenue grew"},
		Final:      "Revenue grew fifteen percent this quarter.",
		Confidence: 0.94,
		SpeakerTag: 1,
	},
	{
		Partials:   []string{"What is", "What is our"},
		Final:      "What is our runway?",
		Confidence: 0.95,
		SpeakerTag: 2,
	},
	{
		Partials:   []string{"We have", "We have eighteen"},
		Final:      "We have eighteen months of runway.",
		Confidence: 0.92,
		SpeakerTag: 1,
	},
	{
		Partials:   []string{"Alice will", "Alice will send"},
		Final:      "Alice will send the hiring plan by Friday.",
		Confidence: 0.91,
		SpeakerTag: 3,
	},
	{
		Partials:   []string{"Should we", "Should we increase"},
		Final:      "Should we increase the marketing budget",
		Confidence: 0.89,
		SpeakerTag: 2,
	},
}

// Options configures a scripted adapter.
type Options struct {
	Utterances      []SimulatedUtterance
	StartIndex      int
	FailAfterFrames int // 0 disables simulated failures
}

type event struct {
	partial string
	final   *stt.Result
	err     error
}

// Adapter implements stt.Adapter with scripted responses. Each audio frame
// advances the script by one partial; the frame after the last partial
// produces the final.
type Adapter struct {
	opts Options

	mu         sync.Mutex
	cb         stt.Callback
	events     chan event
	done       chan struct{}
	frames     int
	utterance  int
	partialIdx int
	failed     bool
	closed     bool
}

// utteranceCounter tracks which utterance to start with (cycles through defaults)
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a mock adapter over DefaultUtterances, starting at the next
// utterance so successive streams continue the script.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	return NewWithOptions(Options{Utterances: DefaultUtterances, StartIndex: idx})
}

// NewWithOptions creates a mock adapter with an explicit script.
func NewWithOptions(opts Options) *Adapter {
	if len(opts.Utterances) == 0 {
		opts.Utterances = DefaultUtterances
	}
	return &Adapter{
		opts:      opts,
		utterance: opts.StartIndex % len(opts.Utterances),
	}
}

// Factory returns an stt.Factory producing New adapters.
func Factory() stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(), nil
	}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	a.events = make(chan event, 64)
	a.done = make(chan struct{})
	go a.dispatch(cb, a.events, a.done)
	return nil
}

// SendAudio advances the script by one step.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.failed || a.events == nil {
		return nil
	}

	a.frames++
	if a.opts.FailAfterFrames > 0 && a.frames > a.opts.FailAfterFrames {
		a.failed = true
		a.events <- event{err: ErrSimulatedFailure}
		return nil
	}

	utt := a.opts.Utterances[a.utterance]
	if a.partialIdx < len(utt.Partials) {
		a.events <- event{partial: utt.Partials[a.partialIdx]}
		a.partialIdx++
		return nil
	}

	res := stt.Result{
		IsFinal:    true,
		Text:       utt.Final,
		Confidence: utt.Confidence,
	}
	if utt.SpeakerTag != 0 {
		res.Words = []stt.Word{{Text: utt.Final, SpeakerTag: utt.SpeakerTag}}
	}
	a.events <- event{final: &res}
	a.partialIdx = 0
	a.utterance = (a.utterance + 1) % len(a.opts.Utterances)
	return nil
}

// Close ends the mock session and waits for queued callbacks.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	events, done := a.events, a.done
	a.mu.Unlock()

	if events != nil {
		close(events)
		<-done
	}
	return nil
}

// Frames returns the number of audio frames received.
func (a *Adapter) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// dispatch delivers callbacks from a single goroutine.
func (a *Adapter) dispatch(cb stt.Callback, events <-chan event, done chan<- struct{}) {
	defer close(done)
	stopped := false
	for ev := range events {
		if stopped {
			continue
		}
		switch {
		case ev.err != nil:
			cb.OnError(ev.err)
			stopped = true
		case ev.final != nil:
			cb.OnFinal(*ev.final)
		default:
			cb.OnPartial(ev.partial)
		}
	}
}
