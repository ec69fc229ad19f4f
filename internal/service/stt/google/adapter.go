// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"live-transcription-service/internal/service/stt"
)

// Config holds the streaming recognition settings.
type Config struct {
	LanguageCode      string
	SampleRateHz      int
	InterimResults    bool
	AudioEncoding     string
	EnableDiarization bool
	MinSpeakers       int
	MaxSpeakers       int
}

// DefaultConfig returns the settings for 16 kHz mono LINEAR16 audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		MinSpeakers:    2,
		MaxSpeakers:    6,
	}
}

// Recognizer owns the Speech client shared by all streams it opens.
type Recognizer struct {
	client *speech.Client
	cfg    Config
}

// NewRecognizer creates a Speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func NewRecognizer(ctx context.Context, cfg Config) (*Recognizer, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Recognizer{client: c, cfg: cfg}, nil
}

// Factory returns an stt.Factory opening a new stream per call.
func (r *Recognizer) Factory() stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return &Adapter{client: r.client, cfg: r.cfg}, nil
	}
}

// Close releases the Speech client.
func (r *Recognizer) Close() error {
	return r.client.Close()
}

// Adapter implements stt.Adapter over one StreamingRecognize call.
type Adapter struct {
	client *speech.Client
	cfg    Config

	stream  speechpb.Speech_StreamingRecognizeClient
	cancel  context.CancelFunc
	done    chan struct{}
	closing atomic.Bool
	once    sync.Once
	sendMu  sync.Mutex
}

// Start opens the stream, sends the streaming config and starts receiving.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := a.client.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		return err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig(a.cfg),
		},
	}); err != nil {
		cancel()
		return err
	}

	a.stream = stream
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.listen(cb)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.stream == nil {
		return stt.ErrStreamClosed
	}
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream, cancels it and waits for the receive loop.
func (a *Adapter) Close() error {
	var err error
	a.once.Do(func() {
		a.closing.Store(true)
		if a.stream == nil {
			return
		}
		a.sendMu.Lock()
		err = a.stream.CloseSend()
		a.sendMu.Unlock()
		a.cancel()
		<-a.done
	})
	return err
}

// listen receives transcript responses from Google and invokes callbacks.
func (a *Adapter) listen(cb stt.Callback) {
	defer close(a.done)
	for {
		resp, err := a.stream.Recv()
		if err != nil {
			if a.closing.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				err = stt.ErrStreamClosed
			}
			cb.OnError(err)
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if r.IsFinal {
				cb.OnFinal(toResult(alt))
			} else {
				cb.OnPartial(alt.Transcript)
			}
		}
	}
}

func toResult(alt *speechpb.SpeechRecognitionAlternative) stt.Result {
	res := stt.Result{
		IsFinal:    true,
		Text:       alt.Transcript,
		Confidence: float64(alt.Confidence),
	}
	for _, w := range alt.Words {
		res.Words = append(res.Words, stt.Word{Text: w.Word, SpeakerTag: int(w.SpeakerTag)})
	}
	return res
}

func streamingConfig(cfg Config) *speechpb.StreamingRecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
		SampleRateHertz:            int32(cfg.SampleRateHz),
		LanguageCode:               cfg.LanguageCode,
		EnableAutomaticPunctuation: true,
	}
	if cfg.EnableDiarization {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(cfg.MinSpeakers),
			MaxSpeakerCount:          int32(cfg.MaxSpeakers),
		}
	}
	return &speechpb.StreamingRecognitionConfig{
		Config:         rc,
		InterimResults: cfg.InterimResults,
	}
}

// parseAudioEncoding maps an upper-case encoding name to the proto enum,
// falling back to LINEAR16.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch name {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
