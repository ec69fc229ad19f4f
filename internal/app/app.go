package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"live-transcription-service/internal/config"
	"live-transcription-service/internal/events"
	httpapi "live-transcription-service/internal/http"
	"live-transcription-service/internal/models"
	"live-transcription-service/internal/notify"
	"live-transcription-service/internal/observability"
	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/artifacts"
	"live-transcription-service/internal/service/audio"
	"live-transcription-service/internal/service/llm"
	llmmock "live-transcription-service/internal/service/llm/mock"
	"live-transcription-service/internal/service/session"
	"live-transcription-service/internal/service/stt"
	"live-transcription-service/internal/service/stt/google"
	sttmock "live-transcription-service/internal/service/stt/mock"
	"live-transcription-service/internal/storage"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Store    *storage.Store
	Registry *session.Registry
	Pipeline *artifacts.Pipeline
	Hub      *notify.Hub
	Broker   *audio.Broker

	publisher  *events.Publisher
	recognizer *google.Recognizer
	metrics    *observability.Server
	router     http.Handler
	hubCancel  context.CancelFunc
	ready      atomic.Bool
}

// New constructs the application and all of its collaborators from the
// provided configuration. Nothing is started until Start.
func New(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	store, err := storage.New(cfg.Service.DataDir)
	if err != nil {
		return nil, err
	}
	a.Store = store

	client, err := newLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}
	prompts, err := llm.LoadPrompts(cfg.LLM.PromptsFile)
	if err != nil {
		return nil, err
	}
	sum := artifacts.NewSummarizer(client, prompts, artifacts.SummarizerConfig{
		ChunkSize:      cfg.Pipeline.ChunkSize,
		ChunkThreshold: cfg.Pipeline.ChunkThreshold,
		Concurrency:    cfg.Pipeline.SummaryConcurrency,
	}, metrics.DefaultMetrics)

	a.publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicSegments:  cfg.Kafka.TopicSegments,
		TopicArtifacts: cfg.Kafka.TopicArtifacts,
		Principal:      cfg.Kafka.Principal,
	})
	a.Hub = notify.NewHub()

	a.Pipeline = artifacts.NewPipeline(artifacts.Config{
		Workers:   cfg.Pipeline.Workers,
		QueueSize: cfg.Pipeline.QueueSize,
		Publisher: a.publisher,
	}, sum, artifacts.NotifierFunc(a.notify), metrics.DefaultMetrics)

	recognize, err := a.newRecognizer(ctx, cfg.STT)
	if err != nil {
		a.Pipeline.Close(ctx)
		a.publisher.Close()
		return nil, err
	}
	openAudio, err := a.newAudioFactory(cfg.Audio)
	if err != nil {
		a.Pipeline.Close(ctx)
		a.publisher.Close()
		return nil, err
	}

	a.Registry = session.NewRegistry(session.Deps{
		Store:     store,
		Recognize: recognize,
		Audio:     openAudio,
		Pipeline:  a.Pipeline,
		Answerer:  sum,
		Backoff: session.BackoffConfig{
			Initial: cfg.Reconnect.InitialBackoff,
			Max:     cfg.Reconnect.MaxBackoff,
		},
		Metrics: metrics.DefaultMetrics,
	})

	a.router = httpapi.NewRouter(httpapi.Deps{
		Registry: a.Registry,
		Store:    store,
		Broker:   a.Broker,
		Hub:      a.Hub,
		Metrics:  metrics.DefaultMetrics,
		Ready:    a.ready.Load,
	})
	a.metrics = observability.NewServer(":"+cfg.Observability.MetricsPort, a.ready.Load)

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("llmProvider", cfg.LLM.Provider).
		Str("audioSource", cfg.Audio.Source).
		Str("dataDir", cfg.Service.DataDir).
		Msg("Live transcription service application created")
	return a, nil
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:  a.Cfg.Observability.LogLevel,
		Format: a.Cfg.Observability.LogFormat,
	})
	a.Logger = logging.Logger().With().
		Str("service", "live-transcription-service").
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Observability.Environment).
		Msg("Logger setup completed")
}

func newLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "", "mock":
		return llmmock.New(), nil
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, errors.New("llm: openai provider needs OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		return llm.NewOpenAIClient(llm.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func (a *Application) newRecognizer(ctx context.Context, cfg config.STTConfig) (stt.Factory, error) {
	switch cfg.Provider {
	case "", "mock":
		return sttmock.Factory(), nil
	case "google":
		r, err := google.NewRecognizer(ctx, google.Config{
			LanguageCode:      cfg.LanguageCode,
			SampleRateHz:      cfg.SampleRateHz,
			InterimResults:    cfg.InterimResults,
			AudioEncoding:     cfg.AudioEncoding,
			EnableDiarization: cfg.EnableDiarization,
			MinSpeakers:       cfg.MinSpeakers,
			MaxSpeakers:       cfg.MaxSpeakers,
		})
		if err != nil {
			return nil, fmt.Errorf("create speech client: %w", err)
		}
		a.recognizer = r
		return r.Factory(), nil
	default:
		return nil, fmt.Errorf("stt: unknown provider %q", cfg.Provider)
	}
}

func (a *Application) newAudioFactory(cfg config.AudioConfig) (audio.Factory, error) {
	switch cfg.Source {
	case "", "push":
		a.Broker = audio.NewBroker(audio.DefaultPushBuffer)
		return a.Broker.Open, nil
	case "wav":
		if cfg.WAVPath == "" {
			return nil, errors.New("audio: wav source needs AUDIO_WAV_PATH")
		}
		return audio.WAVFactory(audio.WAVConfig{
			Path:         cfg.WAVPath,
			FrameSamples: cfg.FrameSamples,
			Loop:         cfg.Loop,
			Realtime:     true,
		}), nil
	default:
		return nil, fmt.Errorf("audio: unknown source %q", cfg.Source)
	}
}

// notify fans a change out to websocket subscribers and the artifacts topic.
func (a *Application) notify(ctx context.Context, ev models.ContentChanged) error {
	hubErr := a.Hub.Notify(ctx, ev)
	busErr := a.publisher.PublishContentChanged(ctx, ev)
	return errors.Join(hubErr, busErr)
}

// Router returns the control surface handler.
func (a *Application) Router() http.Handler {
	return a.router
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	hubCtx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	go a.Hub.Run(hubCtx)
	a.metrics.Start()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Live transcription service starting")

	return nil
}

// Shutdown stops every session, drains the artifact pipeline and releases
// external clients.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	shutdownLogger.Info().Int("activeSessions", a.Registry.ActiveCount()).Msg("Live transcription service shutting down")

	if err := a.Registry.Shutdown(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Sessions did not stop in time")
	}
	if err := a.Pipeline.Close(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Artifact pipeline did not drain in time")
	}
	if a.hubCancel != nil {
		a.hubCancel()
	}
	if err := a.publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Failed to close event publisher")
	}
	if a.recognizer != nil {
		if err := a.recognizer.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Failed to close speech client")
		}
	}
	if err := a.metrics.Shutdown(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Failed to stop observability server")
	}
}
