// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the root configuration for the live transcription service.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	Audio         AudioConfig
	LLM           LLMConfig
	Pipeline      PipelineConfig
	Reconnect     ReconnectConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
	DataDir   string // root of the per-tenant artifact directories
}

// STTConfig configures the recognition adapter.
type STTConfig struct {
	Provider          string // mock, google
	LanguageCode      string
	SampleRateHz      int
	InterimResults    bool
	AudioEncoding     string
	EnableDiarization bool
	MinSpeakers       int
	MaxSpeakers       int
}

// AudioConfig selects where session audio comes from.
type AudioConfig struct {
	Source       string // push, wav
	WAVPath      string
	FrameSamples int
	Loop         bool
}

// LLMConfig configures the language service adapter.
type LLMConfig struct {
	Provider    string // mock, openai
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	PromptsFile string
}

// PipelineConfig tunes the derived artifact pipeline.
type PipelineConfig struct {
	Workers            int
	QueueSize          int
	ChunkSize          int
	ChunkThreshold     int
	SummaryConcurrency int
}

// ReconnectConfig bounds the backoff between recognition stream attempts.
type ReconnectConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// KafkaConfig holds event bus settings.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicSegments  string
	TopicArtifacts string
	Principal      string
}

// ObservabilityConfig holds logging, metrics and error reporting settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
	SentryDSN   string
	Environment string
}

// Load reads the configuration from the environment, falling back to defaults
// for unset or unparsable values.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-live-transcription")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
			DataDir:   envOrDefault("DATA_DIR", "transcriptions"),
		},
		STT: STTConfig{
			Provider:          envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:      envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:      envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults:    envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:     envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			EnableDiarization: envOrDefaultBool("STT_ENABLE_DIARIZATION", false),
			MinSpeakers:       envOrDefaultInt("STT_MIN_SPEAKERS", 2),
			MaxSpeakers:       envOrDefaultInt("STT_MAX_SPEAKERS", 6),
		},
		Audio: AudioConfig{
			Source:       envOrDefault("AUDIO_SOURCE", "push"),
			WAVPath:      envOrDefault("AUDIO_WAV_PATH", ""),
			FrameSamples: envOrDefaultInt("AUDIO_FRAME_SAMPLES", 1024),
			Loop:         envOrDefaultBool("AUDIO_WAV_LOOP", false),
		},
		LLM: LLMConfig{
			Provider:    envOrDefault("LLM_PROVIDER", "mock"),
			APIKey:      envOrDefault("OPENAI_API_KEY", ""),
			BaseURL:     envOrDefault("OPENAI_BASE_URL", ""),
			Model:       envOrDefault("LLM_MODEL", "gpt-4o-mini"),
			Timeout:     envOrDefaultDuration("LLM_TIMEOUT", 30*time.Second),
			PromptsFile: envOrDefault("LLM_PROMPTS_FILE", ""),
		},
		Pipeline: PipelineConfig{
			Workers:            envOrDefaultInt("PIPELINE_WORKERS", 4),
			QueueSize:          envOrDefaultInt("PIPELINE_QUEUE_SIZE", 256),
			ChunkSize:          envOrDefaultInt("SUMMARY_CHUNK_SIZE", 200),
			ChunkThreshold:     envOrDefaultInt("SUMMARY_CHUNK_THRESHOLD", 2000),
			SummaryConcurrency: envOrDefaultInt("SUMMARY_CONCURRENCY", 4),
		},
		Reconnect: ReconnectConfig{
			InitialBackoff: envOrDefaultDuration("RECONNECT_INITIAL_BACKOFF", 250*time.Millisecond),
			MaxBackoff:     envOrDefaultDuration("RECONNECT_MAX_BACKOFF", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        envOrDefaultList("KAFKA_BROKERS", nil),
			TopicSegments:  envOrDefault("KAFKA_TOPIC_SEGMENTS", "meeting.transcript.segment"),
			TopicArtifacts: envOrDefault("KAFKA_TOPIC_ARTIFACTS", "meeting.artifacts.updated"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
			SentryDSN:   envOrDefault("SENTRY_DSN", ""),
			Environment: envOrDefault("ENV", "production"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
