package artifacts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/llm"
)

// Defaults for rolling summarization.
const (
	DefaultChunkSize      = 200
	DefaultChunkThreshold = 2000
	DefaultConcurrency    = 4
)

// ErrNoSummary is returned when every chunk of a rolling summary failed.
var ErrNoSummary = errors.New("rolling summary: all chunks failed")

// Language tasks, used as metric labels.
const (
	TaskAnswer      = "answer"
	TaskChunk       = "chunk_summary"
	TaskMinutes     = "meeting_minutes"
	TaskActionItems = "action_items"
)

// SummarizerConfig tunes chunking and fan-out.
type SummarizerConfig struct {
	ChunkSize      int
	ChunkThreshold int
	Concurrency    int
}

// Summarizer runs the language tasks behind every derived artifact.
type Summarizer struct {
	client  llm.Client
	prompts llm.Prompts
	cfg     SummarizerConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewSummarizer creates a summarizer; zero config values take the defaults.
func NewSummarizer(client llm.Client, prompts llm.Prompts, cfg SummarizerConfig, m *metrics.Metrics) *Summarizer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = DefaultChunkThreshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Summarizer{
		client:  client,
		prompts: prompts,
		cfg:     cfg,
		metrics: m,
		logger:  logging.WithComponent("summarizer"),
	}
}

func (s *Summarizer) complete(ctx context.Context, task, system, user string) (string, error) {
	start := time.Now()
	out, err := s.client.Complete(ctx, system, user)
	s.metrics.RecordLLMCall(task, err, time.Since(start).Seconds())
	return out, err
}

// Answer answers a question against the transcript so far.
func (s *Summarizer) Answer(ctx context.Context, question, transcript string) (string, error) {
	user := llm.Render(s.prompts.AnswerUser, map[string]string{
		"transcript": transcript,
		"question":   question,
	})
	return s.complete(ctx, TaskAnswer, s.prompts.AnswerSystem, user)
}

// RollingSummary summarizes the cleaned transcript chunk by chunk in parallel.
// Failed chunks are dropped; survivors are joined in chunk order.
func (s *Summarizer) RollingSummary(ctx context.Context, transcript string) (string, error) {
	chunks := Chunk(CleanTranscript(transcript), s.cfg.ChunkSize)
	results := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			user := llm.Render(s.prompts.ChunkUser, map[string]string{"transcript": chunk})
			out, err := s.complete(gctx, TaskChunk, s.prompts.ChunkSystem, user)
			if err != nil {
				s.logger.Warn().Err(err).Int("chunk", i).Int("chunks", len(chunks)).Msg("Chunk summary failed, dropping chunk")
				return nil
			}
			results[i] = out
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	kept := make([]string, 0, len(results))
	for _, r := range results {
		if r != "" {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 && len(chunks) > 0 {
		return "", ErrNoSummary
	}
	return strings.Join(kept, "\n"), nil
}

// MinutesInput returns the text the minutes and action items are derived from:
// the transcript itself, or its rolling summary above the chunk threshold.
func (s *Summarizer) MinutesInput(ctx context.Context, transcript string) (string, error) {
	if len([]rune(transcript)) <= s.cfg.ChunkThreshold {
		return transcript, nil
	}
	return s.RollingSummary(ctx, transcript)
}

// Minutes writes meeting minutes from a transcript or rolling summary.
func (s *Summarizer) Minutes(ctx context.Context, input string) (string, error) {
	user := llm.Render(s.prompts.MinutesUser, map[string]string{"summary": input, "transcript": input})
	return s.complete(ctx, TaskMinutes, s.prompts.MinutesSystem, user)
}

// ActionItems extracts action items from a transcript or rolling summary.
func (s *Summarizer) ActionItems(ctx context.Context, input string) (string, error) {
	user := llm.Render(s.prompts.ActionItemsUser, map[string]string{"summary": input, "transcript": input})
	return s.complete(ctx, TaskActionItems, s.prompts.ActionItemsSystem, user)
}
