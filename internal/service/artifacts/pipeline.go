// Package artifacts derives question/answer entries, meeting minutes and
// action items from accepted transcript segments, off the ingestion path.
package artifacts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/segment"
)

// Job kinds, used as metric labels.
const (
	KindQuestions = "questions"
	KindMinutes   = "minutes"
	KindPublish   = "publish"
)

// ErrPipelineClosed is returned by Submit after Close.
var ErrPipelineClosed = errors.New("artifact pipeline closed")

// Snapshot is the transcript state a job derives from.
type Snapshot struct {
	TenantID string
	RunID    string
	// Text is the raw segment texts joined by newlines.
	Text string
	// Lines are the formatted transcript lines, for timestamp lookup.
	Lines []string
}

// Sink receives derived artifacts for one tenant. Writes tagged with a
// run other than the current one are discarded by the sink.
type Sink interface {
	Snapshot() Snapshot
	// PrependQA adds an entry at the head of the Q&A list and persists it.
	PrependQA(runID string, entry models.QAEntry) error
	// SetMeetingMinutes stores minutes unless a newer seq was already applied.
	SetMeetingMinutes(runID string, seq uint64, text string) (bool, error)
	// SetActionItems stores action items unless a newer seq was already applied.
	SetActionItems(runID string, seq uint64, text string) (bool, error)
}

// Notifier is told after an artifact has been regenerated.
type Notifier interface {
	Notify(ctx context.Context, ev models.ContentChanged) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev models.ContentChanged) error

func (f NotifierFunc) Notify(ctx context.Context, ev models.ContentChanged) error {
	return f(ctx, ev)
}

// SegmentPublisher forwards accepted segments to downstream consumers.
type SegmentPublisher interface {
	PublishSegment(ctx context.Context, ev models.SegmentAccepted) error
}

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
	// Publisher is optional.
	Publisher SegmentPublisher
}

type job struct {
	kind      string
	sink      Sink
	snap      Snapshot
	segment   models.TranscriptSegment
	questions []string
	seq       uint64
}

// Pipeline runs derivation jobs on a fixed pool of workers fed by a bounded
// queue. Submit never blocks the caller.
type Pipeline struct {
	sum       *Summarizer
	notifier  Notifier
	publisher SegmentPublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	seq    uint64
}

// NewPipeline starts the workers.
func NewPipeline(cfg Config, sum *Summarizer, notifier Notifier, m *metrics.Metrics) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		sum:       sum,
		notifier:  notifier,
		publisher: cfg.Publisher,
		metrics:   m,
		logger:    logging.WithComponent("artifact-pipeline"),
		jobs:      make(chan job, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit schedules the derivations for a newly accepted segment. Jobs that
// do not fit in the queue are dropped and counted.
func (p *Pipeline) Submit(sink Sink, seg models.TranscriptSegment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}

	snap := sink.Snapshot()
	if p.publisher != nil {
		p.enqueue(job{kind: KindPublish, sink: sink, snap: snap, segment: seg})
	}
	if qs := DetectQuestions(seg.Text); len(qs) > 0 {
		for range qs {
			p.metrics.RecordQuestionDetected()
		}
		p.enqueue(job{kind: KindQuestions, sink: sink, snap: snap, segment: seg, questions: qs})
	}

	p.seq++
	p.enqueue(job{kind: KindMinutes, sink: sink, snap: snap, segment: seg, seq: p.seq})
	return nil
}

func (p *Pipeline) enqueue(j job) {
	select {
	case p.jobs <- j:
	default:
		p.metrics.RecordPipelineDropped(j.kind)
		p.logger.Warn().
			Str("tenantId", j.snap.TenantID).
			Str("kind", j.kind).
			Str("segmentId", j.segment.ID).
			Msg("Artifact queue full, job dropped")
	}
}

// Close stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, in-flight language calls are cancelled.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		var err error
		switch j.kind {
		case KindQuestions:
			err = p.answerQuestions(j)
		case KindMinutes:
			err = p.regenerateMinutes(j)
		case KindPublish:
			err = p.publishSegment(j)
		}
		p.metrics.RecordPipelineJob(j.kind, err)
	}
}

func (p *Pipeline) answerQuestions(j job) error {
	logger := logging.WithRun(j.snap.TenantID, j.snap.RunID)
	var firstErr error
	for _, q := range j.questions {
		answer, err := p.sum.Answer(p.ctx, q, j.snap.Text)
		if err != nil {
			p.report(j, err, "Answer generation failed, question skipped")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		entry := models.QAEntry{
			Question:  q,
			Answer:    answer,
			Timestamp: segment.FindTimestamp(j.snap.Lines, q),
		}
		if err := j.sink.PrependQA(j.snap.RunID, entry); err != nil {
			p.metrics.RecordPersistError(models.ArtifactQA)
			logger.Error().Err(err).Str("question", q).Msg("Failed to persist Q&A entry")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Info().Str("question", q).Str("timestamp", entry.Timestamp).Msg("Question answered")
		p.notify(j, models.ArtifactQA)
	}
	return firstErr
}

func (p *Pipeline) regenerateMinutes(j job) error {
	logger := logging.WithRun(j.snap.TenantID, j.snap.RunID)

	input, err := p.sum.MinutesInput(p.ctx, j.snap.Text)
	if err != nil {
		p.report(j, err, "Rolling summary failed, keeping previous minutes")
		return err
	}

	minutes, err := p.sum.Minutes(p.ctx, input)
	if err != nil {
		p.report(j, err, "Meeting minutes generation failed, keeping previous minutes")
		return err
	}
	applied, err := j.sink.SetMeetingMinutes(j.snap.RunID, j.seq, minutes)
	if err != nil {
		p.metrics.RecordPersistError(models.ArtifactMeetingMinutes)
		logger.Error().Err(err).Uint64("seq", j.seq).Msg("Failed to persist meeting minutes")
	}
	if applied {
		p.notify(j, models.ArtifactMeetingMinutes)
	}

	items, itemsErr := p.sum.ActionItems(p.ctx, input)
	if itemsErr != nil {
		p.report(j, itemsErr, "Action items generation failed, keeping previous items")
		return itemsErr
	}
	applied, perr := j.sink.SetActionItems(j.snap.RunID, j.seq, items)
	if perr != nil {
		p.metrics.RecordPersistError(models.ArtifactActionItems)
		logger.Error().Err(perr).Uint64("seq", j.seq).Msg("Failed to persist action items")
		return perr
	}
	if applied {
		p.notify(j, models.ArtifactActionItems)
	}
	logger.Debug().Uint64("seq", j.seq).Int("transcriptChars", len(j.snap.Text)).Msg("Meeting minutes regenerated")
	return err
}

func (p *Pipeline) publishSegment(j job) error {
	ev := models.SegmentAccepted{
		EventType:      models.EventSegmentAccepted,
		TenantID:       j.snap.TenantID,
		RunID:          j.snap.RunID,
		SegmentID:      j.segment.ID,
		Text:           j.segment.Text,
		Confidence:     j.segment.Confidence,
		ElapsedSeconds: j.segment.ElapsedSeconds,
		SpeakerTag:     j.segment.SpeakerTag,
		Timestamp:      time.Now().UnixMilli(),
	}
	if err := p.publisher.PublishSegment(p.ctx, ev); err != nil {
		logger := logging.WithRun(j.snap.TenantID, j.snap.RunID)
		logger.Warn().Err(err).Str("segmentId", ev.SegmentID).Msg("Segment publish failed")
		return err
	}
	return nil
}

func (p *Pipeline) notify(j job, artifact string) {
	if p.notifier == nil {
		return
	}
	ev := models.ContentChanged{
		EventType: models.EventContentUpdate,
		TenantID:  j.snap.TenantID,
		Artifact:  artifact,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := p.notifier.Notify(p.ctx, ev); err != nil {
		p.logger.Warn().Err(err).Str("tenantId", j.snap.TenantID).Str("artifact", artifact).Msg("Change notification failed")
	}
}

func (p *Pipeline) report(j job, err error, msg string) {
	logger := logging.WithRun(j.snap.TenantID, j.snap.RunID)
	logger.Warn().Err(err).Str("kind", j.kind).Msg(msg)
	if errors.Is(err, context.Canceled) {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("tenantId", j.snap.TenantID)
		scope.SetTag("kind", j.kind)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
