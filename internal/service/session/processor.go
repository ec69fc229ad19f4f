package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/artifacts"
	"live-transcription-service/internal/service/segment"
	"live-transcription-service/internal/service/stt"
	"live-transcription-service/internal/storage"
)

// Submitter hands accepted segments to the derived artifact pipeline.
type Submitter interface {
	Submit(sink artifacts.Sink, seg models.TranscriptSegment) error
}

// Processor turns final recognition results into transcript segments.
type Processor struct {
	store    *storage.Store
	pipeline Submitter
	ids      *segment.Generator
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger
}

// NewProcessor creates a processor. store and pipeline may be nil.
func NewProcessor(store *storage.Store, pipeline Submitter, m *metrics.Metrics) *Processor {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Processor{
		store:    store,
		pipeline: pipeline,
		ids:      segment.New(),
		metrics:  m,
		now:      time.Now,
		logger:   logging.WithComponent("segment-processor"),
	}
}

// Accept records a final result for the given run. A result equal to the
// previously accepted text, blank, or belonging to a run that is no longer
// accepting is discarded without side effects. A persistence error is
// returned after the segment has been accepted in memory.
func (p *Processor) Accept(sess *Session, runID string, res stt.Result) (bool, error) {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return false, nil
	}

	sess.mu.Lock()
	if !sess.accepting || sess.runID != runID {
		sess.mu.Unlock()
		return false, nil
	}
	if text == sess.lastAcceptedText {
		sess.mu.Unlock()
		p.metrics.RecordSegmentDeduplicated()
		return false, nil
	}

	elapsed := int64(p.now().Sub(sess.startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	seg := models.TranscriptSegment{
		ID:             p.ids.Next(runID),
		Text:           text,
		Confidence:     res.Confidence,
		ElapsedSeconds: elapsed,
		SpeakerTag:     res.SpeakerTag(),
	}
	line := segment.FormatLine(seg.Text, seg.Confidence, seg.ElapsedSeconds)
	sess.segments = append(sess.segments, seg)
	sess.lines = append(sess.lines, line)
	sess.lastAcceptedText = text
	sess.mu.Unlock()

	p.metrics.RecordSegmentAccepted()

	var persistErr error
	if p.store != nil {
		if err := p.store.AppendTranscriptLine(sess.tenantID, line); err != nil {
			p.metrics.RecordPersistError("transcript")
			persistErr = fmt.Errorf("persist segment %s: %w", seg.ID, err)
		}
	}

	if p.pipeline != nil {
		if err := p.pipeline.Submit(sess, seg); err != nil {
			p.logger.Warn().Err(err).Str("tenantId", sess.tenantID).Str("segmentId", seg.ID).Msg("Segment not submitted for derivation")
		}
	}
	return true, persistErr
}
