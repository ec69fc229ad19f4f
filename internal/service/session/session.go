// Package session owns per-tenant transcription sessions: the registry that
// starts and stops them, the reconnect loop that keeps a recognition stream
// alive, and the processor that turns final results into transcript segments.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/service/artifacts"
	"live-transcription-service/internal/storage"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrUnknownTenant is returned for tenants without a session.
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrEmptyQuery is returned by Query for a blank question.
	ErrEmptyQuery = errors.New("empty query")
)

// Session is the state of one tenant. It survives stop/start cycles and is
// discarded only by Teardown. The run's runner goroutine is the only writer
// of segments, lastAcceptedText and startedAt.
type Session struct {
	tenantID  string
	store     *storage.Store
	lifecycle *Lifecycle

	mu               sync.RWMutex
	runID            string
	accepting        bool
	segments         []models.TranscriptSegment
	lines            []string
	lastAcceptedText string
	startedAt        time.Time
	qa               []models.QAEntry
	actionItems      string
	actionSeq        uint64
	minutes          string
	minutesSeq       uint64

	// persistMu orders artifact file writes so the last write reflects the
	// latest in-memory value.
	persistMu sync.Mutex

	// runMu serializes Start, Stop and Teardown.
	runMu   sync.Mutex
	cancel  func()
	done    chan struct{}
	removed bool // set by Teardown under runMu
}

func newSession(tenantID string, store *storage.Store) *Session {
	return &Session{
		tenantID:  tenantID,
		store:     store,
		lifecycle: NewLifecycle(),
	}
}

// TenantID returns the owning tenant.
func (s *Session) TenantID() string {
	return s.tenantID
}

// reset clears transcript and artifact state for a new run.
func (s *Session) reset(runID string, now time.Time) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.runID = runID
	s.accepting = true
	s.segments = nil
	s.lines = nil
	s.lastAcceptedText = ""
	s.startedAt = now
	s.qa = nil
	s.actionItems, s.actionSeq = "", 0
	s.minutes, s.minutesSeq = "", 0
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.Reset(s.tenantID)
}

// stopLocked cancels the active run and waits for its runner. Callers hold
// runMu. Returns false when nothing was running.
func (s *Session) stopLocked() bool {
	if !s.running() {
		return false
	}
	s.halt()
	s.cancel()
	<-s.done

	logger := logging.WithRun(s.tenantID, s.lifecycle.RunId())
	logger.Info().Msg("Streaming run stopped")
	return true
}

// halt stops accepting results for the current run.
func (s *Session) halt() {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()
}

// running reports whether a runner goroutine is active. Callers hold runMu.
func (s *Session) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Segments returns a copy of the accepted segments of the current or last run.
func (s *Session) Segments() []models.TranscriptSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TranscriptSegment(nil), s.segments...)
}

// Lines returns the formatted transcript lines.
func (s *Session) Lines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.lines...)
}

// QA returns the question/answer entries, newest first.
func (s *Session) QA() []models.QAEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.QAEntry(nil), s.qa...)
}

// ActionItems returns the latest action items text.
func (s *Session) ActionItems() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actionItems
}

// MeetingMinutes returns the latest meeting minutes text.
func (s *Session) MeetingMinutes() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minutes
}

// Snapshot implements artifacts.Sink.
func (s *Session) Snapshot() artifacts.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	texts := make([]string, len(s.segments))
	for i, seg := range s.segments {
		texts[i] = seg.Text
	}
	return artifacts.Snapshot{
		TenantID: s.tenantID,
		RunID:    s.runID,
		Text:     strings.Join(texts, "\n"),
		Lines:    append([]string(nil), s.lines...),
	}
}

// PrependQA implements artifacts.Sink.
func (s *Session) PrependQA(runID string, entry models.QAEntry) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		return nil
	}
	s.qa = append([]models.QAEntry{entry}, s.qa...)
	snapshot := append([]models.QAEntry(nil), s.qa...)
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.WriteQA(s.tenantID, snapshot)
}

// SetMeetingMinutes implements artifacts.Sink.
func (s *Session) SetMeetingMinutes(runID string, seq uint64, text string) (bool, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if runID != s.runID || seq <= s.minutesSeq {
		s.mu.Unlock()
		return false, nil
	}
	s.minutes, s.minutesSeq = text, seq
	s.mu.Unlock()

	if s.store == nil {
		return true, nil
	}
	return true, s.store.WriteMeetingMinutes(s.tenantID, text)
}

// SetActionItems implements artifacts.Sink.
func (s *Session) SetActionItems(runID string, seq uint64, text string) (bool, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if runID != s.runID || seq <= s.actionSeq {
		s.mu.Unlock()
		return false, nil
	}
	s.actionItems, s.actionSeq = text, seq
	s.mu.Unlock()

	if s.store == nil {
		return true, nil
	}
	return true, s.store.WriteActionItems(s.tenantID, text)
}

// Status is a point-in-time view of a session.
type Status struct {
	TenantID  string    `json:"tenantId"`
	RunID     string    `json:"runId,omitempty"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	Segments  int       `json:"segments"`
	Questions int       `json:"questions"`
	Attempts  int       `json:"attempts"`
	Failures  int       `json:"failures"`
	StartedAt time.Time `json:"startedAt,omitzero"`
}

func (s *Session) status() Status {
	s.runMu.Lock()
	running := s.running()
	s.runMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		TenantID:  s.tenantID,
		RunID:     s.runID,
		State:     s.lifecycle.State().String(),
		Running:   running,
		Segments:  len(s.segments),
		Questions: len(s.qa),
		Attempts:  s.lifecycle.Attempts(),
		Failures:  s.lifecycle.Failures(),
		StartedAt: s.startedAt,
	}
}
