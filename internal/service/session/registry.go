package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/audio"
	"live-transcription-service/internal/service/stt"
	"live-transcription-service/internal/storage"
)

var (
	errNoAnswerer     = errors.New("query: no language service configured")
	errSessionRemoved = errors.New("session removed")
)

// Answerer answers an ad-hoc question against a transcript.
type Answerer interface {
	Answer(ctx context.Context, question, transcript string) (string, error)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Store     *storage.Store
	Recognize stt.Factory
	Audio     audio.Factory
	Pipeline  Submitter
	Answerer  Answerer
	Backoff   BackoffConfig
	Metrics   *metrics.Metrics
}

// Registry maps tenant ids to sessions and owns their runs.
type Registry struct {
	deps      Deps
	processor *Processor
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	return &Registry{
		deps:      deps,
		processor: NewProcessor(deps.Store, deps.Pipeline, deps.Metrics),
		logger:    logging.WithComponent("session-registry"),
		sessions:  make(map[string]*Session),
	}
}

// GetOrCreate returns the tenant's session, creating it on first use.
func (r *Registry) GetOrCreate(tenantID string) (*Session, error) {
	if !storage.ValidTenant(tenantID) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidTenant, tenantID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[tenantID]
	if !ok {
		sess = newSession(tenantID, r.deps.Store)
		r.sessions[tenantID] = sess
	}
	return sess, nil
}

// Get returns the tenant's session if one exists.
func (r *Registry) Get(tenantID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[tenantID]
	return sess, ok
}

// Start begins a new streaming run for the tenant. Transcript state and
// artifacts are reset. The run outlives ctx; use Stop to end it.
func (r *Registry) Start(ctx context.Context, tenantID string) error {
	for {
		sess, err := r.GetOrCreate(tenantID)
		if err != nil {
			return err
		}
		// A concurrent Teardown may discard sess before we lock it; the next
		// GetOrCreate then returns the replacement.
		if err := r.start(ctx, sess); !errors.Is(err, errSessionRemoved) {
			return err
		}
	}
}

func (r *Registry) start(ctx context.Context, sess *Session) error {
	tenantID := sess.tenantID
	sess.runMu.Lock()
	defer sess.runMu.Unlock()
	if sess.removed {
		return errSessionRemoved
	}
	if sess.running() {
		return ErrAlreadyRunning
	}

	var unlock func() error
	if r.deps.Store != nil {
		var err error
		unlock, err = r.deps.Store.Lock(tenantID)
		if errors.Is(err, storage.ErrLocked) {
			return fmt.Errorf("%w: %w", ErrAlreadyRunning, err)
		}
		if err != nil {
			return err
		}
	}

	runID := xid.New().String()
	if err := sess.reset(runID, time.Now()); err != nil {
		if unlock != nil {
			unlock()
		}
		return fmt.Errorf("reset session: %w", err)
	}
	sess.lifecycle.Reset(runID)

	logger := logging.WithRun(tenantID, runID)
	run := &runner{
		sess:      sess,
		runID:     runID,
		recognize: r.deps.Recognize,
		openAudio: r.deps.Audio,
		processor: r.processor,
		backoff:   r.deps.Backoff,
		metrics:   r.deps.Metrics,
		logger:    logger,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	sess.cancel = cancel
	sess.done = done

	go func() {
		defer close(done)
		defer cancel()
		if unlock != nil {
			defer func() {
				if err := unlock(); err != nil {
					logger.Warn().Err(err).Msg("Failed to release tenant lock")
				}
			}()
		}
		run.run(runCtx)
	}()

	logger.Info().Msg("Streaming run started")
	return nil
}

// Stop ends the tenant's run and waits for its runner to release the audio
// source and recognition stream. Returns false when nothing was running.
func (r *Registry) Stop(tenantID string) bool {
	sess, ok := r.Get(tenantID)
	if !ok {
		return false
	}

	sess.runMu.Lock()
	defer sess.runMu.Unlock()
	return sess.stopLocked()
}

// Teardown stops the tenant's run and discards its session. Returns false
// for unknown tenants.
func (r *Registry) Teardown(tenantID string) bool {
	sess, ok := r.Get(tenantID)
	if !ok {
		return false
	}

	sess.runMu.Lock()
	sess.stopLocked()
	sess.removed = true
	r.mu.Lock()
	if r.sessions[tenantID] == sess {
		delete(r.sessions, tenantID)
	}
	r.mu.Unlock()
	sess.runMu.Unlock()

	r.logger.Info().Str("tenantId", tenantID).Msg("Session torn down")
	return true
}

// Shutdown stops every run, waiting at most until ctx expires.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	tenants := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		tenants = append(tenants, id)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, id := range tenants {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Stop(id)
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the number of running sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	n := 0
	for _, s := range sessions {
		s.runMu.Lock()
		if s.running() {
			n++
		}
		s.runMu.Unlock()
	}
	return n
}

func (r *Registry) session(tenantID string) (*Session, error) {
	sess, ok := r.Get(tenantID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	return sess, nil
}

// Transcript returns the tenant's accepted segments.
func (r *Registry) Transcript(tenantID string) ([]models.TranscriptSegment, error) {
	sess, err := r.session(tenantID)
	if err != nil {
		return nil, err
	}
	return sess.Segments(), nil
}

// TranscriptLines returns the tenant's formatted transcript lines.
func (r *Registry) TranscriptLines(tenantID string) ([]string, error) {
	sess, err := r.session(tenantID)
	if err != nil {
		return nil, err
	}
	return sess.Lines(), nil
}

// QA returns the tenant's question/answer entries, newest first.
func (r *Registry) QA(tenantID string) ([]models.QAEntry, error) {
	sess, err := r.session(tenantID)
	if err != nil {
		return nil, err
	}
	return sess.QA(), nil
}

// ActionItems returns the tenant's latest action items.
func (r *Registry) ActionItems(tenantID string) (string, error) {
	sess, err := r.session(tenantID)
	if err != nil {
		return "", err
	}
	return sess.ActionItems(), nil
}

// MeetingMinutes returns the tenant's latest meeting minutes.
func (r *Registry) MeetingMinutes(tenantID string) (string, error) {
	sess, err := r.session(tenantID)
	if err != nil {
		return "", err
	}
	return sess.MeetingMinutes(), nil
}

// Status returns a view of the tenant's session.
func (r *Registry) Status(tenantID string) (Status, error) {
	sess, err := r.session(tenantID)
	if err != nil {
		return Status{}, err
	}
	return sess.status(), nil
}

// Query answers a free-form question against the tenant's transcript
// without recording it as a Q&A entry. Tenants without a session are
// answered from the persisted transcript.
func (r *Registry) Query(ctx context.Context, tenantID, question string) (string, error) {
	if r.deps.Answerer == nil {
		return "", errNoAnswerer
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuery
	}

	var transcript string
	if sess, ok := r.Get(tenantID); ok {
		transcript = sess.Snapshot().Text
	} else {
		if r.deps.Store == nil {
			return "", fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
		}
		lines, err := r.deps.Store.ReadTranscript(tenantID)
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
		}
		if err != nil {
			return "", err
		}
		transcript = strings.Join(lines, "\n")
	}
	return r.deps.Answerer.Answer(ctx, question, transcript)
}
