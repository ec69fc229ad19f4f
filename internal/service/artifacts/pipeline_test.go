package artifacts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/service/segment"
)

// fakeSink is an in-memory Sink for one tenant and run.
type fakeSink struct {
	mu         sync.Mutex
	runID      string
	texts      []string
	lines      []string
	qa         []models.QAEntry
	minutes    string
	minutesSeq uint64
	items      string
	itemsSeq   uint64
	persistErr error
}

func (s *fakeSink) add(text string, elapsed int64) models.TranscriptSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	s.lines = append(s.lines, segment.FormatLine(text, 0.9, elapsed))
	return models.TranscriptSegment{ID: "seg", Text: text, Confidence: 0.9, ElapsedSeconds: elapsed}
}

func (s *fakeSink) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TenantID: "acme",
		RunID:    s.runID,
		Text:     strings.Join(s.texts, "\n"),
		Lines:    append([]string(nil), s.lines...),
	}
}

func (s *fakeSink) PrependQA(runID string, entry models.QAEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	if runID != s.runID {
		return nil
	}
	s.qa = append([]models.QAEntry{entry}, s.qa...)
	return nil
}

func (s *fakeSink) SetMeetingMinutes(runID string, seq uint64, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID != s.runID || seq <= s.minutesSeq {
		return false, nil
	}
	s.minutes, s.minutesSeq = text, seq
	return true, nil
}

func (s *fakeSink) SetActionItems(runID string, seq uint64, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID != s.runID || seq <= s.itemsSeq {
		return false, nil
	}
	s.items, s.itemsSeq = text, seq
	return true, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.ContentChanged
}

func (n *recordingNotifier) Notify(ctx context.Context, ev models.ContentChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) count(artifact string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.Artifact == artifact {
			c++
		}
	}
	return c
}

func echoLLM() *fakeLLM {
	return newFakeLLM(func(system, user string) (string, error) {
		switch system {
		case "answer":
			return "A: " + strings.SplitN(user, "|", 2)[0], nil
		case "minutes":
			return "minutes of " + user, nil
		case "actions":
			return "actions of " + user, nil
		}
		return "summary", nil
	})
}

func newTestPipeline(client *fakeLLM, n Notifier, cfg Config) *Pipeline {
	sum := NewSummarizer(client, testPrompts(), SummarizerConfig{}, testMetrics)
	return NewPipeline(cfg, sum, n, testMetrics)
}

func TestPipeline_QuestionAndMinutes(t *testing.T) {
	client := echoLLM()
	notifier := &recordingNotifier{}
	p := newTestPipeline(client, notifier, Config{Workers: 1, QueueSize: 16})

	sink := &fakeSink{runID: "run-1"}
	for i, text := range []string{"Revenue grew.", "What is our runway?", "Eighteen months."} {
		seg := sink.add(text, int64(i*30))
		if err := p.Submit(sink, seg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	if len(sink.qa) != 1 {
		t.Fatalf("expected 1 Q&A entry, got %d", len(sink.qa))
	}
	entry := sink.qa[0]
	if entry.Question != "What is our runway?" || entry.Answer != "A: What is our runway?" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Timestamp != "00:30" {
		t.Errorf("expected timestamp 00:30, got %s", entry.Timestamp)
	}

	if client.count("minutes") != 3 {
		t.Errorf("expected minutes regenerated per segment, got %d calls", client.count("minutes"))
	}
	if client.count("actions") != 3 {
		t.Errorf("expected action items regenerated per segment, got %d calls", client.count("actions"))
	}
	wantInput := "Revenue grew.\nWhat is our runway?\nEighteen months."
	if sink.minutes != "minutes of "+wantInput {
		t.Errorf("unexpected minutes %q", sink.minutes)
	}
	if sink.items != "actions of "+wantInput {
		t.Errorf("unexpected action items %q", sink.items)
	}

	if notifier.count(models.ArtifactMeetingMinutes) != 3 {
		t.Errorf("expected 3 minutes notifications, got %d", notifier.count(models.ArtifactMeetingMinutes))
	}
	if notifier.count(models.ArtifactQA) != 1 {
		t.Errorf("expected 1 Q&A notification, got %d", notifier.count(models.ArtifactQA))
	}
}

func TestPipeline_QAOrderNewestFirst(t *testing.T) {
	p := newTestPipeline(echoLLM(), nil, Config{Workers: 1, QueueSize: 16})
	sink := &fakeSink{runID: "run-1"}

	p.Submit(sink, sink.add("Who owns hiring?", 1))
	p.Submit(sink, sink.add("When do we ship?", 2))
	p.Close(context.Background())

	if len(sink.qa) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(sink.qa))
	}
	if sink.qa[0].Question != "When do we ship?" || sink.qa[1].Question != "Who owns hiring?" {
		t.Errorf("expected newest first, got %+v", sink.qa)
	}
}

func TestPipeline_LanguageFailureKeepsPreviousValue(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	client := newFakeLLM(func(system, user string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return "", errors.New("service unavailable")
		}
		return system + " ok", nil
	})
	p := newTestPipeline(client, nil, Config{Workers: 1, QueueSize: 16})
	sink := &fakeSink{runID: "run-1"}

	p.Submit(sink, sink.add("First point.", 1))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		done := sink.items != ""
		sink.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	fail = true
	mu.Unlock()
	p.Submit(sink, sink.add("Is this recorded?", 2))
	p.Close(context.Background())

	if sink.minutes != "minutes ok" || sink.items != "actions ok" {
		t.Errorf("expected previous artifacts kept, got %q / %q", sink.minutes, sink.items)
	}
	if len(sink.qa) != 0 {
		t.Errorf("expected failed answer to be skipped, got %+v", sink.qa)
	}
}

func TestPipeline_StaleRunDiscarded(t *testing.T) {
	release := make(chan struct{})
	client := newFakeLLM(func(system, user string) (string, error) {
		<-release
		return "late", nil
	})
	p := newTestPipeline(client, nil, Config{Workers: 1, QueueSize: 16})
	sink := &fakeSink{runID: "run-1"}
	p.Submit(sink, sink.add("Why now?", 1))

	// The run restarts while the jobs are in flight.
	sink.mu.Lock()
	sink.runID = "run-2"
	sink.mu.Unlock()
	close(release)
	p.Close(context.Background())

	if sink.minutes != "" || sink.items != "" {
		t.Errorf("expected stale run artifacts discarded, got %q / %q", sink.minutes, sink.items)
	}
	if len(sink.qa) != 0 {
		t.Errorf("expected stale Q&A discarded, got %+v", sink.qa)
	}
}

func TestPipeline_FullQueueDropsWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	client := newFakeLLM(func(system, user string) (string, error) {
		<-release
		return "ok", nil
	})
	p := newTestPipeline(client, nil, Config{Workers: 1, QueueSize: 1})
	sink := &fakeSink{runID: "run-1"}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			p.Submit(sink, sink.add("Statement.", int64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
	close(release)
	p.Close(context.Background())

	if n := client.count("minutes"); n >= 20 {
		t.Errorf("expected some jobs dropped, got %d minutes calls", n)
	}
}

func TestPipeline_SubmitAfterClose(t *testing.T) {
	p := newTestPipeline(echoLLM(), nil, Config{})
	p.Close(context.Background())

	sink := &fakeSink{runID: "run-1"}
	if err := p.Submit(sink, sink.add("Hello.", 0)); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("expected ErrPipelineClosed, got %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("expected second close to be a no-op, got %v", err)
	}
}

func TestPipeline_CloseDeadlineCancelsJobs(t *testing.T) {
	client := newFakeLLM(func(system, user string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "slow", nil
	})
	p := newTestPipeline(client, nil, Config{Workers: 1, QueueSize: 64})
	sink := &fakeSink{runID: "run-1"}
	for i := 0; i < 20; i++ {
		p.Submit(sink, sink.add("Point.", int64(i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SegmentAccepted
}

func (r *recordingPublisher) PublishSegment(ctx context.Context, ev models.SegmentAccepted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestPipeline_PublishesSegments(t *testing.T) {
	pub := &recordingPublisher{}
	p := newTestPipeline(echoLLM(), nil, Config{Workers: 2, QueueSize: 16, Publisher: pub})
	sink := &fakeSink{runID: "run-1"}

	seg := sink.add("Revenue grew.", 12)
	seg.SpeakerTag = 2
	p.Submit(sink, seg)
	p.Close(context.Background())

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published segment, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.EventType != models.EventSegmentAccepted || ev.TenantID != "acme" || ev.RunID != "run-1" {
		t.Errorf("unexpected event header %+v", ev)
	}
	if ev.Text != "Revenue grew." || ev.ElapsedSeconds != 12 || ev.SpeakerTag != 2 {
		t.Errorf("unexpected event body %+v", ev)
	}
}
