package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"live-transcription-service/internal/service/artifacts"
	"live-transcription-service/internal/service/audio"
	"live-transcription-service/internal/service/llm"
	llmmock "live-transcription-service/internal/service/llm/mock"
	"live-transcription-service/internal/storage"
)

var fastBackoff = BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return store
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(Deps{})

	a, err := r.GetOrCreate("acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := r.GetOrCreate("acme")
	if a != b {
		t.Error("expected the same session for the same tenant")
	}
	c, _ := r.GetOrCreate("globex")
	if a == c {
		t.Error("expected distinct sessions for distinct tenants")
	}

	if _, err := r.GetOrCreate("../etc"); !errors.Is(err, storage.ErrInvalidTenant) {
		t.Errorf("expected ErrInvalidTenant, got %v", err)
	}
}

func TestRegistry_UnknownTenant(t *testing.T) {
	r := NewRegistry(Deps{})

	if _, err := r.Transcript("ghost"); !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("expected ErrUnknownTenant, got %v", err)
	}
	if _, err := r.Status("ghost"); !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("expected ErrUnknownTenant, got %v", err)
	}
	if r.Stop("ghost") {
		t.Error("expected Stop of unknown tenant to return false")
	}
	if r.Teardown("ghost") {
		t.Error("expected Teardown of unknown tenant to return false")
	}
}

func TestRegistry_StartStop(t *testing.T) {
	src := &endlessSource{}
	rec := &scriptedRecognizer{script: finals("one", "two", "three", "four")}
	r := NewRegistry(Deps{
		Store:     newTestStore(t),
		Recognize: rec.factory,
		Audio:     staticAudio(src),
		Backoff:   fastBackoff,
	})

	if err := r.Start(context.Background(), "acme"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Start(context.Background(), "acme"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	waitFor(t, "a segment", func() bool {
		segs, _ := r.Transcript("acme")
		return len(segs) > 0
	})

	if !r.Stop("acme") {
		t.Fatal("expected first Stop to return true")
	}
	if !src.isClosed() {
		t.Error("expected audio source released after stop")
	}

	after, _ := r.Transcript("acme")
	time.Sleep(20 * time.Millisecond)
	later, _ := r.Transcript("acme")
	if len(later) != len(after) {
		t.Errorf("segments accepted after stop: %d -> %d", len(after), len(later))
	}

	if r.Stop("acme") {
		t.Error("expected second Stop to be a no-op")
	}

	st, _ := r.Status("acme")
	if st.Running || st.State != "STOPPED" {
		t.Errorf("unexpected status after stop: %+v", st)
	}
	if st.Segments != len(after) {
		t.Errorf("expected segments kept after stop, got %d", st.Segments)
	}
}

func TestRegistry_RestartResetsTranscript(t *testing.T) {
	store := newTestStore(t)
	rec := &scriptedRecognizer{script: finals("alpha", "beta")}
	r := NewRegistry(Deps{
		Store:     store,
		Recognize: rec.factory,
		Audio: func(ctx context.Context, tenantID string) (audio.Source, error) {
			return &finiteSource{remaining: 2}, nil
		},
		Backoff: fastBackoff,
	})

	r.Start(context.Background(), "acme")
	waitFor(t, "first run to end", func() bool {
		st, _ := r.Status("acme")
		return !st.Running
	})
	first, _ := r.Status("acme")
	if first.Segments != 2 {
		t.Fatalf("expected 2 segments in first run, got %d", first.Segments)
	}

	if err := r.Start(context.Background(), "acme"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	second, _ := r.Status("acme")
	if second.RunID == first.RunID {
		t.Error("expected a new run id")
	}
	waitFor(t, "second run to end", func() bool {
		st, _ := r.Status("acme")
		return !st.Running
	})

	lines, _ := store.ReadTranscript("acme")
	if len(lines) != 2 {
		t.Errorf("expected transcript file reset on restart, got %d lines", len(lines))
	}
}

func TestRegistry_SourceExhaustionStopsRun(t *testing.T) {
	rec := &scriptedRecognizer{script: finals("only")}
	r := NewRegistry(Deps{
		Recognize: rec.factory,
		Audio:     staticAudio(&finiteSource{remaining: 1}),
		Backoff:   fastBackoff,
	})

	r.Start(context.Background(), "acme")
	waitFor(t, "run to end", func() bool {
		st, _ := r.Status("acme")
		return st.State == "STOPPED" && !st.Running
	})
	if rec.count() != 1 {
		t.Errorf("expected no reconnect after source exhaustion, got %d streams", rec.count())
	}
	if r.Stop("acme") {
		t.Error("expected Stop after natural end to return false")
	}
}

func TestRegistry_ReconnectsAfterStreamFailure(t *testing.T) {
	rec := &scriptedRecognizer{
		script:          finals("s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"),
		failAfterFrames: 2,
	}
	r := NewRegistry(Deps{
		Recognize: rec.factory,
		Audio:     staticAudio(&endlessSource{}),
		Backoff:   fastBackoff,
	})

	r.Start(context.Background(), "acme")
	waitFor(t, "three streams", func() bool { return rec.count() >= 3 })
	r.Stop("acme")

	st, _ := r.Status("acme")
	if st.Failures < 2 {
		t.Errorf("expected at least 2 failures, got %d", st.Failures)
	}
	if st.Attempts < 3 {
		t.Errorf("expected at least 3 attempts, got %d", st.Attempts)
	}

	segs, _ := r.Transcript("acme")
	if len(segs) < 4 {
		t.Fatalf("expected segments from several streams, got %d", len(segs))
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Text == segs[i-1].Text {
			t.Errorf("duplicate consecutive segment %q", segs[i].Text)
		}
		if segs[i].ElapsedSeconds < segs[i-1].ElapsedSeconds {
			t.Errorf("elapsed seconds decreased at %d", i)
		}
	}
}

func TestRegistry_CrossProcessLock(t *testing.T) {
	store := newTestStore(t)
	deps := Deps{
		Store:     store,
		Recognize: (&scriptedRecognizer{script: finals("x")}).factory,
		Audio:     staticAudio(&endlessSource{}),
		Backoff:   fastBackoff,
	}
	r1 := NewRegistry(deps)
	r2 := NewRegistry(deps)

	if err := r1.Start(context.Background(), "acme"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r1.Stop("acme")

	err := r2.Start(context.Background(), "acme")
	if !errors.Is(err, ErrAlreadyRunning) || !errors.Is(err, storage.ErrLocked) {
		t.Errorf("expected ErrAlreadyRunning wrapping ErrLocked, got %v", err)
	}
}

func TestRegistry_TeardownRemovesSession(t *testing.T) {
	r := NewRegistry(Deps{
		Recognize: (&scriptedRecognizer{script: finals("x")}).factory,
		Audio:     staticAudio(&endlessSource{}),
		Backoff:   fastBackoff,
	})
	r.Start(context.Background(), "acme")

	if !r.Teardown("acme") {
		t.Fatal("expected Teardown to return true")
	}
	if _, ok := r.Get("acme"); ok {
		t.Error("expected session removed")
	}
	if r.ActiveCount() != 0 {
		t.Errorf("expected no active sessions, got %d", r.ActiveCount())
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	r := NewRegistry(Deps{
		Recognize: (&scriptedRecognizer{script: finals("x", "y")}).factory,
		Audio: func(ctx context.Context, tenantID string) (audio.Source, error) {
			return &endlessSource{}, nil
		},
		Backoff: fastBackoff,
	})
	for _, id := range []string{"a", "b", "c"} {
		r.Start(context.Background(), id)
	}
	if r.ActiveCount() != 3 {
		t.Fatalf("expected 3 active sessions, got %d", r.ActiveCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ActiveCount() != 0 {
		t.Errorf("expected no active sessions, got %d", r.ActiveCount())
	}
}

func TestRegistry_EndToEnd(t *testing.T) {
	store := newTestStore(t)
	prompts := llm.DefaultPrompts()
	client := llmmock.New()
	sum := artifacts.NewSummarizer(client, prompts, artifacts.SummarizerConfig{}, nil)
	pipeline := artifacts.NewPipeline(artifacts.Config{Workers: 1, QueueSize: 32}, sum, nil, nil)

	rec := &scriptedRecognizer{script: finals("Revenue grew fifteen percent.", "What is our runway?", "We have eighteen months.")}
	r := NewRegistry(Deps{
		Store:     store,
		Recognize: rec.factory,
		Audio:     staticAudio(&finiteSource{remaining: 3}),
		Pipeline:  pipeline,
		Answerer:  sum,
		Backoff:   fastBackoff,
	})

	if err := r.Start(context.Background(), "acme"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "run to end", func() bool {
		st, _ := r.Status("acme")
		return !st.Running
	})
	if err := pipeline.Close(context.Background()); err != nil {
		t.Fatalf("pipeline close: %v", err)
	}

	lines, err := store.ReadTranscript("acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 transcript lines, got %d", len(lines))
	}

	qa, _ := r.QA("acme")
	if len(qa) != 1 || qa[0].Question != "What is our runway?" {
		t.Fatalf("expected one Q&A entry for the runway question, got %+v", qa)
	}
	persisted, _ := store.ReadQA("acme")
	if len(persisted) != 1 {
		t.Errorf("expected Q&A persisted, got %d entries", len(persisted))
	}

	minutesCalls := 0
	for _, c := range client.Calls() {
		if c.System == prompts.MinutesSystem {
			minutesCalls++
		}
	}
	if minutesCalls != 3 {
		t.Errorf("expected minutes regenerated once per segment, got %d", minutesCalls)
	}
	minutes, _ := store.ReadMeetingMinutes("acme")
	if minutes == "" || minutes != mustMinutes(t, r) {
		t.Errorf("expected persisted minutes to match memory, got %q", minutes)
	}
	items, _ := store.ReadActionItems("acme")
	if !strings.HasPrefix(items, "[mock]") {
		t.Errorf("unexpected action items %q", items)
	}

	answer, err := r.Query(context.Background(), "acme", "  Who spoke first?  ")
	if err != nil || answer == "" {
		t.Errorf("unexpected query result %q (err %v)", answer, err)
	}
	if _, err := r.Query(context.Background(), "acme", " "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if q, _ := r.QA("acme"); len(q) != 1 {
		t.Errorf("expected ad-hoc query not recorded, got %d entries", len(q))
	}
}

func mustMinutes(t *testing.T, r *Registry) string {
	t.Helper()
	m, err := r.MeetingMinutes("acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestRegistry_StartOnTornDownSession(t *testing.T) {
	r := NewRegistry(Deps{
		Recognize: (&scriptedRecognizer{script: finals("x")}).factory,
		Audio: func(ctx context.Context, tenantID string) (audio.Source, error) {
			return &endlessSource{}, nil
		},
		Backoff: fastBackoff,
	})
	stale, err := r.GetOrCreate("acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Teardown("acme") {
		t.Fatal("expected Teardown to return true")
	}

	// A Start that fetched the session before Teardown must not revive it.
	if err := r.start(context.Background(), stale); !errors.Is(err, errSessionRemoved) {
		t.Fatalf("expected errSessionRemoved, got %v", err)
	}
	stale.runMu.Lock()
	revived := stale.running()
	stale.runMu.Unlock()
	if revived {
		t.Fatal("expected removed session to stay stopped")
	}

	if err := r.Start(context.Background(), "acme"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fresh, ok := r.Get("acme")
	if !ok || fresh == stale {
		t.Fatal("expected Start to register a fresh session")
	}
	if !r.Stop("acme") {
		t.Error("expected the fresh run to be stoppable")
	}
}
