package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestPushSource_ReadReturnsPushedFrames(t *testing.T) {
	src := NewPushSource(4)
	if err := src.Push([]byte{1, 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := src.Push([]byte{3, 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range [][]byte{{1, 2}, {3, 4}} {
		got, err := src.Read(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != string(want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestPushSource_BufferFull(t *testing.T) {
	src := NewPushSource(1)
	src.Push([]byte{1})
	if err := src.Push([]byte{2}); !errors.Is(err, ErrBufferFull) {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}
}

func TestPushSource_ReadObservesCancellation(t *testing.T) {
	src := NewPushSource(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := src.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPushSource_Close(t *testing.T) {
	src := NewPushSource(1)
	src.Close()
	src.Close()

	if _, err := src.Read(context.Background()); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("expected ErrSourceClosed from Read, got %v", err)
	}
	if err := src.Push([]byte{1}); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("expected ErrSourceClosed from Push, got %v", err)
	}
}

func TestBroker_RoutesToActiveSource(t *testing.T) {
	b := NewBroker(4)
	if err := b.Push("acme", []byte{1}); !errors.Is(err, ErrNoActiveSource) {
		t.Fatalf("expected ErrNoActiveSource, got %v", err)
	}

	src, err := b.Open(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Active("acme") {
		t.Fatal("expected acme to be active")
	}
	if err := b.Push("acme", []byte{7}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := src.Read(context.Background())
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("unexpected frame %v", got)
	}

	src.Close()
	if b.Active("acme") {
		t.Error("expected acme to be inactive after close")
	}
}

func TestBroker_ReopenReplacesPrevious(t *testing.T) {
	b := NewBroker(4)
	first, _ := b.Open(context.Background(), "acme")
	second, _ := b.Open(context.Background(), "acme")

	if _, err := first.Read(context.Background()); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("expected first source closed, got %v", err)
	}
	// Closing the stale source must not unregister the new one.
	first.Close()
	if !b.Active("acme") {
		t.Fatal("expected replacement source to stay registered")
	}
	b.Push("acme", []byte{9})
	if got, _ := second.Read(context.Background()); len(got) != 1 || got[0] != 9 {
		t.Errorf("unexpected frame %v", got)
	}
}

func writeTestWAV(t *testing.T, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()
	return path
}

func TestWAVSource_FramesThenEOF(t *testing.T) {
	path := writeTestWAV(t, []int{1, -1, 2, -2, 3})
	src, err := OpenWAV(WAVConfig{Path: path, FrameSamples: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 16000 {
		t.Errorf("expected 16000 Hz, got %d", src.SampleRate())
	}

	var frames [][]byte
	for {
		frame, err := src.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		frames = append(frames, frame)
	}

	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if len(frames[0]) != 4 || len(frames[2]) != 2 {
		t.Errorf("unexpected frame sizes %d, %d", len(frames[0]), len(frames[2]))
	}
	if v := int16(binary.LittleEndian.Uint16(frames[0][2:])); v != -1 {
		t.Errorf("expected second sample -1, got %d", v)
	}
}

func TestWAVSource_Loop(t *testing.T) {
	path := writeTestWAV(t, []int{5, 6})
	src, err := OpenWAV(WAVConfig{Path: path, FrameSamples: 2, Loop: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer src.Close()

	for i := 0; i < 3; i++ {
		frame, err := src.Read(context.Background())
		if err != nil {
			t.Fatalf("read %d: unexpected error: %v", i, err)
		}
		if v := int16(binary.LittleEndian.Uint16(frame)); v != 5 {
			t.Errorf("read %d: expected first sample 5, got %d", i, v)
		}
	}
}

func TestWAVSource_ClosedRead(t *testing.T) {
	path := writeTestWAV(t, []int{1, 2, 3})
	src, err := OpenWAV(WAVConfig{Path: path, FrameSamples: 1, Realtime: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src.Close()

	if _, err := src.Read(context.Background()); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("expected ErrSourceClosed, got %v", err)
	}
}

func TestOpenWAV_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	os.WriteFile(path, []byte("not a wav"), 0o644)

	if _, err := OpenWAV(WAVConfig{Path: path}); err == nil {
		t.Error("expected error for invalid wav")
	}
	if _, err := OpenWAV(WAVConfig{Path: filepath.Join(t.TempDir(), "missing.wav")}); err == nil {
		t.Error("expected error for missing file")
	}
}
