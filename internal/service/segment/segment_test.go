package segment

import (
	"strconv"
	"strings"
	"sync"
	"testing"
)

func TestGenerator_Next(t *testing.T) {
	gen := New()

	tests := []struct {
		runId    string
		expected string
	}{
		{"run-123", "run-123-seg-1"},
		{"run-123", "run-123-seg-2"},
		{"run-456", "run-456-seg-3"},
	}

	for _, tt := range tests {
		if got := gen.Next(tt.runId); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}

func TestGenerator_ThreadSafety(t *testing.T) {
	gen := New()
	numGoroutines := 50
	perGoroutine := 20

	var wg sync.WaitGroup
	results := make(chan string, numGoroutines*perGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				results <- gen.Next("run-concurrent")
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Errorf("duplicate segment ID generated: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != numGoroutines*perGoroutine {
		t.Errorf("expected %d unique IDs, got %d", numGoroutines*perGoroutine, len(seen))
	}
}

func TestGenerator_CounterMonotonic(t *testing.T) {
	gen := New()

	var prev uint64
	for i := 0; i < 100; i++ {
		id := gen.Next("run-test")
		n, err := strconv.ParseUint(id[strings.LastIndex(id, "-")+1:], 10, 64)
		if err != nil {
			t.Fatalf("failed to parse segment id %s: %v", id, err)
		}
		if n <= prev {
			t.Errorf("counter not monotonic: %d <= %d", n, prev)
		}
		prev = n
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		seconds  int64
		expected string
	}{
		{0, "00:00"},
		{5, "00:05"},
		{65, "01:05"},
		{600, "10:00"},
		{3725, "62:05"},
		{-3, "00:00"},
	}

	for _, tt := range tests {
		if got := FormatElapsed(tt.seconds); got != tt.expected {
			t.Errorf("FormatElapsed(%d) = %q, want %q", tt.seconds, got, tt.expected)
		}
	}
}

func TestFormatLine(t *testing.T) {
	got := FormatLine("What is our runway?", 0.954, 83)
	want := "What is our runway? (Confidence: 0.95) (Time Stamp: 01:23)"
	if got != want {
		t.Errorf("FormatLine() = %q, want %q", got, want)
	}
}

func TestFindTimestamp(t *testing.T) {
	lines := []string{
		FormatLine("Revenue grew fifteen percent.", 0.9, 4),
		FormatLine("What is our runway?", 0.95, 71),
		FormatLine("Eighteen months.", 0.9, 75),
	}

	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"found", "What is our runway?", "01:11"},
		{"surrounding whitespace", "  Eighteen months.  ", "01:15"},
		{"missing", "Who owns hiring?", DefaultTimestamp},
		{"empty", "", DefaultTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindTimestamp(lines, tt.text); got != tt.expected {
				t.Errorf("FindTimestamp(%q) = %q, want %q", tt.text, got, tt.expected)
			}
		})
	}
}

func TestFindTimestamp_FirstMatchWins(t *testing.T) {
	lines := []string{
		FormatLine("Any questions?", 0.9, 10),
		FormatLine("Any questions?", 0.9, 50),
	}
	if got := FindTimestamp(lines, "Any questions?"); got != "00:10" {
		t.Errorf("expected earliest timestamp 00:10, got %q", got)
	}
}
