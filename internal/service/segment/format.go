package segment

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTimestamp is used when a question cannot be located in the transcript.
const DefaultTimestamp = "00:00"

var timestampPattern = regexp.MustCompile(`\(Time Stamp: (\d{2,}:\d{2})\)`)

// FormatElapsed renders whole seconds as mm:ss. Minutes are not wrapped at 60.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatLine renders an accepted segment as a durable transcript line.
func FormatLine(text string, confidence float64, elapsedSeconds int64) string {
	return fmt.Sprintf("%s (Confidence: %.2f) (Time Stamp: %s)", text, confidence, FormatElapsed(elapsedSeconds))
}

// FindTimestamp returns the timestamp of the first formatted line containing
// text, or DefaultTimestamp.
func FindTimestamp(lines []string, text string) string {
	needle := strings.TrimSpace(text)
	if needle == "" {
		return DefaultTimestamp
	}
	for _, line := range lines {
		if !strings.Contains(line, needle) {
			continue
		}
		if m := timestampPattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return DefaultTimestamp
}
