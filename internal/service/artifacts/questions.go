package artifacts

import (
	"strings"
	"unicode"
)

var questionWords = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true, "who": true,
	"is": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"should": true, "can": true, "could": true, "may": true, "might": true, "must": true,
}

// IsQuestion reports whether a transcript line reads as a question: it ends
// with '?' or its first word is an interrogative or auxiliary verb.
func IsQuestion(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasSuffix(line, "?") {
		return true
	}
	// Leading letters only, so "What's" and "Is," read as their word.
	first := strings.Fields(line)[0]
	if end := strings.IndexFunc(first, func(r rune) bool { return !unicode.IsLetter(r) }); end >= 0 {
		first = first[:end]
	}
	return questionWords[strings.ToLower(first)]
}

// DetectQuestions returns the question lines of a segment's text.
func DetectQuestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if IsQuestion(line) {
			out = append(out, line)
		}
	}
	return out
}
