// Package llm wraps the external language service used to answer questions
// and summarize transcripts.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the service answers with no content.
var ErrEmptyResponse = errors.New("llm: empty response")

// Client completes one system instruction plus user content into text.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, systemInstruction, userContent string) (string, error)
}
