// Package mock provides a language client that needs no external service.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Client answers every request locally. Respond overrides the default reply.
type Client struct {
	Respond func(systemInstruction, userContent string) (string, error)

	mu    sync.Mutex
	calls []Call
	count atomic.Int64
}

// Call records one request.
type Call struct {
	System string
	User   string
}

// New creates a client with the default reply.
func New() *Client {
	return &Client{}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, systemInstruction, userContent string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.count.Add(1)
	c.mu.Lock()
	c.calls = append(c.calls, Call{System: systemInstruction, User: userContent})
	c.mu.Unlock()

	if c.Respond != nil {
		return c.Respond(systemInstruction, userContent)
	}
	return defaultReply(userContent), nil
}

// Calls returns a copy of the recorded requests.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Count returns the number of requests served.
func (c *Client) Count() int {
	return int(c.count.Load())
}

func defaultReply(user string) string {
	lines := strings.FieldsFunc(user, func(r rune) bool { return r == '\n' })
	last := ""
	if len(lines) > 0 {
		last = strings.TrimSpace(lines[len(lines)-1])
	}
	runes := []rune(last)
	if len(runes) > 120 {
		last = string(runes[:120]) + "..."
	}
	return fmt.Sprintf("[mock] %d characters reviewed. Latest: %s", len([]rune(user)), last)
}
