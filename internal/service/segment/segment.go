// Package segment provides segment ID generation and the transcript line format.
package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out segment IDs unique within the process.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

// Next returns "<runId>-seg-<n>".
func (g *Generator) Next(runId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", runId, n)
}
