package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a streaming run.
type State int

const (
	// StateInit - Run created, no recognition stream opened yet.
	StateInit State = iota
	// StateStreaming - A recognition stream is open and audio is flowing.
	StateStreaming
	// StateError - The last stream failed; the runner is backing off.
	StateError
	// StateStopped - The run has ended. Only a new Start leaves this state.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStreaming:
		return "STREAMING"
	case StateError:
		return "ERROR"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the run has stopped.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Errors for invalid state transitions.
var (
	ErrRunStopped       = errors.New("run is stopped")
	ErrAlreadyStreaming = errors.New("stream already open for this run")
)

// Lifecycle manages the state machine of one tenant's streaming run.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	INIT → STREAMING → ERROR → STREAMING → ... → STOPPED
//	  │                                            ▲
//	  └────────────── Stop() from any state ───────┘
//
// Rules:
//   - INIT, ERROR: Stream() opens a new attempt
//   - STREAMING: Fail() records a transport failure
//   - STOPPED: terminal until Reset() (a new Start)
type Lifecycle struct {
	mu       sync.RWMutex
	runId    string
	state    State
	attempts int
	failures int
}

// NewLifecycle creates a lifecycle in STOPPED state; Reset begins a run.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateStopped}
}

// RunId returns the current run ID.
func (l *Lifecycle) RunId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.runId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsStopped returns true if no run is in progress.
func (l *Lifecycle) IsStopped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Attempts returns the number of streams opened during the current run.
func (l *Lifecycle) Attempts() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.attempts
}

// Failures returns the number of failed streams during the current run.
func (l *Lifecycle) Failures() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failures
}

// Stream validates and records the opening of a recognition stream.
func (l *Lifecycle) Stream() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateInit, StateError:
		l.state = StateStreaming
		l.attempts++
		return nil
	case StateStreaming:
		return ErrAlreadyStreaming
	case StateStopped:
		return ErrRunStopped
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Fail records a failed stream. Returns false if the run already stopped.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateError
	l.failures++
	return true
}

// Stop transitions to STOPPED. Returns false if already stopped.
func (l *Lifecycle) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateStopped
	return true
}

// Reset begins a new run in INIT state.
func (l *Lifecycle) Reset(runId string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runId = runId
	l.state = StateInit
	l.attempts = 0
	l.failures = 0
}
