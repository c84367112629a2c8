package session

import (
	"time"

	"coderelay/internal/protocol"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateIdle          State = "idle"
	StateExecuting     State = "executing"
	StateAwaitingInput State = "awaiting_input"
	StateFinished      State = "finished"
	StateTerminated    State = "terminated"
)

// running reports whether a process is (or is being) attached.
func (s State) running() bool {
	return s == StateExecuting || s == StateAwaitingInput
}

// Snapshot is a point-in-time view of a session for inspection.
type Snapshot struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Language   string    `json:"language,omitempty"`
	Container  string    `json:"container,omitempty"`
	PID        int       `json:"pid,omitempty"`
	Runs       int       `json:"runs"`
	LastExit   *int      `json:"lastExitCode,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// Detail is a Snapshot plus the recent transcript.
type Detail struct {
	Snapshot
	Transcript []protocol.ServerMessage `json:"transcript"`
}
