// Package sandbox starts submitted programs inside a container runtime
// attached to a pseudo-terminal and supervises them until exit.
package sandbox

import (
	"context"
	"errors"
	"time"

	"coderelay/internal/language"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrWorkspaceWrite      = errors.New("workspace write failed")
	ErrSpawn               = errors.New("sandbox spawn failed")
	ErrProcessExited       = errors.New("process has exited")
)

// Launch modes.
const (
	ModeDirect = "direct"
	ModeShell  = "shell"
)

// Request is one execution to start.
type Request struct {
	SessionID string
	Language  string
	Source    string
	Cols      uint16
	Rows      uint16
}

// ExitStatus is how a process ended. Abnormal is set when it was killed by a
// signal or terminated on request.
type ExitStatus struct {
	Code     int
	Abnormal bool
}

// Info describes a started process.
type Info struct {
	SessionID string
	Language  language.Spec
	Container string
	PID       int
	StartedAt time.Time
}

// Process is a running sandboxed program.
//
// Output yields raw terminal bytes in order and is closed after the last
// chunk. Wait blocks until exit and may be called any number of times.
// Terminate is idempotent and does not block; watch Done for the exit.
type Process interface {
	Info() Info
	Output() <-chan []byte
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Terminate() error
	Wait() ExitStatus
	Done() <-chan struct{}
}

// Reaper force-removes containers whose CLI client may already be gone.
type Reaper interface {
	RemoveContainer(ctx context.Context, name string) error
}
