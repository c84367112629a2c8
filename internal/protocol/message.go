package protocol

import (
	"time"
)

// Client → Server message types.
const (
	TypeExecute = "execute"
	TypeInput   = "input"
	TypeKill    = "kill"
	TypeResize  = "resize"
)

// Server → Client message types.
const (
	TypeOutput        = "output"
	TypeInputRequired = "inputRequired"
	TypeStatus        = "status"
	TypeError         = "error"
	TypeSession       = "session"
)

// StatusFinished is the only status value sent today.
const StatusFinished = "finished"

// Error codes.
const (
	CodeUnsupportedLanguage = "UNSUPPORTED_LANGUAGE"
	CodeWorkspaceWrite      = "WORKSPACE_WRITE_FAILED"
	CodeSpawnFailed         = "SPAWN_FAILED"
	CodeNoActiveProcess     = "NO_ACTIVE_PROCESS"
	CodeAlreadyRunning      = "ALREADY_RUNNING"
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeMaxSessions         = "MAX_SESSIONS"
	CodeSessionTerminated   = "SESSION_TERMINATED"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeTimeout             = "TIMEOUT"
	CodeInputBacklog        = "INPUT_BACKLOG"
	CodeInternal            = "INTERNAL"
)

// ClientMessage is a message received from a client. Which fields are set
// depends on Type.
type ClientMessage struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"` // execute
	Code     string `json:"code,omitempty"`     // execute
	Data     string `json:"data,omitempty"`     // input
	Cols     uint16 `json:"cols,omitempty"`     // resize
	Rows     uint16 `json:"rows,omitempty"`     // resize
}

// ServerMessage is a message sent to a client.
type ServerMessage struct {
	Type      string    `json:"type"`
	Data      string    `json:"data,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Status    string    `json:"status,omitempty"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Signaled  bool      `json:"signaled,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newServerMessage(msgType string) ServerMessage {
	return ServerMessage{Type: msgType, Timestamp: time.Now().UTC()}
}

func NewOutput(data string) ServerMessage {
	m := newServerMessage(TypeOutput)
	m.Data = data
	return m
}

func NewInputRequired(prompt string) ServerMessage {
	m := newServerMessage(TypeInputRequired)
	m.Prompt = prompt
	return m
}

// NewFinished reports a process exit. signaled marks a run that was killed
// rather than exiting on its own.
func NewFinished(exitCode int, signaled bool) ServerMessage {
	m := newServerMessage(TypeStatus)
	m.Status = StatusFinished
	m.ExitCode = &exitCode
	m.Signaled = signaled
	return m
}

// NewError creates an error message ready to send to the client.
func NewError(code, message string) ServerMessage {
	m := newServerMessage(TypeError)
	m.Code = code
	m.Error = message
	return m
}

func NewSession(id string) ServerMessage {
	m := newServerMessage(TypeSession)
	m.SessionID = id
	return m
}

// ExecuteRequest is the body of a one-shot execution.
type ExecuteRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
}

// ExecuteResponse is the result of a one-shot execution.
type ExecuteResponse struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// ErrorResponse is returned by REST endpoints on failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
