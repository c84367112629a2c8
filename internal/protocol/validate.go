package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed marks a message the connection cannot recover from.
	ErrMalformed = errors.New("malformed message")
	// ErrInvalidRequest marks a well-formed message with unusable fields.
	ErrInvalidRequest = errors.New("invalid request")
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeExecute: true,
	TypeInput:   true,
	TypeKill:    true,
	TypeResize:  true,
}

// DecodeClientMessage parses a raw JSON message from a client. Unparseable
// JSON, a missing type and unknown types are ErrMalformed. Field checks are
// left to the per-type validators so the session can report them without
// closing the connection.
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %w", ErrMalformed, err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing 'type' field", ErrMalformed)
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("%w: unknown message type: %s", ErrMalformed, msg.Type)
	}

	return &msg, nil
}

// ValidateExecute checks that an execute request names a language and
// carries code.
func ValidateExecute(language, code string) error {
	if strings.TrimSpace(language) == "" {
		return fmt.Errorf("%w: missing required field 'language'", ErrInvalidRequest)
	}
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: missing required field 'code'", ErrInvalidRequest)
	}
	return nil
}

// ValidateResize checks that a resize carries a usable window size.
func ValidateResize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("%w: 'cols' and 'rows' must be positive", ErrInvalidRequest)
	}
	return nil
}
