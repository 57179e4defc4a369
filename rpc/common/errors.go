package common

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies an error response of the command protocol.
type ErrorCode uint8

const (
	ErrCNone        ErrorCode = iota // no error
	ErrCMalformed                    // the command could not be deserialized or is incomplete
	ErrCBackend                      // the storage backend failed
	ErrCUnsupported                  // the command type is not supported by the server or backend
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCNone:
		return "none"
	case ErrCMalformed:
		return "malformed"
	case ErrCBackend:
		return "backend"
	case ErrCUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

func (c ErrorCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "none":
		*c = ErrCNone
	case "malformed":
		*c = ErrCMalformed
	case "backend":
		*c = ErrCBackend
	case "unsupported":
		*c = ErrCUnsupported
	default:
		return fmt.Errorf("unknown error code: %s", s)
	}
	return nil
}

// Sentinels for errors.Is checks against a *CommandError
var (
	ErrMalformed   = &CommandError{Code: ErrCMalformed}
	ErrBackend     = &CommandError{Code: ErrCBackend}
	ErrUnsupported = &CommandError{Code: ErrCUnsupported}
)

// CommandError is the typed error carried by an error response. It is fatal
// only to the exchange that produced it, never to the stream or connection.
type CommandError struct {
	Code ErrorCode
	Msg  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command error (%s): %s", e.Code, e.Msg)
}

// Is matches any *CommandError with the same code
func (e *CommandError) Is(target error) bool {
	var t *CommandError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewCommandError creates a CommandError with a formatted message
func NewCommandError(code ErrorCode, format string, args ...interface{}) *CommandError {
	return &CommandError{Code: code, Msg: fmt.Sprintf(format, args...)}
}
