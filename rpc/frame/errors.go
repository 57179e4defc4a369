package frame

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a frame error. Every frame error is fatal to the
// framing of the stream it occurred on, never to the connection.
type ErrorKind uint8

const (
	KindTruncated          ErrorKind = iota + 1 // fewer bytes available than declared
	KindTooLarge                                // declared or decompressed length above the maximum
	KindUnknownCompression                      // header names a compression format that is not registered
	KindCompression                             // compressor failed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindTooLarge:
		return "too large"
	case KindUnknownCompression:
		return "unknown compression"
	case KindCompression:
		return "compression"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrTruncated          = &Error{Kind: KindTruncated}
	ErrTooLarge           = &Error{Kind: KindTooLarge}
	ErrUnknownCompression = &Error{Kind: KindUnknownCompression}
	ErrCompression        = &Error{Kind: KindCompression}
)

// Error is returned by the codec for every framing failure
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func newError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame error (%s): %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("frame error (%s): %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}
