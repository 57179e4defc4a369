package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// HandshakeErrorKind classifies a failed handshake
type HandshakeErrorKind uint8

const (
	KindCertInvalid       HandshakeErrorKind = iota + 1 // peer certificate rejected
	KindVersionMismatch                                 // no common protocol version or application protocol
	KindProtocolViolation                               // malformed or unexpected handshake message
	KindTimeout                                         // handshake deadline exceeded
)

func (k HandshakeErrorKind) String() string {
	switch k {
	case KindCertInvalid:
		return "certificate invalid"
	case KindVersionMismatch:
		return "version mismatch"
	case KindProtocolViolation:
		return "protocol violation"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrCertInvalid       = &HandshakeError{Kind: KindCertInvalid}
	ErrVersionMismatch   = &HandshakeError{Kind: KindVersionMismatch}
	ErrProtocolViolation = &HandshakeError{Kind: KindProtocolViolation}
	ErrTimeout           = &HandshakeError{Kind: KindTimeout}
)

// HandshakeError is the single terminal error of a failed handshake
type HandshakeError struct {
	Kind    HandshakeErrorKind
	Channel string
	Err     error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s handshake failed (%s): %v", e.Channel, e.Kind, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Is matches any *HandshakeError of the same kind
func (e *HandshakeError) Is(target error) bool {
	var t *HandshakeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// isTimeout reports deadline and context expiry
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosedEarly reports a peer that went away in the middle of the handshake
func isClosedEarly(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
