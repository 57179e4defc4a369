package multiplex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/hashicorp/yamux"
	"github.com/quic-go/quic-go"
)

// ErrorKind classifies a session error
type ErrorKind uint8

const (
	KindConnectionClosed    ErrorKind = iota + 1 // the session is gone, every stream of it failed
	KindStreamLimitExceeded                      // no more streams can be opened on the session
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionClosed:
		return "connection closed"
	case KindStreamLimitExceeded:
		return "stream limit exceeded"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrConnectionClosed    = &MultiplexError{Kind: KindConnectionClosed}
	ErrStreamLimitExceeded = &MultiplexError{Kind: KindStreamLimitExceeded}
)

// MultiplexError is returned for session level failures
type MultiplexError struct {
	Kind ErrorKind
	Err  error
}

func (e *MultiplexError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("multiplex error: %s", e.Kind)
	}
	return fmt.Sprintf("multiplex error: %s: %v", e.Kind, e.Err)
}

func (e *MultiplexError) Unwrap() error {
	return e.Err
}

// Is matches any *MultiplexError of the same kind
func (e *MultiplexError) Is(target error) bool {
	var t *MultiplexError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// mapError translates yamux and quic errors into MultiplexErrors.
// Context errors and unknown errors are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var (
		me      *MultiplexError
		appErr  *quic.ApplicationError
		idleErr *quic.IdleTimeoutError
	)
	switch {
	case errors.As(err, &me):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, yamux.ErrStreamsExhausted):
		return &MultiplexError{Kind: KindStreamLimitExceeded, Err: err}
	case errors.Is(err, yamux.ErrSessionShutdown),
		errors.Is(err, yamux.ErrRemoteGoAway),
		errors.Is(err, yamux.ErrKeepAliveTimeout),
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.As(err, &appErr),
		errors.As(err, &idleErr):
		return &MultiplexError{Kind: KindConnectionClosed, Err: err}
	default:
		return err
	}
}
