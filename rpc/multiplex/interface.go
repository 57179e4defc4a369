package multiplex

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("mux")

// IStream is one logical bidirectional byte stream of a session
type IStream interface {
	io.ReadWriteCloser
	// StreamID returns the id of the stream, unique within its session
	StreamID() uint64
	// SetDeadline sets the read and write deadline of the stream
	SetDeadline(t time.Time) error
}

// ISession multiplexes many streams over one secured connection
type ISession interface {
	// OpenStream opens a new outbound stream, it blocks until the peer has
	// capacity or ctx is done
	OpenStream(ctx context.Context) (IStream, error)
	// AcceptStream waits for the next inbound stream
	AcceptStream(ctx context.Context) (IStream, error)
	// Close closes the session and all of its streams
	Close() error
	// IsClosed reports if the session is closed, by either side
	IsClosed() bool
	// RemoteAddr returns the address of the peer
	RemoteAddr() net.Addr
}
