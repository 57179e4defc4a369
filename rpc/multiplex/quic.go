package multiplex

import (
	"context"
	"net"

	"github.com/quic-go/quic-go"
)

// quicSession exposes the native streams of a quic connection
type quicSession struct {
	conn quic.Connection
}

// NewQUICSession wraps an established quic connection. The stream limit is
// part of the quic.Config the connection was created with.
func NewQUICSession(conn quic.Connection) ISession {
	return &quicSession{conn: conn}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see multiplex.ISession)
// --------------------------------------------------------------------------

func (s *quicSession) OpenStream(ctx context.Context) (IStream, error) {
	if s.IsClosed() {
		return nil, &MultiplexError{Kind: KindConnectionClosed, Err: context.Cause(s.conn.Context())}
	}
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, s.mapError(err)
	}
	return &quicStream{Stream: stream}, nil
}

func (s *quicSession) AcceptStream(ctx context.Context) (IStream, error) {
	stream, err := s.conn.AcceptStream(ctx)
	if err != nil {
		return nil, s.mapError(err)
	}
	return &quicStream{Stream: stream}, nil
}

func (s *quicSession) Close() error {
	return s.conn.CloseWithError(0, "session closed")
}

func (s *quicSession) IsClosed() bool {
	return s.conn.Context().Err() != nil
}

func (s *quicSession) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// mapError reports every error after the connection ended as ConnectionClosed
func (s *quicSession) mapError(err error) error {
	if s.IsClosed() {
		return &MultiplexError{Kind: KindConnectionClosed, Err: err}
	}
	return mapError(err)
}

// quicStream closes both directions of a quic stream on Close
type quicStream struct {
	quic.Stream
}

func (s *quicStream) StreamID() uint64 {
	return uint64(s.Stream.StreamID())
}

func (s *quicStream) Close() error {
	s.Stream.CancelRead(0)
	return s.Stream.Close()
}
