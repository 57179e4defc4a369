package multiplex

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/hashicorp/yamux"
)

// minWindowSize is the smallest stream window yamux accepts
const minWindowSize = 256 * 1024

// yamuxSession runs yamux over a secured byte stream
type yamuxSession struct {
	session    *yamux.Session
	maxStreams int64
	open       atomic.Int64
}

// yamuxLogger forwards yamux diagnostics to the mux logger
type yamuxLogger struct{}

func (yamuxLogger) Print(v ...interface{})                 { Logger.Debugf("%v", v) }
func (yamuxLogger) Printf(format string, v ...interface{}) { Logger.Debugf(format, v...) }
func (yamuxLogger) Println(v ...interface{})               { Logger.Debugf("%v", v) }

// yamuxConfig translates the mux settings into a yamux config
func yamuxConfig(conf common.MuxConf) *yamux.Config {
	config := yamux.DefaultConfig()
	config.LogOutput = nil
	config.Logger = yamuxLogger{}
	config.EnableKeepAlive = conf.KeepAliveInterval > 0
	if conf.KeepAliveInterval > 0 {
		config.KeepAliveInterval = conf.KeepAliveInterval
	}
	if conf.AcceptBacklog > 0 {
		config.AcceptBacklog = conf.AcceptBacklog
	}
	if conf.StreamOpenTimeout > 0 {
		config.StreamOpenTimeout = conf.StreamOpenTimeout
	}
	if window := conf.MaxStreamWindowKB * 1024; window > minWindowSize {
		config.MaxStreamWindowSize = uint32(window)
	}
	config.ConnectionWriteTimeout = 10 * time.Second
	return config
}

// NewYamuxSession starts a yamux session on conn. The session takes
// ownership of conn and closes it when the session ends.
func NewYamuxSession(conn net.Conn, isServer bool, conf common.MuxConf) (ISession, error) {
	var (
		session *yamux.Session
		err     error
	)
	if isServer {
		session, err = yamux.Server(conn, yamuxConfig(conf))
	} else {
		session, err = yamux.Client(conn, yamuxConfig(conf))
	}
	if err != nil {
		return nil, err
	}
	return &yamuxSession{session: session, maxStreams: int64(conf.MaxStreams)}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see multiplex.ISession)
// --------------------------------------------------------------------------

func (s *yamuxSession) OpenStream(ctx context.Context) (IStream, error) {
	if s.session.IsClosed() {
		return nil, &MultiplexError{Kind: KindConnectionClosed, Err: yamux.ErrSessionShutdown}
	}
	if !s.reserve() {
		return nil, &MultiplexError{Kind: KindStreamLimitExceeded}
	}

	// yamux does not take a context for opening, run it aside and hand
	// orphaned streams back if the caller gave up
	type result struct {
		stream *yamux.Stream
		err    error
	}
	resultCh := make(chan result, 1)
	abandoned := make(chan struct{})
	go func() {
		stream, err := s.session.OpenStream()
		select {
		case resultCh <- result{stream, err}:
		case <-abandoned:
			if stream != nil {
				_ = stream.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		close(abandoned)
		s.release()
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			s.release()
			return nil, mapError(r.err)
		}
		return s.wrap(r.stream), nil
	}
}

func (s *yamuxSession) AcceptStream(ctx context.Context) (IStream, error) {
	for {
		stream, err := s.session.AcceptStreamWithContext(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		if s.reserve() {
			return s.wrap(stream), nil
		}
		Logger.Warningf("rejecting stream %d from %s: limit of %d streams reached", stream.StreamID(), s.RemoteAddr(), s.maxStreams)
		_ = stream.Close()
	}
}

func (s *yamuxSession) Close() error {
	return s.session.Close()
}

func (s *yamuxSession) IsClosed() bool {
	return s.session.IsClosed()
}

func (s *yamuxSession) RemoteAddr() net.Addr {
	return s.session.RemoteAddr()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// reserve takes one slot of the stream limit
func (s *yamuxSession) reserve() bool {
	if s.maxStreams <= 0 {
		s.open.Add(1)
		return true
	}
	for {
		n := s.open.Load()
		if n >= s.maxStreams {
			return false
		}
		if s.open.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *yamuxSession) release() {
	s.open.Add(-1)
}

func (s *yamuxSession) wrap(stream *yamux.Stream) IStream {
	return &yamuxStream{Stream: stream, session: s}
}

// yamuxStream gives the stream slot back on the first Close
type yamuxStream struct {
	*yamux.Stream
	session *yamuxSession
	once    sync.Once
}

func (s *yamuxStream) StreamID() uint64 {
	return uint64(s.Stream.StreamID())
}

func (s *yamuxStream) Close() error {
	err := s.Stream.Close()
	s.once.Do(s.session.release)
	return err
}
