package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/multiplex"
	"github.com/ValentinKolb/pKV/rpc/security"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/ValentinKolb/pKV/rpc/transport/base"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/quic-go/quic-go"
)

// serverTransport accepts quic connections and serves their native streams
type serverTransport struct {
	handler transport.StreamHandleFunc

	mu       sync.Mutex
	listener *quic.Listener
	cancel   context.CancelFunc
	closed   bool
	ready    chan struct{}
	done     chan struct{}

	sessions      *xsync.MapOf[uint64, multiplex.ISession]
	nextSessionID atomic.Uint64
	wg            sync.WaitGroup
}

// NewQUICServerTransport creates a new QUIC server transport
func NewQUICServerTransport() transport.IRPCServerTransport {
	return &serverTransport{
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		sessions: xsync.NewMapOf[uint64, multiplex.ISession](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.StreamHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(ctx context.Context, config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no stream handler registered")
	}

	tlsConfig, err := security.LoadServerTLSConfig(config.Security.TLS)
	if err != nil {
		return fmt.Errorf("failed to load tls config: %w", err)
	}

	listener, err := quic.ListenAddr(config.Transport.Endpoint, quicTLSConfig(tlsConfig), quicConfig(config.Security, config.Mux))
	if err != nil {
		return fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.closed || t.listener != nil {
		t.mu.Unlock()
		_ = listener.Close()
		return base.ErrServerClosed
	}
	t.listener = listener
	t.cancel = cancel
	close(t.ready)
	t.mu.Unlock()
	defer close(t.done)

	base.Logger.Infof("Starting quic server on %s (max %d connections)", listener.Addr(), config.Transport.MaxConnections)

	var slots chan struct{}
	if config.Transport.MaxConnections > 0 {
		slots = make(chan struct{}, config.Transport.MaxConnections)
	}
	release := func() {
		if slots != nil {
			<-slots
		}
	}

	for {
		if slots != nil {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return t.shutdown(listener)
			}
		}

		// Accept returns connections with a completed handshake
		conn, err := listener.Accept(ctx)
		if err != nil {
			release()
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return t.shutdown(listener)
			}
			base.Logger.Warningf("Accept error: %v", err)
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer release()

			session := multiplex.NewQUICSession(conn)
			id := t.nextSessionID.Add(1)
			t.sessions.Store(id, session)
			defer t.sessions.Delete(id)

			base.Logger.Debugf("Session %d with %s established", id, conn.RemoteAddr())
			base.ServeSession(ctx, session, t.handler)
		}()
	}
}

func (t *serverTransport) Ready() <-chan struct{} {
	return t.ready
}

func (t *serverTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel, started := t.cancel, t.listener != nil
	t.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-t.done
	return nil
}

// shutdown closes every session, waits for all stream handlers and closes the listener
func (t *serverTransport) shutdown(listener *quic.Listener) error {
	t.sessions.Range(func(_ uint64, session multiplex.ISession) bool {
		_ = session.Close()
		return true
	})
	t.wg.Wait()
	err := listener.Close()
	base.Logger.Infof("quic server stopped")
	return err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// quicTLSConfig enforces tls 1.3 (required by quic) and the pKV application protocol
func quicTLSConfig(config *tls.Config) *tls.Config {
	c := config.Clone()
	c.MinVersion = tls.VersionTLS13
	c.NextProtos = []string{security.ALPNProtocol}
	return c
}

// quicConfig maps the security and multiplexer settings to a quic.Config
func quicConfig(sec common.SecurityConf, mux common.MuxConf) *quic.Config {
	config := &quic.Config{
		HandshakeIdleTimeout: sec.HandshakeTimeout,
		KeepAlivePeriod:      mux.KeepAliveInterval,
	}
	if mux.MaxStreams > 0 {
		config.MaxIncomingStreams = int64(mux.MaxStreams)
	}
	if mux.MaxStreamWindowKB > 0 {
		config.MaxStreamReceiveWindow = uint64(mux.MaxStreamWindowKB) * 1024
	}
	return config
}
