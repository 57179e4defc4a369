package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/multiplex"
	"github.com/ValentinKolb/pKV/rpc/security"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// ErrServerClosed is returned by Listen after Close
var ErrServerClosed = errors.New("server transport closed")

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport accepts byte stream connections and runs
// secure channel + yamux on top of each of them
type serverTransport struct {
	connector IServerConnector
	handler   transport.StreamHandleFunc

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	closed   bool
	ready    chan struct{}
	done     chan struct{}

	sessions      *xsync.MapOf[uint64, multiplex.ISession]
	nextSessionID atomic.Uint64
	wg            sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport for the given connector
func NewBaseServerTransport(connector IServerConnector) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		sessions:  xsync.NewMapOf[uint64, multiplex.ISession](),
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

	channel, err := security.NewSecureChannel(config.Security, true)
	if err != nil {
		return fmt.Errorf("failed to create secure channel: %w", err)
	}

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.closed || t.listener != nil {
		t.mu.Unlock()
		_ = listener.Close()
		return ErrServerClosed
	}
	t.listener = listener
	t.cancel = cancel
	close(t.ready)
	t.mu.Unlock()
	defer close(t.done)

	Logger.Infof("Starting %s server on %s (%s, max %d connections)",
		t.connector.GetName(), listener.Addr(), channel.GetName(), config.Transport.MaxConnections)

	// the listener is closed on shutdown to unblock Accept
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	// connection semaphore, acquired before accepting
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
				return t.shutdown()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			release()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return t.shutdown()
			}
			Logger.Warningf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer release()
			t.handleConnection(ctx, conn, channel, config)
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

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection secures and multiplexes one accepted connection and serves its streams
func (t *serverTransport) handleConnection(ctx context.Context, conn net.Conn, channel security.ISecureChannel, config common.ServerConfig) {
	remote := conn.RemoteAddr()

	if err := t.connector.UpgradeConnection(conn, config); err != nil {
		Logger.Warningf("Failed to upgrade connection from %s: %v", remote, err)
		_ = conn.Close()
		return
	}

	handshakeCtx := ctx
	if config.Security.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, config.Security.HandshakeTimeout)
		defer cancel()
	}
	secure, err := channel.Handshake(handshakeCtx, conn, security.RoleResponder)
	if err != nil {
		Logger.Warningf("Rejected connection from %s: %v", remote, err)
		_ = conn.Close()
		return
	}

	session, err := multiplex.NewYamuxSession(secure, true, config.Mux)
	if err != nil {
		Logger.Errorf("Failed to start session with %s: %v", remote, err)
		_ = secure.Close()
		return
	}

	id := t.nextSessionID.Add(1)
	t.sessions.Store(id, session)
	defer t.sessions.Delete(id)

	Logger.Debugf("Session %d with %s established", id, remote)
	ServeSession(ctx, session, t.handler)
	Logger.Debugf("Session %d with %s closed", id, remote)
}

// shutdown closes every open session and waits for all connection goroutines
func (t *serverTransport) shutdown() error {
	t.sessions.Range(func(_ uint64, session multiplex.ISession) bool {
		_ = session.Close()
		return true
	})
	t.wg.Wait()
	Logger.Infof("%s server stopped", t.connector.GetName())
	return nil
}

// ServeSession accepts the streams of a session and runs the handler for
// each of them in its own goroutine. It returns once the session ended and
// every handler returned. The session is closed on return.
func ServeSession(ctx context.Context, session multiplex.ISession, handler transport.StreamHandleFunc) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		_ = session.Close()
		wg.Wait()
	}()

	for {
		stream, err := session.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, multiplex.ErrConnectionClosed) {
				Logger.Warningf("Failed to accept stream from %s: %v", session.RemoteAddr(), err)
			}
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stream.Close()
			handler(ctx, stream)
		}()
	}
}
