package base

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/multiplex"
	"github.com/ValentinKolb/pKV/rpc/security"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

// ErrClientClosed is returned by OpenStream after Close
var ErrClientClosed = errors.New("client transport closed")

const (
	initialBackoff     = 50 * time.Millisecond
	defaultDialTimeout = 30 * time.Second
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// ISessionDialer creates ready to use sessions to an endpoint.
// Byte stream transports get one from NewStreamDialer, transports with
// native streams (quic) implement it directly.
type ISessionDialer interface {
	// Prepare is called once per Connect before the first DialSession
	Prepare(config common.ClientConfig) error

	// DialSession dials the endpoint and returns an established session
	DialSession(ctx context.Context, endpoint string) (multiplex.ISession, error)

	// GetName returns the name of the transport type
	GetName() string
}

// -----------------------------------------------------------
// Stream dialer (raw conn -> secure channel -> yamux)
// -----------------------------------------------------------

type streamDialer struct {
	connector IClientConnector
	config    common.ClientConfig
	channel   security.ISecureChannel
}

// NewStreamDialer creates a session dialer for byte stream connections
func NewStreamDialer(connector IClientConnector) ISessionDialer {
	return &streamDialer{connector: connector}
}

func (d *streamDialer) GetName() string {
	return d.connector.GetName()
}

func (d *streamDialer) Prepare(config common.ClientConfig) error {
	channel, err := security.NewSecureChannel(config.Security, false)
	if err != nil {
		return err
	}
	d.config = config
	d.channel = channel
	return nil
}

func (d *streamDialer) DialSession(ctx context.Context, endpoint string) (multiplex.ISession, error) {
	conn, err := d.connector.Connect(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	if err := d.connector.UpgradeConnection(conn, d.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", endpoint, err)
	}

	handshakeCtx := ctx
	if d.config.Security.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, d.config.Security.HandshakeTimeout)
		defer cancel()
	}
	secure, err := d.channel.Handshake(handshakeCtx, conn, security.RoleInitiator)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	session, err := multiplex.NewYamuxSession(secure, false, d.config.Mux)
	if err != nil {
		_ = secure.Close()
		return nil, fmt.Errorf("failed to start session with %s: %w", endpoint, err)
	}
	return session, nil
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// sessionSlot holds one (lazily redialed) session to an endpoint
type sessionSlot struct {
	endpoint string
	mu       sync.Mutex
	session  multiplex.ISession
	closed   bool
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, quic)
type clientTransport struct {
	dialer ISessionDialer
	config common.ClientConfig

	slotsMu sync.RWMutex
	slots   []*sessionSlot
	next    atomic.Uint64 // round robin counter
	closed  atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Methods
// -----------------------------------------------------------

// NewBaseClientTransport creates a new client transport for a byte stream connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return NewSessionClientTransport(NewStreamDialer(connector))
}

// NewSessionClientTransport creates a new client transport on top of a session dialer
func NewSessionClientTransport(dialer ISessionDialer) transport.IRPCClientTransport {
	return &clientTransport{dialer: dialer}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if err := t.dialer.Prepare(config); err != nil {
		return err
	}

	// Close all existing sessions
	t.closeSessions()
	t.config = config
	t.closed.Store(false)

	perEndpoint := config.Transport.ConnectionsPerEndpoint
	if perEndpoint < 1 {
		perEndpoint = 1
	}

	dialTimeout := defaultDialTimeout
	if config.Timeout > 0 {
		dialTimeout = config.Timeout
	}

	slots := make([]*sessionSlot, 0, len(config.Transport.Endpoints)*perEndpoint)
	connected := 0
	var lastErr error
	for _, endpoint := range config.Transport.Endpoints {
		for i := 0; i < perEndpoint; i++ {
			slot := &sessionSlot{endpoint: endpoint}
			slots = append(slots, slot)

			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			_, err := slot.get(ctx, t.dialer)
			cancel()
			if err != nil {
				lastErr = err
				Logger.Warningf("Failed to connect to %s (session %d/%d): %v", endpoint, i+1, perEndpoint, err)
				continue
			}
			connected++
			Logger.Infof("Connected to %s (session %d/%d)", endpoint, i+1, perEndpoint)
		}
	}

	t.slotsMu.Lock()
	t.slots = slots
	t.slotsMu.Unlock()

	if connected == 0 {
		t.closeSessions()
		return fmt.Errorf("failed to connect to any endpoint: %w", lastErr)
	}

	Logger.Infof("Connected %d of %d sessions to %d endpoints using %s transport",
		connected, len(slots), len(config.Transport.Endpoints), t.dialer.GetName())
	return nil
}

func (t *clientTransport) OpenStream(ctx context.Context) (multiplex.IStream, error) {
	attempts := t.config.Transport.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	backoff := initialBackoff
	var lastErr error
	for i := 0; i < attempts; i++ {
		slot := t.nextSlot()
		if slot == nil {
			return nil, ErrClientClosed
		}

		stream, err := slot.openStream(ctx, t.dialer)
		if err == nil {
			if t.closed.Load() {
				_ = stream.Close()
				return nil, ErrClientClosed
			}
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if permanent(err) {
			return nil, err
		}

		lastErr = err
		Logger.Debugf("Stream attempt %d/%d to %s failed: %v", i+1, attempts, slot.endpoint, err)

		if i < attempts-1 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64()))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("failed to open stream after %d attempts: %w", attempts, lastErr)
}

func (t *clientTransport) Close() error {
	t.closed.Store(true)
	t.closeSessions()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// nextSlot selects the next session slot via Round Robin
func (t *clientTransport) nextSlot() *sessionSlot {
	t.slotsMu.RLock()
	defer t.slotsMu.RUnlock()

	if len(t.slots) == 0 || t.closed.Load() {
		return nil
	}
	if len(t.slots) == 1 {
		return t.slots[0]
	}
	return t.slots[t.next.Add(1)%uint64(len(t.slots))]
}

// closeSessions closes all sessions and empties the slot list
func (t *clientTransport) closeSessions() {
	t.slotsMu.Lock()
	slots := t.slots
	t.slots = nil
	t.slotsMu.Unlock()

	for _, slot := range slots {
		slot.close()
	}
}

// get returns the session of the slot, dialing a new one if there is none or it was closed
func (s *sessionSlot) get(ctx context.Context, dialer ISessionDialer) (multiplex.ISession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClientClosed
	}
	if s.session != nil && !s.session.IsClosed() {
		return s.session, nil
	}
	if s.session != nil {
		Logger.Infof("Session to %s closed, redialing", s.endpoint)
		_ = s.session.Close()
		s.session = nil
	}

	session, err := dialer.DialSession(ctx, s.endpoint)
	if err != nil {
		return nil, err
	}
	s.session = session
	return session, nil
}

// openStream opens a stream on the session of the slot
func (s *sessionSlot) openStream(ctx context.Context, dialer ISessionDialer) (multiplex.IStream, error) {
	session, err := s.get(ctx, dialer)
	if err != nil {
		return nil, err
	}
	stream, err := session.OpenStream(ctx)
	if err != nil && errors.Is(err, multiplex.ErrConnectionClosed) {
		s.invalidate(session)
	}
	return stream, err
}

// invalidate drops the session if it is still the current one of the slot
func (s *sessionSlot) invalidate(session multiplex.ISession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == session {
		_ = s.session.Close()
		s.session = nil
	}
}

func (s *sessionSlot) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}
}

// permanent reports errors that end OpenStream at once. A failed handshake
// is terminal and is never retried.
func permanent(err error) bool {
	var herr *security.HandshakeError
	return errors.As(err, &herr)
}
