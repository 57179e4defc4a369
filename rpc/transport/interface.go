package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/multiplex"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// StreamHandleFunc handles one inbound stream.
// It is called in its own goroutine for every stream a peer opens and owns the
// stream until it returns, the transport closes the stream afterwards.
// ctx is cancelled when the transport shuts down.
type StreamHandleFunc func(ctx context.Context, stream multiplex.IStream)

// IRPCServerTransport accepts connections, secures and multiplexes them and
// hands every inbound stream to the registered handler
type IRPCServerTransport interface {
	// RegisterHandler registers the stream handler, it must be called before Listen
	RegisterHandler(handler StreamHandleFunc)
	// Listen binds the configured endpoint and serves connections until ctx
	// is done or Close is called. It blocks and returns nil on a graceful stop.
	Listen(ctx context.Context, config common.ServerConfig) error
	// Ready is closed once the listener is bound
	Ready() <-chan struct{}
	// Addr returns the bound address (nil before Ready)
	Addr() net.Addr
	// Close stops accepting, closes every session and waits for all stream handlers
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport maintains the sessions to the configured endpoints
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration and
	// establishes the initial sessions
	Connect(config common.ClientConfig) error
	// OpenStream opens a new stream on the next session (round robin).
	// Closed sessions are redialed, failing attempts are retried with backoff.
	OpenStream(ctx context.Context) (multiplex.IStream, error)
	// Close closes all sessions
	Close() error
}
