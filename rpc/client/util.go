package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/frame"
	"github.com/ValentinKolb/pKV/rpc/multiplex"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// maxIdleStreams bounds the streams kept open between calls
const maxIdleStreams = 64

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
// Used by the RPCStore and RPCPubSub with composition pattern
type rpcClientAdapter struct {
	config      common.ClientConfig
	transport   transport.IRPCClientTransport
	serializer  serializer.IRPCSerializer
	frameConfig frame.Config
	pool        *streamPool
}

// newClientAdapter connects the transport and prepares the stream pool
func newClientAdapter(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (rpcClientAdapter, error) {
	frameConfig, err := frame.NewConfig(config.Frame.Compression, config.Frame.CompressionThreshold, config.Frame.MaxFrameSize)
	if err != nil {
		return rpcClientAdapter{}, fmt.Errorf("invalid frame config: %w", err)
	}

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return rpcClientAdapter{}, err
	}

	return rpcClientAdapter{
		config:      config,
		transport:   transport,
		serializer:  serializer,
		frameConfig: frameConfig,
		pool:        &streamPool{transport: transport, frameConfig: frameConfig},
	}, nil
}

// context returns the context of one exchange, bounded by the client timeout
func (a *rpcClientAdapter) context() (context.Context, context.CancelFunc) {
	if a.config.Timeout > 0 {
		return context.WithTimeout(context.Background(), a.config.Timeout)
	}
	return context.WithCancel(context.Background())
}

// close closes the pooled streams and the transport
func (a *rpcClientAdapter) close() error {
	a.pool.close()
	return a.transport.Close()
}

// invokeRPCRequest sends one request on an idle stream and waits for its response.
// It checks if the response is an error response and if the type of the response is the expected type.
func (a *rpcClientAdapter) invokeRPCRequest(req *common.Message) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.context()
	defer cancel()

	respBytes, err := a.exchange(ctx, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize %s response: %w", req.MsgType, err)
	}

	// Check if the response is an error response
	if err := resp.CommandError(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("unexpected message type %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}

// exchange writes one frame and reads the answer. A reused stream that
// fails on write belonged to a dead session, the request is sent once more
// on a fresh stream.
func (a *rpcClientAdapter) exchange(ctx context.Context, reqBytes []byte) ([]byte, error) {
	for {
		ps, reused, err := a.pool.get(ctx)
		if err != nil {
			return nil, err
		}

		if deadline, ok := ctx.Deadline(); ok {
			_ = ps.stream.SetDeadline(deadline)
		}

		if err := ps.codec.WriteFrame(reqBytes); err != nil {
			ps.close()
			if reused && ctx.Err() == nil {
				Logger.Debugf("pooled stream %d failed, retrying on a new stream: %v", ps.stream.StreamID(), err)
				continue
			}
			return nil, fmt.Errorf("failed to send request: %w", err)
		}

		respBytes, err := ps.codec.ReadFrame()
		if err != nil {
			ps.close()
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		_ = ps.stream.SetDeadline(time.Time{})
		a.pool.put(ps)
		return respBytes, nil
	}
}

// --------------------------------------------------------------------------
// Stream pool
// --------------------------------------------------------------------------

// pooledStream is an idle stream with its frame codec
type pooledStream struct {
	stream multiplex.IStream
	codec  *frame.Codec
}

func (ps *pooledStream) close() {
	_ = ps.stream.Close()
}

// streamPool keeps streams open between calls, every stream carries at most
// one command at a time
type streamPool struct {
	transport   transport.IRPCClientTransport
	frameConfig frame.Config

	mu     sync.Mutex
	idle   []*pooledStream
	closed bool
}

// get returns an idle stream or opens a new one. reused reports a stream
// that was taken from the pool.
func (p *streamPool) get(ctx context.Context) (ps *pooledStream, reused bool, err error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		ps = p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return ps, true, nil
	}
	p.mu.Unlock()

	stream, err := p.transport.OpenStream(ctx)
	if err != nil {
		return nil, false, err
	}
	return &pooledStream{stream: stream, codec: frame.NewCodec(stream, p.frameConfig)}, false, nil
}

// put returns a stream to the pool
func (p *streamPool) put(ps *pooledStream) {
	p.mu.Lock()
	if p.closed || len(p.idle) >= maxIdleStreams {
		p.mu.Unlock()
		ps.close()
		return
	}
	p.idle = append(p.idle, ps)
	p.mu.Unlock()
}

// close closes every idle stream, streams in use are closed when they are returned
func (p *streamPool) close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, ps := range idle {
		ps.close()
	}
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// toStoreError maps an exchange error to the store error of its kind
func toStoreError(err error, op string) error {
	var cmdErr *common.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case common.ErrCUnsupported:
			return store.WrapError(store.RetCUnsupportedOperation, err, op)
		case common.ErrCMalformed:
			return store.WrapError(store.RetCInvalidOperation, err, op)
		}
	}
	return store.WrapError(store.RetCInternalError, err, op)
}
