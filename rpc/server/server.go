package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/db/engines/badger"
	"github.com/ValentinKolb/pKV/lib/db/engines/maple"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/lib/store/lstore"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/frame"
	"github.com/ValentinKolb/pKV/rpc/multiplex"
	"github.com/ValentinKolb/pKV/rpc/pubsub"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// RPCServer serves the storage and pub/sub commands of a pKV node over one
// server transport
type RPCServer struct {
	config      common.ServerConfig
	transport   transport.IRPCServerTransport
	serializer  serializer.IRPCSerializer
	frameConfig frame.Config

	store       store.IStore
	broadcaster *pubsub.Broadcaster
	storage     IRPCServerAdapter
	pubsub      IRPCServerAdapter

	closeOnce sync.Once
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s, err := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//		panic(err)
//	}
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) (*RPCServer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	frameConfig, err := frame.NewConfig(config.Frame.Compression, config.Frame.CompressionThreshold, config.Frame.MaxFrameSize)
	if err != nil {
		return nil, fmt.Errorf("invalid frame config: %w", err)
	}

	factory, err := NewDBFactory(config.Storage)
	if err != nil {
		return nil, err
	}
	s, err := lstore.NewLocalStore(factory)
	if err != nil {
		return nil, fmt.Errorf("failed to open the %s storage engine: %w", config.Storage.Engine, err)
	}
	Logger.Infof("Opened %s storage engine", config.Storage.Engine)

	return newRPCServer(config, transport, serializer, frameConfig, s), nil
}

func newRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	frameConfig frame.Config,
	s store.IStore,
) *RPCServer {
	broadcaster := pubsub.NewBroadcaster(config.PubSub.DeliveryBuffer)
	server := &RPCServer{
		config:      config,
		transport:   transport,
		serializer:  serializer,
		frameConfig: frameConfig,
		store:       s,
		broadcaster: broadcaster,
		storage:     NewIStoreServerAdapter(s),
		pubsub:      NewPubSubServerAdapter(broadcaster),
	}
	transport.RegisterHandler(server.handleStream)
	return server
}

// NewDBFactory returns the factory of the storage engine configured in conf
func NewDBFactory(conf common.StorageConf) (store.DBFactory, error) {
	switch conf.Engine {
	case common.EngineMaple, "":
		return func() (db.KVDB, error) {
			return maple.NewMapleDB(nil), nil
		}, nil
	case common.EngineBadger:
		return func() (db.KVDB, error) {
			return badger.NewBadgerDB(badger.Options{Dir: conf.DataDir})
		}, nil
	default:
		return nil, fmt.Errorf("invalid storage engine %q", conf.Engine)
	}
}

// Serve starts the transport and blocks until ctx is done or Close is
// called. The store is closed when Serve returns.
func (s *RPCServer) Serve(ctx context.Context) error {
	Logger.Infof("Starting pKV server\n%s", s.config.String())

	err := s.transport.Listen(ctx, s.config)
	if closeErr := s.closeStore(); err == nil {
		err = closeErr
	}
	return err
}

// Ready is closed once the transport accepts connections
func (s *RPCServer) Ready() <-chan struct{} {
	return s.transport.Ready()
}

// Addr returns the address the transport is bound to
func (s *RPCServer) Addr() string {
	if addr := s.transport.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close stops the transport, waits for all streams and closes the store
func (s *RPCServer) Close() error {
	err := s.transport.Close()
	if closeErr := s.closeStore(); err == nil {
		err = closeErr
	}
	return err
}

// Broadcaster returns the topic registry of the server
func (s *RPCServer) Broadcaster() *pubsub.Broadcaster {
	return s.broadcaster
}

func (s *RPCServer) closeStore() (err error) {
	s.closeOnce.Do(func() {
		err = s.store.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Stream handling
// --------------------------------------------------------------------------

// inbound is one frame read by the reader goroutine of a subscribed stream
type inbound struct {
	payload []byte
	err     error
}

// handleStream serves one stream. Requests are answered in order, one
// response per request. After the first Subscribe the stream also carries
// notifications, the stream goroutine stays the only writer.
func (s *RPCServer) handleStream(ctx context.Context, stream multiplex.IStream) {
	codec := frame.NewCodec(stream, s.frameConfig)
	state := &StreamState{}
	defer func() {
		if state.Subscriber != nil {
			s.broadcaster.Teardown(state.Subscriber)
		}
	}()

	// request/response mode
	for state.Subscriber == nil {
		payload, err := codec.ReadFrame()
		if err != nil {
			logReadError(stream, err)
			return
		}
		if err := s.respond(codec, state, payload); err != nil {
			Logger.Warningf("stream %d: failed to write response: %v", stream.StreamID(), err)
			return
		}
	}

	s.serveSubscribed(ctx, stream, codec, state)
}

// serveSubscribed multiplexes inbound requests and deliveries on a subscribed stream
func (s *RPCServer) serveSubscribed(ctx context.Context, stream multiplex.IStream, codec *frame.Codec, state *StreamState) {
	frames := make(chan inbound)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			payload, err := codec.ReadFrame()
			select {
			case frames <- inbound{payload: payload, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	deliveries := state.Subscriber.Deliveries()
	for {
		select {
		case in := <-frames:
			if in.err != nil {
				logReadError(stream, in.err)
				return
			}
			if err := s.respond(codec, state, in.payload); err != nil {
				Logger.Warningf("stream %d: failed to write response: %v", stream.StreamID(), err)
				return
			}
		case n := <-deliveries:
			if err := s.write(codec, common.NewNotification(n.Topic, n.Payload)); err != nil {
				Logger.Warningf("stream %d: failed to deliver notification: %v", stream.StreamID(), err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// respond decodes one request, dispatches it and writes the response.
// Only write errors are returned, they end the stream.
func (s *RPCServer) respond(codec *frame.Codec, state *StreamState, payload []byte) error {
	var (
		req  common.Message
		resp *common.Message
	)
	if err := s.serializer.Deserialize(payload, &req); err != nil {
		Logger.Debugf("malformed request: %v", err)
		resp = common.NewErrorResponse(common.ErrCMalformed, fmt.Sprintf("failed to deserialize request: %v", err))
	} else {
		resp = s.dispatch(&req, state)
	}
	return s.write(codec, resp)
}

// dispatch routes a request to the adapter of its message family
func (s *RPCServer) dispatch(req *common.Message, state *StreamState) *common.Message {
	span := common.StartSpan("dispatch", fmt.Sprintf("type=%q", req.MsgType))

	var resp *common.Message
	switch {
	case req.MsgType.IsStorage():
		resp = s.storage.Handle(req, state)
	case req.MsgType.IsPubSub():
		resp = s.pubsub.Handle(req, state)
	default:
		resp = common.NewErrorResponse(common.ErrCUnsupported, fmt.Sprintf("unsupported message type %s", req.MsgType))
	}

	span.End(resp.CommandError())
	return resp
}

// write serializes and sends one message
func (s *RPCServer) write(codec *frame.Codec, msg *common.Message) error {
	payload, err := s.serializer.Serialize(*msg)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", msg.MsgType, err)
		payload, err = s.serializer.Serialize(*common.NewErrorResponse(common.ErrCBackend, fmt.Sprintf("failed to serialize response: %v", err)))
		if err != nil {
			return err
		}
	}
	return codec.WriteFrame(payload)
}

// logReadError logs why a stream ended. A clean end of stream is not logged.
func logReadError(stream multiplex.IStream, err error) {
	var frameErr *frame.Error
	switch {
	case errors.Is(err, io.EOF):
	case errors.As(err, &frameErr):
		Logger.Warningf("stream %d: closing after a frame error: %v", stream.StreamID(), err)
	default:
		Logger.Debugf("stream %d: read failed: %v", stream.StreamID(), err)
	}
}
