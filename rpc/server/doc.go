// Package server implements the command protocol engine on the server side
// of pKV. It serves the streams handed out by a server transport: every
// stream carries length prefixed frames (rpc/frame), every frame one
// serialized common.Message.
//
// Key Components:
//
//   - RPCServer: owns the transport, the store (built from the storage
//     configuration, maple or badger behind lstore) and the pub/sub
//     broadcaster. NewRPCServer validates the configuration, Serve blocks
//     until the context is done.
//
//   - IRPCServerAdapter: one adapter per message family. NewIStoreServerAdapter
//     maps storage commands to store.IStore calls, NewPubSubServerAdapter maps
//     Publish, Subscribe and Unsubscribe to the broadcaster.
//
// Stream protocol:
//
//   - Requests on a stream are answered in order, exactly one response per
//     request. A request that cannot be decoded gets a Malformed error
//     response and the stream continues. Unknown types get Unsupported,
//     failing store calls get Backend. A frame error closes the stream.
//
//   - After the first Subscribe a stream is in dual mode: a reader goroutine
//     feeds inbound frames to the stream goroutine, which selects between
//     them and the notifications of the stream's subscriber. The stream
//     goroutine is the only writer. All subscriptions of a stream are removed
//     when the stream ends.
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	s, err := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
package server
