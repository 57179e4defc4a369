// Package client implements the RPC clients of a pKV server.
//
// NewRPCStore returns a store.IStore whose operations are sent to the server
// as storage requests. Every call takes an idle stream from a small pool (or
// opens a new one), sends one request frame and reads the response frame
// before the stream is handed back. Errors are mapped to *store.Error:
//
//   - unsupported commands become store.ErrUnsupportedOperation
//   - malformed requests become store.ErrInvalidOperation
//   - backend and transport failures become store.ErrInternal
//
// The original *common.CommandError stays reachable with errors.As.
//
// NewRPCPubSub returns the pub/sub client. Publish and UnsubscribeByID use
// the same stream pool, Subscribe opens a dedicated stream that switches to
// subscribed mode:
//
//	ps, _ := client.NewRPCPubSub(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	sub, _ := ps.Subscribe(ctx, "news")
//	defer sub.Close()
//
//	for n := range sub.Messages() {
//		fmt.Printf("%s: %s\n", n.Topic, n.Payload)
//	}
//
// Clients are safe for concurrent use. A Subscription serializes its own
// commands, notifications are buffered and read in order.
package client
