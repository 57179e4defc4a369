// Package transport defines the interfaces of the pKV transport layer. A
// transport turns an endpoint into streams: the server side accepts
// connections and hands every inbound stream to a StreamHandleFunc, the
// client side keeps sessions to its endpoints and opens streams on them.
//
// Implementations:
//
//   - tcp and unix: byte stream sockets, secured by the configured secure
//     channel (tls or noise) and multiplexed with yamux. Both are thin
//     connectors on top of the base package.
//
//   - quic: quic-go connections with built in tls 1.3 and native streams.
//
// Everything above a stream (frames, commands, subscriptions) is the
// business of the rpc/server and rpc/client packages.
package transport
