// Package multiplex carries many independent logical streams over one secured
// connection.
//
// Two variants implement ISession:
//
//   - yamux (github.com/hashicorp/yamux) runs over the net.Conn returned by
//     the secure channel handshake. Stream opening honours the context and
//     the configured open timeout, keep-alives detect dead peers and the
//     MaxStreams setting bounds the number of concurrently open streams.
//
//   - quic (github.com/quic-go/quic-go) exposes the native bidirectional
//     streams of a quic connection. quic brings its own tls 1.3, so this
//     variant is only used together with the tls security mode.
//
// Session level failures are reported as *MultiplexError with the kinds
// ConnectionClosed and StreamLimitExceeded. Closing a session fails all of
// its streams, closing a stream never affects the session.
package multiplex
