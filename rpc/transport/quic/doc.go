// Package quic implements the pKV transport on top of quic-go.
//
// QUIC brings its own tls 1.3 handshake and native streams, so this package
// skips the secure channel and yamux layers of the byte stream transports:
// the server wraps every accepted connection with multiplex.NewQUICSession
// and serves it with base.ServeSession, the client plugs a quic dialer into
// the session pool of the base package. The certificate settings come from
// the tls section of the security configuration, the noise mode is not
// available for this transport.
//
// The stream limit of the multiplexer configuration is enforced by quic flow
// control (MaxIncomingStreams): a client waits for stream credit instead of
// failing.
package quic
