// Package base implements the transport functionality shared by every pKV
// transport, independent of the physical medium.
//
// Server side:
//
//	accept (bounded by MaxConnections) -> UpgradeConnection (socket options)
//	-> secure channel handshake (HandshakeTimeout) -> yamux session
//	-> ServeSession: one goroutine per inbound stream
//
// A failed handshake closes the connection and is logged, it never affects
// other connections. Close stops accepting, closes all sessions and waits
// until every stream handler has returned.
//
// Client side:
//
//   - ConnectionsPerEndpoint sessions per endpoint, streams are spread over
//     them round robin.
//   - Sessions that were closed by the peer or by a keep-alive failure are
//     redialed lazily on the next OpenStream.
//   - Failing attempts are retried up to RetryCount times with exponential
//     backoff (50ms, doubled each attempt, +-10% jitter). Certificate and
//     version errors are not retried.
//
// Transports plug in through IServerConnector/IClientConnector (byte stream
// sockets) or ISessionDialer (transports with native streams such as quic,
// which reuse ServeSession on the server side).
package base
