// Package security establishes an authenticated, encrypted channel on top of
// a raw connection before any multiplexing happens.
//
// Two variants implement ISecureChannel:
//
//   - tls: crypto/tls with the ALPN protocol "pkv". The server presents a
//     certificate, an optional client CA turns on mutual tls. The same
//     configuration is used by the quic transport (LoadServerTLSConfig,
//     LoadClientTLSConfig).
//
//   - noise: Noise_NN_25519_ChaChaPoly_BLAKE2s (github.com/flynn/noise).
//     Both peers use ephemeral keys only, so the channel is encrypted but
//     anonymous. Handshake and transport messages carry a 2 byte length
//     prefix, writes are split into messages of at most 65519 bytes.
//
// A handshake runs under the context deadline and is never retried. Every
// failure is a single *HandshakeError whose Kind is one of CertInvalid,
// VersionMismatch, ProtocolViolation or Timeout.
//
// The secured connection is the only owner of the raw socket: layers above
// it (the multiplexer) must not read or write the raw connection.
package security
