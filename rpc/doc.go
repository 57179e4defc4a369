// Package rpc provides the communication layer of pKV: everything between a
// store.IStore on the server and its remote counterpart on the client, plus
// topic based publish/subscribe.
//
// The layers, bottom up:
//
//   - transport: listeners and dialers for tcp, unix sockets and quic. Every
//     connection is secured (security) and multiplexed (multiplex) into
//     independent streams.
//
//   - security: the secure channel run on every byte stream connection,
//     Noise NN or TLS 1.3 with optional client certificates.
//
//   - multiplex: the session/stream abstraction over yamux and native quic streams.
//
//   - frame: the length prefixed, optionally compressed frames each stream
//     carries. One frame holds one serialized Message.
//
//   - serializer: Message encodings (binary, proto, json, gob). Client and
//     server must use the same one.
//
//   - common: the Message protocol, configuration, logging and telemetry.
//
//   - server, client: the command protocol. The server answers storage
//     commands from its store and pub/sub commands from the pubsub broadcaster.
//
//   - pubsub: the topic registry and the fan-out of published payloads.
package rpc
