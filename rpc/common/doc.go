// Package common provides core data structures and utilities shared across
// the pKV client and server. It defines the message protocol, configuration
// structures, typed command errors, logging and the telemetry hook.
//
// Key Components:
//
//   - Message: One structure for every request, response and server pushed
//     notification. Factory functions (NewGetRequest, NewSetResponse, ...)
//     fill exactly the fields a message type uses.
//
//   - MessageType: Enumeration of all commands: storage commands (get, getall,
//     mget, set, mset, del, mdel, exist, mexist), pub/sub commands (publish,
//     subscribe, unsubscribe) and the notification and error types.
//
//   - CommandError / ErrorCode: The typed error of an error response
//     (malformed, backend, unsupported). Use errors.Is with ErrMalformed,
//     ErrBackend and ErrUnsupported.
//
//   - ServerConfig / ClientConfig: Transport, security, multiplexer, frame,
//     storage and pub/sub settings with defaults, validation and a printable
//     representation.
//
//   - Logger: Custom logging implementation that plugs into the dragonboat
//     logger package and provides a consistent format for all named loggers.
//
//   - Span: A small telemetry hook that records counters and duration
//     histograms (VictoriaMetrics) around handshakes, command dispatch and
//     publish fan-out.
package common
