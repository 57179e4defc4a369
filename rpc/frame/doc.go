// Package frame implements the length prefixed, optionally compressed frame
// codec that every logical stream of a pKV connection speaks.
//
// A frame is a 4 byte big endian header followed by the payload:
//
//	+---+-------+------------------------------+----------------------+
//	| C | FMT   | LENGTH                       | PAYLOAD (LENGTH)     |
//	| 1 | 3 bit | 28 bit                       | possibly compressed  |
//	+---+-------+------------------------------+----------------------+
//
// C is set when the payload is compressed, FMT then names the format
// (1 gzip, 2 lz4, 3 zstd). LENGTH is the number of payload bytes on the wire.
// This layout is wire format v1 and must not change without a new version.
//
// Payloads larger than the configured threshold (default 1436 bytes) are
// compressed, unless compression does not make them smaller. The decoder
// rejects frames whose declared or decompressed length exceeds the configured
// maximum before allocating, and never hands out a partial frame: it returns
// either the complete payload or one of ErrTruncated, ErrTooLarge,
// ErrUnknownCompression.
package frame
