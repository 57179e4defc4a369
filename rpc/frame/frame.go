package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("frame")

// Header layout (big endian uint32, wire format v1):
//
//	bit  31      compressed flag
//	bits 30..28  compression format id (see Compression), 0 when not compressed
//	bits 27..0   payload length in bytes as sent on the wire (after compression)
const (
	HeaderSize = 4

	compressedFlag   uint32 = 1 << 31
	formatShift             = 28
	formatMask       uint32 = 0x7 << formatShift
	lengthMask       uint32 = (1 << formatShift) - 1
	MaxFrameSize            = int(lengthMask) // 256 MiB - 1
	DefaultThreshold        = 1436            // ethernet mtu minus ip, tcp and frame headers
)

// Config configures a Codec
type Config struct {
	// Compression used for payloads larger than CompressionThreshold
	Compression Compression
	// CompressionThreshold in bytes, payloads up to this size are sent raw
	CompressionThreshold int
	// MaxFrameSize bounds the declared and the decompressed payload length
	MaxFrameSize int
}

// DefaultConfig returns gzip compression above 1436 bytes and the largest possible frame size
func DefaultConfig() Config {
	return Config{
		Compression:          CompressionGzip,
		CompressionThreshold: DefaultThreshold,
		MaxFrameSize:         MaxFrameSize,
	}
}

// NewConfig creates a Config from its textual form. Values <= 0 select the defaults.
func NewConfig(compression string, threshold, maxFrameSize int) (Config, error) {
	c, err := ParseCompression(compression)
	if err != nil {
		return Config{}, err
	}
	config := DefaultConfig()
	config.Compression = c
	if threshold > 0 {
		config.CompressionThreshold = threshold
	}
	if maxFrameSize > 0 {
		if maxFrameSize > MaxFrameSize {
			return Config{}, fmt.Errorf("max frame size %d exceeds the wire limit of %d bytes", maxFrameSize, MaxFrameSize)
		}
		config.MaxFrameSize = maxFrameSize
	}
	return config, nil
}

func (c Config) maxSize() int {
	if c.MaxFrameSize <= 0 || c.MaxFrameSize > MaxFrameSize {
		return MaxFrameSize
	}
	return c.MaxFrameSize
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// --------------------------------------------------------------------------
// Stateless encoding
// --------------------------------------------------------------------------

// encodeHeader packs the header fields
func encodeHeader(length int, c Compression) uint32 {
	h := uint32(length) & lengthMask
	if c != CompressionNone {
		h |= compressedFlag | (uint32(c)<<formatShift)&formatMask
	}
	return h
}

// decodeHeader unpacks the header fields
func decodeHeader(h uint32) (length int, c Compression, err error) {
	length = int(h & lengthMask)
	format := Compression((h & formatMask) >> formatShift)
	if h&compressedFlag == 0 {
		if format != CompressionNone {
			return 0, 0, newError(KindUnknownCompression, nil, "format id %d set on an uncompressed frame", format)
		}
		return length, CompressionNone, nil
	}
	if _, ok := compressors[format]; !ok {
		return 0, 0, newError(KindUnknownCompression, nil, "format id %d", format)
	}
	return length, format, nil
}

// encodeBody returns the body to send and the compression that was applied.
// The returned buffer must be released with releaseBuffer if it is not nil.
func encodeBody(payload []byte, config Config) ([]byte, Compression, *bytes.Buffer, error) {
	if config.Compression == CompressionNone || len(payload) <= config.CompressionThreshold {
		return payload, CompressionNone, nil, nil
	}

	comp, ok := compressors[config.Compression]
	if !ok {
		return nil, 0, nil, newError(KindUnknownCompression, nil, "format id %d", config.Compression)
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	if err := comp.compress(buf, payload); err != nil {
		releaseBuffer(buf)
		return nil, 0, nil, newError(KindCompression, err, "%s compression failed", config.Compression)
	}

	// incompressible payloads are sent raw
	if buf.Len() >= len(payload) {
		releaseBuffer(buf)
		return payload, CompressionNone, nil, nil
	}
	return buf.Bytes(), config.Compression, buf, nil
}

func releaseBuffer(buf *bytes.Buffer) {
	if buf != nil && buf.Cap() <= 4<<20 {
		bufferPool.Put(buf)
	}
}

// Encode returns the complete frame (header and body) for a payload
func Encode(payload []byte, config Config) ([]byte, error) {
	body, c, buf, err := encodeBody(payload, config)
	if err != nil {
		return nil, err
	}
	defer releaseBuffer(buf)

	if len(body) > config.maxSize() {
		return nil, newError(KindTooLarge, nil, "payload of %d bytes exceeds %d bytes", len(body), config.maxSize())
	}

	out := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(out[:HeaderSize], encodeHeader(len(body), c))
	copy(out[HeaderSize:], body)
	return out, nil
}

// Decode reads exactly one frame from r and returns its decompressed payload.
// A clean end of stream before the first header byte is returned as io.EOF.
func Decode(r io.Reader, config Config) ([]byte, error) {
	var header [HeaderSize]byte
	return decode(r, config, header[:])
}

func decode(r io.Reader, config Config, header []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newError(KindTruncated, err, "incomplete header")
		}
		return nil, err
	}

	length, c, err := decodeHeader(binary.BigEndian.Uint32(header))
	if err != nil {
		return nil, err
	}

	// never read (or allocate) a payload above the limit
	limit := config.maxSize()
	if length > limit {
		return nil, newError(KindTooLarge, nil, "declared length %d exceeds %d bytes", length, limit)
	}

	body := make([]byte, length)
	if n, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newError(KindTruncated, err, "got %d of %d payload bytes", n, length)
		}
		return nil, err
	}

	if c == CompressionNone {
		return body, nil
	}
	return compressors[c].decompress(body, limit)
}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// Codec reads and writes frames on one logical stream.
//
// Thread-safety: ReadFrame and WriteFrame may run concurrently with each
// other, but not with themselves.
type Codec struct {
	rw     io.ReadWriter
	config Config
	header [HeaderSize]byte
	wHead  [HeaderSize]byte
}

// NewCodec creates a codec on top of a byte stream
func NewCodec(rw io.ReadWriter, config Config) *Codec {
	return &Codec{rw: rw, config: config}
}

// WriteFrame encodes the payload and writes header and body with a single
// vectored write, the caller never observes a partially written frame on success.
func (c *Codec) WriteFrame(payload []byte) error {
	body, comp, buf, err := encodeBody(payload, c.config)
	if err != nil {
		return err
	}
	defer releaseBuffer(buf)

	if len(body) > c.config.maxSize() {
		return newError(KindTooLarge, nil, "payload of %d bytes exceeds %d bytes", len(body), c.config.maxSize())
	}

	binary.BigEndian.PutUint32(c.wHead[:], encodeHeader(len(body), comp))
	if comp != CompressionNone {
		Logger.Debugf("compressed payload %d -> %d bytes (%s)", len(payload), len(body), comp)
	}

	b := net.Buffers{c.wHead[:], body}
	_, err = b.WriteTo(c.rw)
	return err
}

// ReadFrame reads one complete frame and returns its payload
func (c *Codec) ReadFrame() ([]byte, error) {
	return decode(c.rw, c.config, c.header[:])
}
