package frame

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the compression format of a frame payload.
// The numeric value is written into the frame header and is part of the wire format.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
	CompressionLZ4  Compression = 2
	CompressionZstd Compression = 3
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression returns the Compression for a name (none, gzip, lz4, zstd)
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("invalid compression %q (expected none, gzip, lz4 or zstd)", name)
	}
}

// compressor compresses and decompresses whole payloads
type compressor interface {
	// compress appends the compressed form of src to dst
	compress(dst *bytes.Buffer, src []byte) error
	// decompress decompresses src, failing with a TooLarge error if the
	// result would exceed limit bytes
	decompress(src []byte, limit int) ([]byte, error)
}

// compressors holds every compressor that can be named in a frame header
var compressors = map[Compression]compressor{
	CompressionGzip: &gzipCompressor{},
	CompressionLZ4:  &lz4Compressor{},
	CompressionZstd: newZstdCompressor(),
}

// readLimited reads r fully but at most limit bytes
func readLimited(r io.Reader, limit int, sizeHint int) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(sizeHint)
	n, err := io.Copy(&out, io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, newError(KindCompression, err, "decompression failed")
	}
	if n > int64(limit) {
		return nil, newError(KindTooLarge, nil, "decompressed payload exceeds %d bytes", limit)
	}
	return out.Bytes(), nil
}

// --------------------------------------------------------------------------
// gzip
// --------------------------------------------------------------------------

type gzipCompressor struct {
	writers sync.Pool
	readers sync.Pool
}

func (g *gzipCompressor) compress(dst *bytes.Buffer, src []byte) error {
	w, ok := g.writers.Get().(*gzip.Writer)
	if ok {
		w.Reset(dst)
	} else {
		w = gzip.NewWriter(dst)
	}
	defer g.writers.Put(w)

	if _, err := w.Write(src); err != nil {
		return err
	}
	return w.Close()
}

func (g *gzipCompressor) decompress(src []byte, limit int) ([]byte, error) {
	var (
		r   *gzip.Reader
		err error
	)
	if pooled, ok := g.readers.Get().(*gzip.Reader); ok {
		r = pooled
		err = r.Reset(bytes.NewReader(src))
	} else {
		r, err = gzip.NewReader(bytes.NewReader(src))
	}
	if err != nil {
		return nil, newError(KindCompression, err, "invalid gzip payload")
	}
	defer g.readers.Put(r)
	return readLimited(r, limit, len(src)*2)
}

// --------------------------------------------------------------------------
// lz4
// --------------------------------------------------------------------------

type lz4Compressor struct {
	writers sync.Pool
	readers sync.Pool
}

func (l *lz4Compressor) compress(dst *bytes.Buffer, src []byte) error {
	w, ok := l.writers.Get().(*lz4.Writer)
	if ok {
		w.Reset(dst)
	} else {
		w = lz4.NewWriter(dst)
	}
	defer l.writers.Put(w)

	if _, err := w.Write(src); err != nil {
		return err
	}
	return w.Close()
}

func (l *lz4Compressor) decompress(src []byte, limit int) ([]byte, error) {
	r, ok := l.readers.Get().(*lz4.Reader)
	if ok {
		r.Reset(bytes.NewReader(src))
	} else {
		r = lz4.NewReader(bytes.NewReader(src))
	}
	defer l.readers.Put(r)
	return readLimited(r, limit, len(src)*2)
}

// --------------------------------------------------------------------------
// zstd
// --------------------------------------------------------------------------

// zstdCompressor shares one encoder, EncodeAll is safe for concurrent use.
// Decoding streams through pooled single-goroutine decoders so the output
// can be cut off at the limit.
type zstdCompressor struct {
	encoder *zstd.Encoder
	readers sync.Pool
}

func newZstdCompressor() *zstdCompressor {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	return &zstdCompressor{encoder: encoder}
}

func (z *zstdCompressor) compress(dst *bytes.Buffer, src []byte) error {
	dst.Write(z.encoder.EncodeAll(src, make([]byte, 0, len(src)/2)))
	return nil
}

func (z *zstdCompressor) decompress(src []byte, limit int) ([]byte, error) {
	// reject payloads whose header declares an oversized content size
	// before decoding anything
	var header zstd.Header
	if err := header.Decode(src); err == nil && header.HasFCS && header.FrameContentSize > uint64(limit) {
		return nil, newError(KindTooLarge, nil, "decompressed payload exceeds %d bytes", limit)
	}

	var (
		d   *zstd.Decoder
		err error
	)
	if pooled, ok := z.readers.Get().(*zstd.Decoder); ok {
		d = pooled
		err = d.Reset(bytes.NewReader(src))
	} else {
		d, err = zstd.NewReader(bytes.NewReader(src), zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
	}
	if err != nil {
		return nil, newError(KindCompression, err, "invalid zstd payload")
	}
	defer func() {
		// drop the reference to src before pooling
		if d.Reset(nil) == nil {
			z.readers.Put(d)
		}
	}()
	return readLimited(d, limit, len(src)*2)
}
