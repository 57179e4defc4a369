package frame

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"runtime"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// testPayloads returns payloads below, at and above the compression threshold
func testPayloads() map[string][]byte {
	random := make([]byte, 64*1024)
	_, _ = rand.Read(random)

	return map[string][]byte{
		"Empty":          {},
		"Small":          []byte("hello world"),
		"AtThreshold":    bytes.Repeat([]byte("a"), DefaultThreshold),
		"Compressible":   bytes.Repeat([]byte("pkv frame codec "), 4096),
		"Incompressible": random,
	}
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionGzip, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			config := DefaultConfig()
			config.Compression = c

			for name, payload := range testPayloads() {
				t.Run(name, func(t *testing.T) {
					var stream bytes.Buffer
					codec := NewCodec(&stream, config)

					if err := codec.WriteFrame(payload); err != nil {
						t.Fatalf("WriteFrame failed: %v", err)
					}
					got, err := codec.ReadFrame()
					if err != nil {
						t.Fatalf("ReadFrame failed: %v", err)
					}
					if !bytes.Equal(got, payload) {
						t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(payload))
					}
					if stream.Len() != 0 {
						t.Errorf("expected the stream to be fully consumed, %d bytes left", stream.Len())
					}
				})
			}
		})
	}
}

func TestCompressionFlag(t *testing.T) {
	config := DefaultConfig()
	config.Compression = CompressionZstd

	tests := []struct {
		name       string
		payload    []byte
		compressed bool
	}{
		{"BelowThreshold", bytes.Repeat([]byte("x"), 100), false},
		{"AtThreshold", bytes.Repeat([]byte("x"), DefaultThreshold), false},
		{"AboveThreshold", bytes.Repeat([]byte("x"), DefaultThreshold+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.payload, config)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			h := binary.BigEndian.Uint32(encoded[:HeaderSize])
			if got := h&compressedFlag != 0; got != tt.compressed {
				t.Errorf("compressed flag = %v, want %v", got, tt.compressed)
			}
			length, c, err := decodeHeader(h)
			if err != nil {
				t.Fatalf("decodeHeader failed: %v", err)
			}
			if length != len(encoded)-HeaderSize {
				t.Errorf("header length = %d, body is %d bytes", length, len(encoded)-HeaderSize)
			}
			if tt.compressed && c != CompressionZstd {
				t.Errorf("expected zstd format id, got %s", c)
			}
		})
	}
}

func TestMultipleFramesInOrder(t *testing.T) {
	var stream bytes.Buffer
	codec := NewCodec(&stream, DefaultConfig())

	frames := [][]byte{[]byte("first"), bytes.Repeat([]byte("second"), 1000), []byte("third")}
	for _, f := range frames {
		if err := codec.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	for i, want := range frames {
		got, err := codec.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d mismatch", i)
		}
	}
	if _, err := codec.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF after the last frame, got %v", err)
	}
}

// countingReader counts the bytes handed out
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestDecodeTooLarge(t *testing.T) {
	config := DefaultConfig()
	config.MaxFrameSize = 1024

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header, encodeHeader(1025, CompressionNone))

	// the payload is never read, so it does not need to exist
	reader := &countingReader{r: io.MultiReader(bytes.NewReader(header), bytes.NewReader(make([]byte, 4096)))}
	_, err := Decode(reader, config)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if reader.n != HeaderSize {
		t.Errorf("expected only the header to be read, read %d bytes", reader.n)
	}
}

func TestDecodeTooLargeAfterDecompression(t *testing.T) {
	config := DefaultConfig()
	config.Compression = CompressionGzip

	encoded, err := Encode(bytes.Repeat([]byte("z"), 100_000), config)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	config.MaxFrameSize = 50_000
	if _, err := Decode(bytes.NewReader(encoded), config); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge for an oversized decompressed payload, got %v", err)
	}
}

func TestDecodeZstdWithoutContentSize(t *testing.T) {
	// a streaming encoder does not declare the content size in the frame header
	var body bytes.Buffer
	w, err := zstd.NewWriter(&body)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	zeros := make([]byte, 1<<20)
	for i := 0; i < 256; i++ {
		if _, err := w.Write(zeros); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var header zstd.Header
	if err := header.Decode(body.Bytes()); err != nil {
		t.Fatalf("failed to decode zstd header: %v", err)
	}
	if header.HasFCS {
		t.Fatal("expected a zstd frame without content size")
	}

	data := make([]byte, HeaderSize+body.Len())
	binary.BigEndian.PutUint32(data, encodeHeader(body.Len(), CompressionZstd))
	copy(data[HeaderSize:], body.Bytes())

	config := DefaultConfig()
	config.MaxFrameSize = 1 << 20

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err = Decode(bytes.NewReader(data), config)
	runtime.ReadMemStats(&after)

	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if allocated := after.TotalAlloc - before.TotalAlloc; allocated > 64<<20 {
		t.Errorf("decoding allocated %d MiB for a 1 MiB limit", allocated>>20)
	}
}

func TestDecodeTruncated(t *testing.T) {
	encoded, err := Encode([]byte("0123456789"), DefaultConfig())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"PartialHeader", encoded[:2]},
		{"NoPayload", encoded[:HeaderSize]},
		{"PartialPayload", encoded[:HeaderSize+5]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &countingReader{r: bytes.NewReader(tt.data)}
			_, err := Decode(reader, DefaultConfig())
			if !errors.Is(err, ErrTruncated) {
				t.Fatalf("expected ErrTruncated, got %v", err)
			}
			if reader.n != len(tt.data) {
				t.Errorf("read %d bytes, stream had %d", reader.n, len(tt.data))
			}
		})
	}
}

func TestDecodeUnknownCompression(t *testing.T) {
	tests := []struct {
		name   string
		header uint32
	}{
		{"ReservedFormat", compressedFlag | 5<<formatShift | 3},
		{"CompressedWithoutFormat", compressedFlag | 3},
		{"FormatWithoutFlag", 2<<formatShift | 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, HeaderSize+3)
			binary.BigEndian.PutUint32(data, tt.header)
			if _, err := Decode(bytes.NewReader(data), DefaultConfig()); !errors.Is(err, ErrUnknownCompression) {
				t.Errorf("expected ErrUnknownCompression, got %v", err)
			}
		})
	}
}

func TestDecodeEOF(t *testing.T) {
	if _, err := Decode(bytes.NewReader(nil), DefaultConfig()); err != io.EOF {
		t.Errorf("expected io.EOF on an empty stream, got %v", err)
	}
}

func TestNewConfig(t *testing.T) {
	if _, err := NewConfig("brotli", 0, 0); err == nil {
		t.Error("expected an error for an unknown compression name")
	}
	if _, err := NewConfig("gzip", 0, MaxFrameSize+1); err == nil {
		t.Error("expected an error for a max frame size above the wire limit")
	}
	config, err := NewConfig("lz4", 0, 0)
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if config.Compression != CompressionLZ4 || config.CompressionThreshold != DefaultThreshold || config.MaxFrameSize != MaxFrameSize {
		t.Errorf("unexpected config %+v", config)
	}
}
