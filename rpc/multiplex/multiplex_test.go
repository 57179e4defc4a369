package multiplex

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/security"
)

// noisePair returns two noise secured ends of a loopback tcp connection
func noisePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		raw, err := l.Accept()
		if err != nil {
			accepted <- result{nil, err}
			return
		}
		conn, err := security.NewNoiseChannel().Handshake(ctx, raw, security.RoleResponder)
		accepted <- result{conn, err}
	}()

	raw, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	client, err = security.NewNoiseChannel().Handshake(ctx, raw, security.RoleInitiator)
	if err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}
	res := <-accepted
	if res.err != nil {
		t.Fatalf("server handshake failed: %v", res.err)
	}
	return client, res.conn
}

func sessionPair(t *testing.T, clientConf, serverConf common.MuxConf) (client, server ISession) {
	t.Helper()
	c, s := noisePair(t)
	client, err := NewYamuxSession(c, false, clientConf)
	if err != nil {
		t.Fatalf("client session failed: %v", err)
	}
	server, err = NewYamuxSession(s, true, serverConf)
	if err != nil {
		t.Fatalf("server session failed: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// echo accepts streams and echoes everything back until the stream ends
func echo(server ISession) {
	for {
		stream, err := server.AcceptStream(context.Background())
		if err != nil {
			return
		}
		go func() {
			defer stream.Close()
			_, _ = io.Copy(stream, stream)
		}()
	}
}

func roundTrip(t *testing.T, stream IStream, payload []byte) {
	t.Helper()
	if _, err := stream.Write(payload); err != nil {
		t.Fatalf("write on stream %d failed: %v", stream.StreamID(), err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(stream, got); err != nil {
		t.Fatalf("read on stream %d failed: %v", stream.StreamID(), err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("stream %d returned corrupted data", stream.StreamID())
	}
}

func TestYamuxOverNoise(t *testing.T) {
	client, server := sessionPair(t, common.DefaultMuxConf(), common.DefaultMuxConf())
	go echo(server)

	ctx := context.Background()
	first, err := client.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	second, err := client.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	if first.StreamID() == second.StreamID() {
		t.Fatalf("streams share the id %d", first.StreamID())
	}

	roundTrip(t, first, []byte("first"))
	roundTrip(t, second, bytes.Repeat([]byte("second"), 50_000))

	// closing one stream must not end the session or the other stream
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	roundTrip(t, second, []byte("still alive"))
	if client.IsClosed() || server.IsClosed() {
		t.Fatal("closing a stream closed the session")
	}

	third, err := client.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream after close failed: %v", err)
	}
	roundTrip(t, third, []byte("third"))
}

func TestYamuxStreamLimit(t *testing.T) {
	conf := common.DefaultMuxConf()
	conf.MaxStreams = 2
	// only the client is limited, the server releases its slots asynchronously
	client, server := sessionPair(t, conf, common.DefaultMuxConf())
	go echo(server)

	ctx := context.Background()
	streams := make([]IStream, 0, 2)
	for i := 0; i < 2; i++ {
		stream, err := client.OpenStream(ctx)
		if err != nil {
			t.Fatalf("OpenStream %d failed: %v", i, err)
		}
		streams = append(streams, stream)
	}

	if _, err := client.OpenStream(ctx); !errors.Is(err, ErrStreamLimitExceeded) {
		t.Fatalf("expected ErrStreamLimitExceeded, got %v", err)
	}

	// closing a stream frees its slot
	_ = streams[0].Close()
	stream, err := client.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream after freeing a slot failed: %v", err)
	}
	roundTrip(t, stream, []byte("ok"))
}

func TestYamuxSessionClose(t *testing.T) {
	client, server := sessionPair(t, common.DefaultMuxConf(), common.DefaultMuxConf())

	accepted := make(chan error, 1)
	go func() {
		_, err := server.AcceptStream(context.Background())
		accepted <- err
	}()

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !client.IsClosed() {
		t.Error("expected the client session to be closed")
	}
	if _, err := client.OpenStream(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}

	select {
	case err := <-accepted:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed on the server, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not notice the closed session")
	}
}

func TestYamuxAcceptContext(t *testing.T) {
	_, server := sessionPair(t, common.DefaultMuxConf(), common.DefaultMuxConf())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := server.AcceptStream(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}
