package security

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/security/testcerts"
)

type handshakeResult struct {
	conn net.Conn
	err  error
}

// tcpPair returns both ends of a loopback tcp connection. A synchronous
// net.Pipe would deadlock on tls 1.3 session tickets.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, _ := l.Accept()
		accepted <- conn
	}()

	client, err = net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	server = <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// handshakePair runs both sides of a handshake over loopback tcp
func handshakePair(t *testing.T, client, server ISecureChannel) (net.Conn, error, net.Conn, error) {
	t.Helper()
	c, s := tcpPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverRes := make(chan handshakeResult, 1)
	go func() {
		conn, err := server.Handshake(ctx, s, RoleResponder)
		if err != nil {
			// unblock the client
			s.Close()
		}
		serverRes <- handshakeResult{conn, err}
	}()

	clientConn, clientErr := client.Handshake(ctx, c, RoleInitiator)
	if clientErr != nil {
		c.Close()
	}
	res := <-serverRes
	return clientConn, clientErr, res.conn, res.err
}

// exchange checks that data written on one side arrives unchanged on the other
func exchange(t *testing.T, a, b net.Conn, size int) {
	t.Helper()
	payload := make([]byte, size)
	_, _ = rand.Read(payload)

	writeErr := make(chan error, 1)
	go func() {
		_, err := a.Write(payload)
		writeErr <- err
	}()

	got := make([]byte, size)
	if _, err := io.ReadFull(b, got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload of %d bytes corrupted", size)
	}
}

func tlsChannels(t *testing.T, mutual bool) (client, server ISecureChannel) {
	t.Helper()
	files, err := testcerts.Generate(t.TempDir())
	if err != nil {
		t.Fatalf("failed to generate certificates: %v", err)
	}
	serverConf, err := LoadServerTLSConfig(files.ServerConf(mutual))
	if err != nil {
		t.Fatalf("LoadServerTLSConfig failed: %v", err)
	}
	clientConf, err := LoadClientTLSConfig(files.ClientConf(mutual))
	if err != nil {
		t.Fatalf("LoadClientTLSConfig failed: %v", err)
	}
	return NewTLSChannel(clientConf), NewTLSChannel(serverConf)
}

func TestHandshakeAndTransfer(t *testing.T) {
	tlsClient, tlsServer := tlsChannels(t, false)
	mtlsClient, mtlsServer := tlsChannels(t, true)

	tests := []struct {
		name   string
		client ISecureChannel
		server ISecureChannel
	}{
		{"Noise", NewNoiseChannel(), NewNoiseChannel()},
		{"TLS", tlsClient, tlsServer},
		{"MutualTLS", mtlsClient, mtlsServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, cErr, s, sErr := handshakePair(t, tt.client, tt.server)
			if cErr != nil || sErr != nil {
				t.Fatalf("handshake failed: client=%v server=%v", cErr, sErr)
			}

			for _, size := range []int{1, 100, noiseMaxPayload, noiseMaxPayload + 1, 300_000} {
				exchange(t, c, s, size)
				exchange(t, s, c, size)
			}
		})
	}
}

func TestNoiseSmallReads(t *testing.T) {
	c, cErr, s, sErr := handshakePair(t, NewNoiseChannel(), NewNoiseChannel())
	if cErr != nil || sErr != nil {
		t.Fatalf("handshake failed: client=%v server=%v", cErr, sErr)
	}

	go func() {
		_, _ = c.Write([]byte("hello noise"))
	}()

	// a message is returned across several reads
	var got []byte
	buf := make([]byte, 3)
	for len(got) < len("hello noise") {
		n, err := s.Read(buf)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "hello noise" {
		t.Errorf("got %q", got)
	}
}

func TestNoiseProtocolViolation(t *testing.T) {
	c, s := net.Pipe()
	defer c.Close()
	defer s.Close()

	go func() {
		// a length prefixed message that is too short for an ephemeral key
		_ = writeNoiseMessage(c, []byte("abc"))
	}()

	_, err := NewNoiseChannel().Handshake(context.Background(), s, RoleResponder)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	tlsClient, tlsServer := tlsChannels(t, false)

	tests := []struct {
		name    string
		channel ISecureChannel
		role    Role
	}{
		{"NoiseResponder", NewNoiseChannel(), RoleResponder},
		{"NoiseInitiator", NewNoiseChannel(), RoleInitiator},
		{"TLSResponder", tlsServer, RoleResponder},
		{"TLSInitiator", tlsClient, RoleInitiator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s := tcpPair(t)

			// the peer reads everything but never answers
			go func() { _, _ = io.Copy(io.Discard, c) }()

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			start := time.Now()
			_, err := tt.channel.Handshake(ctx, s, tt.role)
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("expected ErrTimeout, got %v", err)
			}
			if time.Since(start) > 2*time.Second {
				t.Errorf("handshake took %s to time out", time.Since(start))
			}
		})
	}
}

func TestTLSCertInvalid(t *testing.T) {
	// the client trusts a different CA than the one that signed the server
	_, server := tlsChannels(t, false)
	otherClient, _ := tlsChannels(t, false)

	_, cErr, _, _ := handshakePair(t, otherClient, server)
	if !errors.Is(cErr, ErrCertInvalid) {
		t.Fatalf("expected ErrCertInvalid on the client, got %v", cErr)
	}
}

func TestTLSMissingClientCertificate(t *testing.T) {
	files, err := testcerts.Generate(t.TempDir())
	if err != nil {
		t.Fatalf("failed to generate certificates: %v", err)
	}
	serverConf, err := LoadServerTLSConfig(files.ServerConf(true))
	if err != nil {
		t.Fatalf("LoadServerTLSConfig failed: %v", err)
	}
	clientConf, err := LoadClientTLSConfig(files.ClientConf(false))
	if err != nil {
		t.Fatalf("LoadClientTLSConfig failed: %v", err)
	}

	_, _, _, sErr := handshakePair(t, NewTLSChannel(clientConf), NewTLSChannel(serverConf))
	if !errors.Is(sErr, ErrCertInvalid) {
		t.Fatalf("expected ErrCertInvalid on the server, got %v", sErr)
	}
}

func TestTLSVersionMismatch(t *testing.T) {
	files, err := testcerts.Generate(t.TempDir())
	if err != nil {
		t.Fatalf("failed to generate certificates: %v", err)
	}
	serverConf, err := LoadServerTLSConfig(files.ServerConf(false))
	if err != nil {
		t.Fatalf("LoadServerTLSConfig failed: %v", err)
	}
	clientConf, err := LoadClientTLSConfig(files.ClientConf(false))
	if err != nil {
		t.Fatalf("LoadClientTLSConfig failed: %v", err)
	}

	tests := []struct {
		name   string
		client func(*tls.Config)
		server func(*tls.Config)
	}{
		{"ALPN", func(c *tls.Config) { c.NextProtos = []string{"not-pkv"} }, func(*tls.Config) {}},
		{"Version",
			func(c *tls.Config) { c.MaxVersion = tls.VersionTLS12 },
			func(c *tls.Config) { c.MinVersion = tls.VersionTLS13 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc, sc := clientConf.Clone(), serverConf.Clone()
			tt.client(cc)
			tt.server(sc)

			_, _, _, sErr := handshakePair(t, NewTLSChannel(cc), NewTLSChannel(sc))
			if !errors.Is(sErr, ErrVersionMismatch) {
				t.Fatalf("expected ErrVersionMismatch on the server, got %v", sErr)
			}
		})
	}
}

func TestNewSecureChannel(t *testing.T) {
	files, err := testcerts.Generate(t.TempDir())
	if err != nil {
		t.Fatalf("failed to generate certificates: %v", err)
	}

	noiseChannel, err := NewSecureChannel(commonSecurity("noise", files.ServerConf(false)), true)
	if err != nil || noiseChannel.GetName() != "noise" {
		t.Fatalf("expected a noise channel, got %v (%v)", noiseChannel, err)
	}
	tlsChannel, err := NewSecureChannel(commonSecurity("tls", files.ServerConf(false)), true)
	if err != nil || tlsChannel.GetName() != "tls" {
		t.Fatalf("expected a tls channel, got %v (%v)", tlsChannel, err)
	}
	if _, err := NewSecureChannel(commonSecurity("tls", files.ClientConf(false)), true); err == nil {
		t.Error("expected an error for a tls server without a key pair")
	}
	if _, err := NewSecureChannel(commonSecurity("plain", files.ServerConf(false)), true); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}

func commonSecurity(mode string, conf common.TLSConf) common.SecurityConf {
	return common.SecurityConf{Mode: common.SecurityMode(mode), TLS: conf, HandshakeTimeout: time.Second}
}
