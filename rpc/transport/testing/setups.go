package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/security/testcerts"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/ValentinKolb/pKV/rpc/transport/quic"
	"github.com/ValentinKolb/pKV/rpc/transport/tcp"
	"github.com/ValentinKolb/pKV/rpc/transport/unix"
)

// Setup is one transport and security combination
type Setup struct {
	Name      string
	Server    common.ServerConfig
	Client    common.ClientConfig
	NewServer func() transport.IRPCServerTransport
	NewClient func() transport.IRPCClientTransport

	sockDir string
}

// servers numbers the unix sockets of a test binary
var servers atomic.Uint64

// Setups returns tcp+noise, tcp+tls (mutual), unix+noise and quic+tls
func Setups(t testing.TB) []Setup {
	t.Helper()

	files, err := testcerts.Generate(t.TempDir())
	if err != nil {
		t.Fatalf("failed to generate certificates: %v", err)
	}

	// unix socket paths are limited to ~100 bytes, t.TempDir() can be longer
	sockDir, err := os.MkdirTemp("", "pkv")
	if err != nil {
		t.Fatalf("failed to create socket dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })

	noise := common.SecurityConf{Mode: common.SecurityNoise, HandshakeTimeout: 5 * time.Second}
	serverTLS := common.SecurityConf{Mode: common.SecurityTLS, TLS: files.ServerConf(true), HandshakeTimeout: 5 * time.Second}
	clientTLS := common.SecurityConf{Mode: common.SecurityTLS, TLS: files.ClientConf(true), HandshakeTimeout: 5 * time.Second}

	unixSetup := newSetup("Unix+Noise", common.TransportUnix, "", noise, noise,
		unix.NewUnixServerTransport, unix.NewUnixClientTransport)
	unixSetup.sockDir = sockDir

	return []Setup{
		newSetup("TCP+Noise", common.TransportTCP, "127.0.0.1:0", noise, noise,
			tcp.NewTCPServerTransport, tcp.NewTCPClientTransport),
		newSetup("TCP+TLS", common.TransportTCP, "127.0.0.1:0", serverTLS, clientTLS,
			tcp.NewTCPServerTransport, tcp.NewTCPClientTransport),
		unixSetup,
		newSetup("QUIC+TLS", common.TransportQUIC, "127.0.0.1:0", serverTLS, clientTLS,
			quic.NewQUICServerTransport, quic.NewQUICClientTransport),
	}
}

func newSetup(
	name string,
	kind common.TransportKind,
	endpoint string,
	serverSec, clientSec common.SecurityConf,
	newServer func() transport.IRPCServerTransport,
	newClient func() transport.IRPCClientTransport,
) Setup {
	serverConfig := common.DefaultServerConfig()
	serverConfig.Transport.Kind = kind
	serverConfig.Transport.Endpoint = endpoint
	serverConfig.Security = serverSec

	clientConfig := common.DefaultClientConfig()
	clientConfig.Transport.Kind = kind
	clientConfig.Security = clientSec

	return Setup{
		Name:      name,
		Server:    serverConfig,
		Client:    clientConfig,
		NewServer: newServer,
		NewClient: newClient,
	}
}

// ServerConfig returns the server configuration of the setup. Every call
// returns a fresh socket path for unix setups.
func (s Setup) ServerConfig() common.ServerConfig {
	config := s.Server
	if s.sockDir != "" {
		config.Transport.Endpoint = filepath.Join(s.sockDir, fmt.Sprintf("pkv-%d.sock", servers.Add(1)))
	}
	return config
}

// Serve starts a server transport with handler and returns the address to
// dial. The server is closed when the test ends.
func (s Setup) Serve(t testing.TB, handler transport.StreamHandleFunc) string {
	t.Helper()

	server := s.NewServer()
	server.RegisterHandler(handler)

	config := s.ServerConfig()
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(context.Background(), config)
	}()

	select {
	case <-server.Ready():
	case err := <-errCh:
		t.Fatalf("Listen failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not become ready")
	}

	t.Cleanup(func() {
		_ = server.Close()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Listen returned %v", err)
		}
	})
	return server.Addr().String()
}

// Dial connects a client transport to addr. The client is closed when the test ends.
func (s Setup) Dial(t testing.TB, addr string) transport.IRPCClientTransport {
	t.Helper()

	config := s.Client
	config.Transport.Endpoints = []string{addr}

	client := s.NewClient()
	if err := client.Connect(config); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
