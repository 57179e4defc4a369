package transport_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/multiplex"
	"github.com/ValentinKolb/pKV/rpc/security"
	"github.com/ValentinKolb/pKV/rpc/transport/base"
	transporttesting "github.com/ValentinKolb/pKV/rpc/transport/testing"
)

// echo copies everything it reads back to the stream
func echo(_ context.Context, stream multiplex.IStream) {
	_, _ = io.Copy(stream, stream)
}

func roundTrip(stream multiplex.IStream, payload []byte) error {
	if _, err := stream.Write(payload); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(stream, got); err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	if !bytes.Equal(got, payload) {
		return fmt.Errorf("payload mismatch")
	}
	return nil
}

func TestEcho(t *testing.T) {
	for _, setup := range transporttesting.Setups(t) {
		t.Run(setup.Name, func(t *testing.T) {
			addr := setup.Serve(t, echo)
			client := setup.Dial(t, addr)

			const streams = 16
			var wg sync.WaitGroup
			errCh := make(chan error, streams)
			for i := 0; i < streams; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()

					stream, err := client.OpenStream(ctx)
					if err != nil {
						errCh <- err
						return
					}
					defer stream.Close()
					_ = stream.SetDeadline(time.Now().Add(5 * time.Second))

					payload := bytes.Repeat([]byte{byte(i)}, 64*1024)
					errCh <- roundTrip(stream, payload)
				}(i)
			}
			wg.Wait()
			close(errCh)
			for err := range errCh {
				if err != nil {
					t.Errorf("stream failed: %v", err)
				}
			}
		})
	}
}

func TestHandlerContextCancelledOnClose(t *testing.T) {
	setup := transporttesting.Setups(t)[0]

	started := make(chan struct{})
	cancelled := make(chan struct{})
	server := setup.NewServer()
	server.RegisterHandler(func(ctx context.Context, stream multiplex.IStream) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen(context.Background(), setup.ServerConfig()) }()
	select {
	case <-server.Ready():
	case err := <-errCh:
		t.Fatalf("Listen failed: %v", err)
	}

	client := setup.Dial(t, server.Addr().String())
	stream, err := client.OpenStream(context.Background())
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()
	// yamux announces the stream with the first frame
	if _, err := stream.Write([]byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case <-cancelled:
	default:
		t.Fatal("Close returned before the handler finished")
	}
	if err := <-errCh; err != nil {
		t.Errorf("Listen returned %v after Close", err)
	}
}

func TestClientClosed(t *testing.T) {
	setup := transporttesting.Setups(t)[0]
	client := setup.Dial(t, setup.Serve(t, echo))

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := client.OpenStream(context.Background()); !errors.Is(err, base.ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
}

func TestConnectNoServer(t *testing.T) {
	setup := transporttesting.Setups(t)[0]

	config := setup.Client
	config.Transport.Endpoints = []string{"127.0.0.1:1"}
	config.Timeout = time.Second

	client := setup.NewClient()
	if err := client.Connect(config); err == nil {
		_ = client.Close()
		t.Fatal("expected Connect to fail without a server")
	}
}

func TestConnectUntrustedServer(t *testing.T) {
	var tlsSetup transporttesting.Setup
	for _, setup := range transporttesting.Setups(t) {
		if setup.Name == "TCP+TLS" {
			tlsSetup = setup
		}
	}
	addr := tlsSetup.Serve(t, echo)

	// certificates of a different CA
	other := transporttesting.Setups(t)
	config := tlsSetup.Client
	for _, setup := range other {
		if setup.Name == "TCP+TLS" {
			config.Security = setup.Client.Security
		}
	}
	config.Transport.Endpoints = []string{addr}

	client := tlsSetup.NewClient()
	err := client.Connect(config)
	if err == nil {
		_ = client.Close()
		t.Fatal("expected Connect to fail for an untrusted server")
	}
	if !errors.Is(err, security.ErrCertInvalid) {
		t.Errorf("expected ErrCertInvalid, got %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	setup := transporttesting.Setups(t)[0]

	config := setup.Client
	config.Transport.Kind = common.TransportQUIC
	config.Security = common.SecurityConf{Mode: common.SecurityNoise}
	config.Transport.Endpoints = []string{"127.0.0.1:1"}

	if err := setup.NewClient().Connect(config); err == nil {
		t.Error("expected quic with noise to be rejected")
	}
}
