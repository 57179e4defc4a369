package client_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/lib/store"
	storetesting "github.com/ValentinKolb/pKV/lib/store/testing"
	"github.com/ValentinKolb/pKV/rpc/client"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/pubsub"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/ValentinKolb/pKV/rpc/server"
	transporttesting "github.com/ValentinKolb/pKV/rpc/transport/testing"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// startServer runs an RPC server with an in-memory store and returns it
// together with the client config to reach it
func startServer(t *testing.T, setup transporttesting.Setup, s serializer.IRPCSerializer) (*server.RPCServer, common.ClientConfig) {
	t.Helper()

	srv, err := server.NewRPCServer(setup.ServerConfig(), setup.NewServer(), s)
	if err != nil {
		t.Fatalf("NewRPCServer failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("Serve failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}
	t.Cleanup(func() { _ = srv.Close() })

	config := setup.Client
	config.Transport.Endpoints = []string{srv.Addr()}
	config.Timeout = 5 * time.Second
	return srv, config
}

// servedStore is an RPC store that stops its server on Close
type servedStore struct {
	store.IStore
	server *server.RPCServer
}

func (s servedStore) Close() error {
	err := s.IStore.Close()
	_ = s.server.Close()
	return err
}

func newPubSub(t *testing.T, setup transporttesting.Setup, config common.ClientConfig) client.IPubSub {
	t.Helper()
	ps, err := client.NewRPCPubSub(config, setup.NewClient(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewRPCPubSub failed: %v", err)
	}
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func receive(t *testing.T, sub *client.Subscription) pubsub.Notification {
	t.Helper()
	select {
	case n, ok := <-sub.Messages():
		if !ok {
			t.Fatalf("subscription ended: %v", sub.Err())
		}
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}
	return pubsub.Notification{}
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

func TestRPCStore(t *testing.T) {
	for _, setup := range transporttesting.Setups(t) {
		setup := setup
		storetesting.RunStoreTests(t, setup.Name, func() store.IStore {
			s := serializer.NewBinarySerializer()
			srv, config := startServer(t, setup, s)
			rpcStore, err := client.NewRPCStore(config, setup.NewClient(), s)
			if err != nil {
				t.Fatalf("NewRPCStore failed: %v", err)
			}
			return servedStore{IStore: rpcStore, server: srv}
		})
	}
}

func TestRPCStoreSerializers(t *testing.T) {
	setup := transporttesting.Setups(t)[0]
	for _, name := range serializer.Names {
		name := name
		storetesting.RunStoreTests(t, name, func() store.IStore {
			s, err := serializer.New(name)
			if err != nil {
				t.Fatalf("serializer.New failed: %v", err)
			}
			srv, config := startServer(t, setup, s)
			rpcStore, err := client.NewRPCStore(config, setup.NewClient(), s)
			if err != nil {
				t.Fatalf("NewRPCStore failed: %v", err)
			}
			return servedStore{IStore: rpcStore, server: srv}
		})
	}
}

func TestRPCStoreErrors(t *testing.T) {
	setup := transporttesting.Setups(t)[0]
	_, config := startServer(t, setup, serializer.NewBinarySerializer())

	s, err := client.NewRPCStore(config, setup.NewClient(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewRPCStore failed: %v", err)
	}
	defer s.Close()

	t.Run("GetDBInfo", func(t *testing.T) {
		_, err := s.GetDBInfo()
		if !errors.Is(err, store.ErrUnsupportedOperation) {
			t.Errorf("expected ErrUnsupportedOperation, got %v", err)
		}
	})

	t.Run("MSetLengthMismatch", func(t *testing.T) {
		_, _, err := s.MSet([]string{"a"}, nil)
		if !errors.Is(err, store.ErrInvalidOperation) {
			t.Errorf("expected ErrInvalidOperation, got %v", err)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		_, _, err := s.Get("a")
		if !errors.Is(err, store.ErrInternal) {
			t.Errorf("expected ErrInternal after Close, got %v", err)
		}
	})
}

func TestServerMismatchedSerializer(t *testing.T) {
	setup := transporttesting.Setups(t)[0]
	_, config := startServer(t, setup, serializer.NewBinarySerializer())

	s, err := client.NewRPCStore(config, setup.NewClient(), serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("NewRPCStore failed: %v", err)
	}
	defer s.Close()

	// the server cannot decode the request and answers with an error the
	// client cannot decode either
	if _, _, err := s.Get("a"); err == nil {
		t.Error("expected an error for mismatched serializers")
	}
}

// --------------------------------------------------------------------------
// Pub/Sub
// --------------------------------------------------------------------------

func TestPubSub(t *testing.T) {
	for _, setup := range transporttesting.Setups(t) {
		setup := setup
		t.Run(setup.Name, func(t *testing.T) {
			_, config := startServer(t, setup, serializer.NewBinarySerializer())
			ps := newPubSub(t, setup, config)

			sub, err := ps.Subscribe(context.Background(), "news")
			if err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
			defer sub.Close()
			if sub.ID() == "" {
				t.Fatal("expected a subscription id")
			}

			delivered, err := ps.Publish("news", []byte("hello"))
			if err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
			if delivered != 1 {
				t.Errorf("expected 1 delivery, got %d", delivered)
			}

			n := receive(t, sub)
			if n.Topic != "news" || string(n.Payload) != "hello" {
				t.Errorf("unexpected notification %s:%q", n.Topic, n.Payload)
			}

			// a topic without subscribers delivers nothing
			if delivered, err := ps.Publish("other", []byte("x")); err != nil || delivered != 0 {
				t.Errorf("expected 0 deliveries, got %d (err=%v)", delivered, err)
			}
		})
	}
}

func TestSubscriptionTopics(t *testing.T) {
	setup := transporttesting.Setups(t)[0]
	_, config := startServer(t, setup, serializer.NewBinarySerializer())
	ps := newPubSub(t, setup, config)

	sub, err := ps.Subscribe(context.Background(), "a")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	id, err := sub.Subscribe("b")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if id != sub.ID() {
		t.Errorf("expected the stream to keep its id, got %s and %s", id, sub.ID())
	}

	if _, err := ps.Publish("b", []byte("on b")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if n := receive(t, sub); n.Topic != "b" {
		t.Errorf("expected a notification on b, got %s", n.Topic)
	}

	removed, err := sub.Unsubscribe("a")
	if err != nil || !removed {
		t.Fatalf("Unsubscribe failed: removed=%v err=%v", removed, err)
	}
	removed, err = sub.Unsubscribe("a")
	if err != nil || removed {
		t.Errorf("expected a second Unsubscribe to report false, got %v (err=%v)", removed, err)
	}

	if delivered, _ := ps.Publish("a", []byte("x")); delivered != 0 {
		t.Errorf("expected no delivery after Unsubscribe, got %d", delivered)
	}
	if delivered, _ := ps.Publish("b", []byte("still")); delivered != 1 {
		t.Errorf("expected b to stay subscribed, got %d deliveries", delivered)
	}
	if n := receive(t, sub); string(n.Payload) != "still" {
		t.Errorf("unexpected payload %q", n.Payload)
	}
}

func TestUnsubscribeByID(t *testing.T) {
	setup := transporttesting.Setups(t)[0]
	_, config := startServer(t, setup, serializer.NewBinarySerializer())
	ps := newPubSub(t, setup, config)

	sub, err := ps.Subscribe(context.Background(), "news")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	removed, err := ps.UnsubscribeByID("news", sub.ID())
	if err != nil || !removed {
		t.Fatalf("UnsubscribeByID failed: removed=%v err=%v", removed, err)
	}
	if delivered, _ := ps.Publish("news", []byte("x")); delivered != 0 {
		t.Errorf("expected no delivery, got %d", delivered)
	}

	if removed, err := ps.UnsubscribeByID("news", "unknown"); err != nil || removed {
		t.Errorf("expected an unknown id to report false, got %v (err=%v)", removed, err)
	}
	if _, err := ps.UnsubscribeByID("news", ""); err == nil {
		t.Error("expected an empty id to be rejected")
	}
}

func TestSubscriptionSlowReader(t *testing.T) {
	setup := transporttesting.Setups(t)[0]
	_, config := startServer(t, setup, serializer.NewBinarySerializer())
	ps := newPubSub(t, setup, config)

	sub, err := ps.Subscribe(context.Background(), "news")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	// Messages is never drained while publishing
	const published = 300
	for i := 0; i < published; i++ {
		if _, err := ps.Publish("news", []byte(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	removed, err := sub.Unsubscribe("news")
	if err != nil {
		t.Fatalf("Unsubscribe failed behind undelivered notifications: %v", err)
	}
	if !removed {
		t.Error("expected the topic to be removed")
	}
	if _, err := sub.Subscribe("other"); err != nil {
		t.Fatalf("subscription unusable after a full buffer: %v", err)
	}

	buffered := len(sub.Messages())
	if buffered > 128 {
		t.Errorf("expected at most 128 buffered notifications, got %d", buffered)
	}
	if uint64(buffered)+sub.Dropped() > published {
		t.Errorf("buffered %d + dropped %d exceeds %d published", buffered, sub.Dropped(), published)
	}
	if n := receive(t, sub); n.Topic != "news" {
		t.Errorf("expected a buffered notification on news, got %s", n.Topic)
	}
}

func TestSubscriptionClose(t *testing.T) {
	setup := transporttesting.Setups(t)[0]
	srv, config := startServer(t, setup, serializer.NewBinarySerializer())
	ps := newPubSub(t, setup, config)

	sub, err := ps.Subscribe(context.Background(), "news")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := sub.Subscribe("other"); !errors.Is(err, client.ErrSubscriptionClosed) {
		t.Errorf("expected ErrSubscriptionClosed, got %v", err)
	}

	// the server drops the registrations once the stream ended
	deadline := time.Now().Add(5 * time.Second)
	for srv.Broadcaster().Subscribers("news") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription was not torn down")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Messages is closed after Close
	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Error("expected no notification after Close")
		}
	case <-time.After(5 * time.Second):
		t.Error("Messages was not closed")
	}
}
