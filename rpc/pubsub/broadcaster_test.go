package pubsub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/pKV/rpc/common"
)

func TestPublishDeliveryCount(t *testing.T) {
	b := NewBroadcaster(4)
	subs := []*Subscriber{b.NewSubscriber(), b.NewSubscriber(), b.NewSubscriber()}
	for _, sub := range subs {
		b.Subscribe("news", sub)
	}
	other := b.NewSubscriber()
	b.Subscribe("weather", other)

	tests := []struct {
		name  string
		topic string
		want  int
	}{
		{"AllSubscribers", "news", 3},
		{"SingleSubscriber", "weather", 1},
		{"UnknownTopic", "sports", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Publish(tt.topic, []byte("payload")); got != tt.want {
				t.Errorf("Publish(%q) = %d, want %d", tt.topic, got, tt.want)
			}
		})
	}

	for i, sub := range subs {
		select {
		case n := <-sub.Deliveries():
			if n.Topic != "news" || string(n.Payload) != "payload" {
				t.Errorf("subscriber %d got %+v", i, n)
			}
		default:
			t.Errorf("subscriber %d got nothing", i)
		}
	}

	// topic isolation
	select {
	case n := <-other.Deliveries():
		if n.Topic != "weather" {
			t.Errorf("weather subscriber got a notification for %q", n.Topic)
		}
	default:
		t.Error("weather subscriber got nothing")
	}
	if len(other.Deliveries()) != 0 {
		t.Error("weather subscriber got more than one notification")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroadcaster(2)
	slow := b.NewSubscriber()
	fast := b.NewSubscriber()
	b.Subscribe("t", slow)
	b.Subscribe("t", fast)

	before := common.CounterValue("pubsub_dropped", "")

	results := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		results = append(results, b.Publish("t", []byte(fmt.Sprint(i))))
		// fast keeps up
		<-fast.Deliveries()
	}

	want := []int{2, 2, 1}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("publish %d delivered to %d subscribers, want %d", i, results[i], want[i])
		}
	}
	if got := common.CounterValue("pubsub_dropped", "") - before; got != 1 {
		t.Errorf("dropped counter increased by %d, want 1", got)
	}

	// the slow subscriber kept the first two, in order
	for _, want := range []string{"0", "1"} {
		if n := <-slow.Deliveries(); string(n.Payload) != want {
			t.Errorf("got %q, want %q", n.Payload, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.NewSubscriber()
	b.Subscribe("a", sub)
	b.Subscribe("b", sub)

	if !b.Unsubscribe("a", sub.ID()) {
		t.Fatal("expected the first Unsubscribe to remove the registration")
	}
	if b.Unsubscribe("a", sub.ID()) {
		t.Error("expected a second Unsubscribe to be a no-op")
	}
	if b.Unsubscribe("unknown", sub.ID()) {
		t.Error("expected Unsubscribe on an unknown topic to be a no-op")
	}
	if b.Unsubscribe("b", "not-an-id") {
		t.Error("expected Unsubscribe with an unknown id to be a no-op")
	}

	if got := b.Publish("a", nil); got != 0 {
		t.Errorf("Publish after Unsubscribe delivered to %d subscribers", got)
	}
	if got := b.Publish("b", nil); got != 1 {
		t.Errorf("Publish on the remaining topic delivered to %d subscribers", got)
	}
	if topics := sub.Topics(); len(topics) != 1 || topics[0] != "b" {
		t.Errorf("subscriber topics = %v, want [b]", topics)
	}

	// empty topics are retained
	if topics := b.Topics(); len(topics) != 2 {
		t.Errorf("Topics() = %v, want both topics", topics)
	}
	if got := b.Subscribers("a"); got != 0 {
		t.Errorf("Subscribers(a) = %d, want 0", got)
	}
}

func TestTeardown(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.NewSubscriber()
	stay := b.NewSubscriber()
	for _, topic := range []string{"x", "y", "z"} {
		b.Subscribe(topic, sub)
	}
	b.Subscribe("x", stay)

	b.Teardown(sub)

	for _, topic := range []string{"x", "y", "z"} {
		want := 0
		if topic == "x" {
			want = 1
		}
		if got := b.Publish(topic, nil); got != want {
			t.Errorf("Publish(%q) after teardown delivered to %d, want %d", topic, got, want)
		}
	}
	if removed := b.Unsubscribe("y", sub.ID()); removed {
		t.Error("expected no registration of the subscriber after teardown")
	}
	if len(sub.Topics()) != 0 {
		t.Errorf("expected no topics after teardown, got %v", sub.Topics())
	}

	// teardown twice is harmless
	b.Teardown(sub)
}

func TestConcurrentPublishAndTeardown(t *testing.T) {
	b := NewBroadcaster(8)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish("load", []byte("x"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub := b.NewSubscriber()
				b.Subscribe("load", sub)
				b.Teardown(sub)
			}
		}()
	}
	wg.Wait()

	if got := b.Subscribers("load"); got != 0 {
		t.Errorf("expected no subscribers left, got %d", got)
	}
}

func TestNewSubscriberDefaults(t *testing.T) {
	sub := NewSubscriber(0)
	if cap(sub.ch) != DefaultDeliveryBuffer {
		t.Errorf("buffer = %d, want %d", cap(sub.ch), DefaultDeliveryBuffer)
	}
	if NewSubscriber(1).ID() == sub.ID() {
		t.Error("subscriber ids must be unique")
	}
}
