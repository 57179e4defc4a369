package pubsub

import (
	"sort"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("pubsub")

// DefaultDeliveryBuffer is the capacity of a delivery channel
const DefaultDeliveryBuffer = 128

// Notification is one published message as seen by a subscriber
type Notification struct {
	Topic   string
	Payload []byte
}

// --------------------------------------------------------------------------
// Subscriber
// --------------------------------------------------------------------------

// Subscriber is the delivery endpoint of one subscribed stream. All topics
// of a subscriber share its bounded delivery channel.
type Subscriber struct {
	id     string
	ch     chan Notification
	topics *xsync.MapOf[string, struct{}]
}

// NewSubscriber creates a subscriber with a random id
func NewSubscriber(bufferSize int) *Subscriber {
	if bufferSize < 1 {
		bufferSize = DefaultDeliveryBuffer
	}
	return &Subscriber{
		id:     uuid.NewString(),
		ch:     make(chan Notification, bufferSize),
		topics: xsync.NewMapOf[string, struct{}](),
	}
}

// ID returns the subscription id
func (s *Subscriber) ID() string {
	return s.id
}

// Deliveries returns the delivery channel. It is never closed.
func (s *Subscriber) Deliveries() <-chan Notification {
	return s.ch
}

// Topics returns the topics the subscriber is registered for, sorted
func (s *Subscriber) Topics() []string {
	topics := make([]string, 0, s.topics.Size())
	s.topics.Range(func(topic string, _ struct{}) bool {
		topics = append(topics, topic)
		return true
	})
	sort.Strings(topics)
	return topics
}

// --------------------------------------------------------------------------
// Broadcaster
// --------------------------------------------------------------------------

// Broadcaster is the topic registry shared by every stream of a server.
//
// Delivery is at-most-once and best effort: Publish never blocks, a
// notification for a subscriber whose channel is full is dropped. Topics are
// kept when their last subscriber leaves.
type Broadcaster struct {
	topics     *xsync.MapOf[string, *xsync.MapOf[string, *Subscriber]]
	bufferSize int
}

// NewBroadcaster creates an empty registry. bufferSize is the delivery
// channel capacity of subscribers created with NewSubscriber.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize < 1 {
		bufferSize = DefaultDeliveryBuffer
	}
	return &Broadcaster{
		topics:     xsync.NewMapOf[string, *xsync.MapOf[string, *Subscriber]](),
		bufferSize: bufferSize,
	}
}

// NewSubscriber creates a subscriber with the configured buffer size
func (b *Broadcaster) NewSubscriber() *Subscriber {
	return NewSubscriber(b.bufferSize)
}

// Subscribe registers sub for topic. Subscribing twice is a no-op.
func (b *Broadcaster) Subscribe(topic string, sub *Subscriber) {
	set, _ := b.topics.LoadOrCompute(topic, func() *xsync.MapOf[string, *Subscriber] {
		return xsync.NewMapOf[string, *Subscriber]()
	})
	set.Store(sub.id, sub)
	sub.topics.Store(topic, struct{}{})
	Logger.Debugf("subscriber %s joined topic %q", sub.id, topic)
}

// Unsubscribe removes the subscription subID from topic. It reports whether
// a registration was removed, removing an unknown one is not an error.
func (b *Broadcaster) Unsubscribe(topic, subID string) bool {
	set, ok := b.topics.Load(topic)
	if !ok {
		return false
	}
	sub, loaded := set.LoadAndDelete(subID)
	if !loaded {
		return false
	}
	sub.topics.Delete(topic)
	Logger.Debugf("subscriber %s left topic %q", subID, topic)
	return true
}

// Publish offers payload to every subscriber of topic and returns the number
// of subscribers it was delivered to. The payload is shared, not copied.
func (b *Broadcaster) Publish(topic string, payload []byte) int {
	span := common.StartSpan("publish", "")
	defer span.End(nil)

	set, ok := b.topics.Load(topic)
	if !ok {
		return 0
	}

	delivered, dropped := 0, 0
	n := Notification{Topic: topic, Payload: payload}
	set.Range(func(id string, sub *Subscriber) bool {
		select {
		case sub.ch <- n:
			delivered++
		default:
			dropped++
			Logger.Debugf("dropped notification on topic %q for subscriber %s: delivery buffer full", topic, id)
		}
		return true
	})

	if dropped > 0 {
		common.IncCounter("pubsub_dropped", "", dropped)
	}
	return delivered
}

// Teardown removes every registration of sub. The delivery channel is left
// open, a publish racing with the teardown may still deliver into it.
func (b *Broadcaster) Teardown(sub *Subscriber) {
	sub.topics.Range(func(topic string, _ struct{}) bool {
		if set, ok := b.topics.Load(topic); ok {
			set.Delete(sub.id)
		}
		sub.topics.Delete(topic)
		return true
	})
	Logger.Debugf("subscriber %s torn down", sub.id)
}

// Subscribers returns the number of subscribers of topic
func (b *Broadcaster) Subscribers(topic string) int {
	set, ok := b.topics.Load(topic)
	if !ok {
		return 0
	}
	return set.Size()
}

// Topics returns every known topic, including topics without subscribers
func (b *Broadcaster) Topics() []string {
	topics := make([]string, 0, b.topics.Size())
	b.topics.Range(func(topic string, _ *xsync.MapOf[string, *Subscriber]) bool {
		topics = append(topics, topic)
		return true
	})
	sort.Strings(topics)
	return topics
}
