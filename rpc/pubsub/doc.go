// Package pubsub implements the topic registry and fan-out of the pKV
// publish/subscribe commands.
//
// A Subscriber belongs to one server stream. Its topics share a single
// bounded delivery channel that the stream drains and writes out as
// notifications. Publish does a non-blocking send to every subscriber of the
// topic and drops the notification for subscribers whose channel is full, so
// a slow subscriber never stalls a publisher or other subscribers. The
// number of successful deliveries is returned to the publisher.
//
// Ordering: notifications of one publisher on one topic reach a subscriber in
// publish order. There is no ordering across publishers or topics.
//
// Registries are lock free (github.com/puzpuzpuz/xsync/v3). Delivery channels
// are never closed by the registry; the owning stream stops reading them after
// Teardown.
package pubsub
