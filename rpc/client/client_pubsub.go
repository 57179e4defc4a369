package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/frame"
	"github.com/ValentinKolb/pKV/rpc/multiplex"
	"github.com/ValentinKolb/pKV/rpc/pubsub"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/ValentinKolb/pKV/rpc/transport"
)

// ErrSubscriptionClosed is returned by the commands of a closed subscription
var ErrSubscriptionClosed = errors.New("subscription closed")

// notificationBuffer is the number of notifications a subscription buffers.
// Further notifications are dropped until Messages is drained.
const notificationBuffer = 128

// IPubSub is the client side of the topic broadcast
type IPubSub interface {
	// Publish sends payload to every current subscriber of topic and returns
	// how many subscribers it was handed to.
	Publish(topic string, payload []byte) (delivered int, err error)

	// Subscribe opens a dedicated stream and subscribes it to topic.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)

	// UnsubscribeByID removes the subscription with the given id from topic.
	// It may be called from any client.
	UnsubscribeByID(topic, subscriptionID string) (removed bool, err error)

	// Close closes all pooled streams and the transport.
	Close() error
}

// NewRPCPubSub creates a new RPC pub/sub client
func NewRPCPubSub(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (IPubSub, error) {
	adapter, err := newClientAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcPubSub{adapter}, nil
}

type rpcPubSub struct {
	rpcClientAdapter
}

func (p *rpcPubSub) Publish(topic string, payload []byte) (int, error) {
	resp, err := p.invokeRPCRequest(common.NewPublishRequest(topic, payload))
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (p *rpcPubSub) UnsubscribeByID(topic, subscriptionID string) (bool, error) {
	if subscriptionID == "" {
		return false, fmt.Errorf("empty subscription id")
	}
	resp, err := p.invokeRPCRequest(common.NewUnsubscribeRequest(topic, subscriptionID))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (p *rpcPubSub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	stream, err := p.transport.OpenStream(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		stream:     stream,
		codec:      frame.NewCodec(stream, p.frameConfig),
		serializer: p.serializer,
		timeout:    p.config.Timeout,
		messages:   make(chan pubsub.Notification, notificationBuffer),
		acks:       make(chan *common.Message, 1),
		done:       make(chan struct{}),
	}
	go sub.readLoop()

	if _, err := sub.Subscribe(topic); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

func (p *rpcPubSub) Close() error {
	return p.close()
}

// --------------------------------------------------------------------------
// Subscription
// --------------------------------------------------------------------------

// Subscription is a stream in subscribed mode. The stream carries the
// acknowledgements of the commands sent on it and the notifications of all
// topics it is subscribed to. Notifications are read from Messages, the
// channel is closed when the stream ends. Delivery is best effort: a
// notification that finds Messages full is dropped and counted, so a slow
// reader never holds back the acknowledgements of later commands.
type Subscription struct {
	stream     multiplex.IStream
	codec      *frame.Codec
	serializer serializer.IRPCSerializer
	timeout    time.Duration

	cmdMu    sync.Mutex // one command in flight
	messages chan pubsub.Notification
	acks     chan *common.Message
	done     chan struct{}
	dropped  atomic.Uint64

	mu        sync.Mutex
	id        string
	err       error
	closeOnce sync.Once
}

// ID returns the subscription id assigned by the server
func (s *Subscription) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Messages returns the notifications of the subscribed topics
func (s *Subscription) Messages() <-chan pubsub.Notification {
	return s.messages
}

// Dropped returns how many notifications were dropped because Messages was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Err returns the error that ended the stream, nil after Close
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe adds topic to the subscription and returns the subscription id
func (s *Subscription) Subscribe(topic string) (string, error) {
	resp, err := s.command(common.NewSubscribeRequest(topic))
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.id = string(resp.Value)
	s.mu.Unlock()
	return string(resp.Value), nil
}

// Unsubscribe removes topic from the subscription. The stream stays
// subscribed to its other topics.
func (s *Subscription) Unsubscribe(topic string) (bool, error) {
	resp, err := s.command(common.NewUnsubscribeRequest(topic, ""))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// Close ends the stream, the server drops every registration of it
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.stream.Close()
	})
	return err
}

// command sends req and waits for its acknowledgement
func (s *Subscription) command(req *common.Message) (*common.Message, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	select {
	case <-s.done:
		return nil, ErrSubscriptionClosed
	default:
	}

	payload, err := s.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}
	if err := s.codec.WriteFrame(payload); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", req.MsgType, err)
	}

	var timeout <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case resp, ok := <-s.acks:
		if !ok {
			return nil, s.endError()
		}
		if err := resp.CommandError(); err != nil {
			return nil, err
		}
		if resp.MsgType != req.MsgType {
			return nil, fmt.Errorf("unexpected message type %s, expected %s", resp.MsgType, req.MsgType)
		}
		return resp, nil
	case <-s.done:
		return nil, ErrSubscriptionClosed
	case <-timeout:
		// a late acknowledgement would be taken for the next one
		_ = s.Close()
		return nil, fmt.Errorf("%s timed out after %s", req.MsgType, s.timeout)
	}
}

// endError returns why the stream ended
func (s *Subscription) endError() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrSubscriptionClosed
}

// readLoop routes notifications to Messages and everything else to the
// waiting command
func (s *Subscription) readLoop() {
	defer close(s.messages)
	defer close(s.acks)

	for {
		payload, err := s.codec.ReadFrame()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				Logger.Debugf("subscription %s ended: %v", s.ID(), err)
			}
			return
		}

		msg := &common.Message{}
		if err := s.serializer.Deserialize(payload, msg); err != nil {
			Logger.Warningf("subscription %s: dropping undecodable frame: %v", s.ID(), err)
			continue
		}

		if msg.MsgType == common.MsgTNotification {
			select {
			case s.messages <- pubsub.Notification{Topic: msg.Key, Payload: msg.Value}:
			default:
				if s.dropped.Add(1) == 1 {
					Logger.Warningf("subscription %s: notification buffer full, dropping notifications", s.ID())
				}
				common.IncCounter("subscription_dropped", "", 1)
			}
			continue
		}

		select {
		case s.acks <- msg:
		case <-s.done:
			return
		}
	}
}
