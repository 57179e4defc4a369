package server

import (
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/pubsub"
)

// NewPubSubServerAdapter creates the adapter translating pub/sub requests
// into broadcaster calls
func NewPubSubServerAdapter(b *pubsub.Broadcaster) IRPCServerAdapter {
	return &pubSubServerAdapterImpl{broadcaster: b}
}

type pubSubServerAdapterImpl struct {
	broadcaster *pubsub.Broadcaster
}

func (adapter *pubSubServerAdapterImpl) Handle(req *common.Message, state *StreamState) *common.Message {
	b := adapter.broadcaster

	switch req.MsgType {
	case common.MsgTPublish:
		return common.NewPublishResponse(b.Publish(req.Key, req.Value))

	case common.MsgTSubscribe:
		// all topics of a stream share one subscriber
		if state.Subscriber == nil {
			state.Subscriber = b.NewSubscriber()
		}
		b.Subscribe(req.Key, state.Subscriber)
		return common.NewSubscribeResponse(req.Key, state.Subscriber.ID())

	case common.MsgTUnsubscribe:
		// an explicit id may come from any stream, without one the
		// subscription of this stream is meant
		subID := string(req.Value)
		if subID == "" {
			if state.Subscriber == nil {
				return common.NewUnsubscribeResponse(req.Key, false)
			}
			subID = state.Subscriber.ID()
		}
		return common.NewUnsubscribeResponse(req.Key, b.Unsubscribe(req.Key, subID))

	default:
		return common.NewErrorResponse(common.ErrCUnsupported, "unsupported message type "+req.MsgType.String())
	}
}
