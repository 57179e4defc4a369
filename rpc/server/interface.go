package server

import (
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/pubsub"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// An adapter handles the requests of one message family (storage or pub/sub).
type IRPCServerAdapter interface {
	// Handle handles a request and returns exactly one response.
	// Failures are reported as an error response, never as a Go error.
	Handle(req *common.Message, state *StreamState) (resp *common.Message)
}

// StreamState is the state of one served stream, shared by the adapters
// handling the requests of that stream
type StreamState struct {
	// Subscriber is created by the first Subscribe on the stream. Once it is
	// set the stream delivers notifications next to the responses.
	Subscriber *pubsub.Subscriber
}
