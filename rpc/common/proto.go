package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for requests, responses and
// server pushed notifications. Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key    string   `json:"key,omitempty"`    // Used for: Get, Set, Del, Exist (key); Publish, Subscribe, Unsubscribe, Notification (topic)
	Keys   []string `json:"keys,omitempty"`   // Used for: Mget, Mset, Mdel, Mexist (request), Getall (response)
	Value  []byte   `json:"value,omitempty"`  // Used for: Set, Publish, Notification; Get, Set, Del (response); subscription id
	Values [][]byte `json:"values,omitempty"` // Used for: Mset (request); Mget, Mset, Mdel, Getall (response)

	// Response only fields
	Found []bool    `json:"found,omitempty"` // Used for: Mget, Mset, Mdel, Mexist responses
	Ok    bool      `json:"ok,omitempty"`    // Used for: Get, Set, Del, Exist, Subscribe, Unsubscribe responses
	Count uint64    `json:"count,omitempty"` // Used for: Publish responses (delivered subscribers)
	Code  ErrorCode `json:"code,omitempty"`  // Error kind, ErrCNone on success
	Err   string    `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message
}

// CommandError returns the typed error of an error response or nil
func (m *Message) CommandError() error {
	if m.MsgType != MsgTError && m.Err == "" {
		return nil
	}
	code := m.Code
	if code == ErrCNone {
		code = ErrCBackend
	}
	return &CommandError{Code: code, Msg: m.Err}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{MsgType: MsgTGet, Key: key}
}

// NewGetResponse creates a new Get response. A miss is ok=false, not an error.
func NewGetResponse(value []byte, ok bool) *Message {
	return &Message{MsgType: MsgTGet, Value: value, Ok: ok}
}

// NewGetAllRequest creates a new Getall request
func NewGetAllRequest() *Message {
	return &Message{MsgType: MsgTGetAll}
}

// NewGetAllResponse creates a new Getall response
func NewGetAllResponse(keys []string, values [][]byte) *Message {
	return &Message{MsgType: MsgTGetAll, Keys: keys, Values: values}
}

// NewMGetRequest creates a new Mget request
func NewMGetRequest(keys []string) *Message {
	return &Message{MsgType: MsgTMGet, Keys: keys}
}

// NewMGetResponse creates a new Mget response
func NewMGetResponse(values [][]byte, found []bool) *Message {
	return &Message{MsgType: MsgTMGet, Values: values, Found: found}
}

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{MsgType: MsgTSet, Key: key, Value: value}
}

// NewSetResponse creates a new Set response carrying the previous value
func NewSetResponse(prev []byte, ok bool) *Message {
	return &Message{MsgType: MsgTSet, Value: prev, Ok: ok}
}

// NewMSetRequest creates a new Mset request, keys and values are paired by index
func NewMSetRequest(keys []string, values [][]byte) *Message {
	return &Message{MsgType: MsgTMSet, Keys: keys, Values: values}
}

// NewMSetResponse creates a new Mset response carrying the previous values
func NewMSetResponse(prevs [][]byte, found []bool) *Message {
	return &Message{MsgType: MsgTMSet, Values: prevs, Found: found}
}

// NewDelRequest creates a new Del request
func NewDelRequest(key string) *Message {
	return &Message{MsgType: MsgTDel, Key: key}
}

// NewDelResponse creates a new Del response carrying the removed value
func NewDelResponse(prev []byte, ok bool) *Message {
	return &Message{MsgType: MsgTDel, Value: prev, Ok: ok}
}

// NewMDelRequest creates a new Mdel request
func NewMDelRequest(keys []string) *Message {
	return &Message{MsgType: MsgTMDel, Keys: keys}
}

// NewMDelResponse creates a new Mdel response carrying the removed values
func NewMDelResponse(prevs [][]byte, found []bool) *Message {
	return &Message{MsgType: MsgTMDel, Values: prevs, Found: found}
}

// NewExistRequest creates a new Exist request
func NewExistRequest(key string) *Message {
	return &Message{MsgType: MsgTExist, Key: key}
}

// NewExistResponse creates a new Exist response
func NewExistResponse(ok bool) *Message {
	return &Message{MsgType: MsgTExist, Ok: ok}
}

// NewMExistRequest creates a new Mexist request
func NewMExistRequest(keys []string) *Message {
	return &Message{MsgType: MsgTMExist, Keys: keys}
}

// NewMExistResponse creates a new Mexist response
func NewMExistResponse(found []bool) *Message {
	return &Message{MsgType: MsgTMExist, Found: found}
}

// NewPublishRequest creates a new Publish request
func NewPublishRequest(topic string, payload []byte) *Message {
	return &Message{MsgType: MsgTPublish, Key: topic, Value: payload}
}

// NewPublishResponse creates a new Publish response with the number of notified subscribers
func NewPublishResponse(delivered int) *Message {
	return &Message{MsgType: MsgTPublish, Count: uint64(delivered)}
}

// NewSubscribeRequest creates a new Subscribe request
func NewSubscribeRequest(topic string) *Message {
	return &Message{MsgType: MsgTSubscribe, Key: topic}
}

// NewSubscribeResponse creates the acknowledgement of a Subscribe request
func NewSubscribeResponse(topic, subscriptionID string) *Message {
	return &Message{MsgType: MsgTSubscribe, Key: topic, Value: []byte(subscriptionID), Ok: true}
}

// NewUnsubscribeRequest creates a new Unsubscribe request. An empty
// subscriptionID removes the subscription of the issuing stream.
func NewUnsubscribeRequest(topic, subscriptionID string) *Message {
	msg := &Message{MsgType: MsgTUnsubscribe, Key: topic}
	if subscriptionID != "" {
		msg.Value = []byte(subscriptionID)
	}
	return msg
}

// NewUnsubscribeResponse creates a new Unsubscribe response. ok reports
// whether a registration was removed, unsubscribing twice is still a success.
func NewUnsubscribeResponse(topic string, ok bool) *Message {
	return &Message{MsgType: MsgTUnsubscribe, Key: topic, Ok: ok}
}

// NewNotification creates a server pushed notification of a published payload
func NewNotification(topic string, payload []byte) *Message {
	return &Message{MsgType: MsgTNotification, Key: topic, Value: payload}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code ErrorCode, err string) *Message {
	return &Message{MsgType: MsgTError, Code: code, Err: err}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTUnknown:      "unknown",
	MsgTError:        "error",
	MsgTGet:          "get",
	MsgTGetAll:       "getall",
	MsgTMGet:         "mget",
	MsgTSet:          "set",
	MsgTMSet:         "mset",
	MsgTDel:          "del",
	MsgTMDel:         "mdel",
	MsgTExist:        "exist",
	MsgTMExist:       "mexist",
	MsgTPublish:      "publish",
	MsgTSubscribe:    "subscribe",
	MsgTUnsubscribe:  "unsubscribe",
	MsgTNotification: "notification",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseMessageType returns the MessageType with the given name
func ParseMessageType(s string) (MessageType, error) {
	for t, name := range messageTypeNames {
		if name == s {
			return t, nil
		}
	}
	return MsgTUnknown, fmt.Errorf("unknown message type: %s", s)
}

// MarshalJSON serializes MessageType as a string.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON deserializes MessageType from a string.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMessageType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsStorage reports whether the type is dispatched to the storage interface
func (t MessageType) IsStorage() bool {
	return t >= MsgTGet && t <= MsgTMExist
}

// IsPubSub reports whether the type is dispatched to the broadcast engine
func (t MessageType) IsPubSub() bool {
	return t >= MsgTPublish && t <= MsgTUnsubscribe
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTError               // Indicates an error occurred

	// Storage commands

	MsgTGet    // Get a value by key
	MsgTGetAll // Get all key value pairs
	MsgTMGet   // Get the values of many keys
	MsgTSet    // Set a key value pair, returns the previous value
	MsgTMSet   // Set many key value pairs
	MsgTDel    // Delete a key value pair, returns the removed value
	MsgTMDel   // Delete many key value pairs
	MsgTExist  // Check if a key exists
	MsgTMExist // Check if many keys exist

	// Pub/sub commands

	MsgTPublish     // Publish a payload to a topic
	MsgTSubscribe   // Subscribe the stream to a topic
	MsgTUnsubscribe // Remove a subscription

	// Server pushed

	MsgTNotification // A payload published to a subscribed topic
)
