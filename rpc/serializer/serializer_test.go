package serializer

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/ValentinKolb/pKV/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
	"Proto":  NewProtoSerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTGetAll},

		// Set request
		{
			MsgType: common.MsgTSet,
			Key:     "test-key",
			Value:   []byte("test-value"),
		},

		// Get response
		{
			MsgType: common.MsgTGet,
			Value:   []byte("test-value"),
			Ok:      true,
		},

		// Mset request
		{
			MsgType: common.MsgTMSet,
			Keys:    []string{"a", "", "c"},
			Values:  [][]byte{[]byte("1"), []byte("2"), {0, 1, 2, 255}},
		},

		// Mget response with a miss in the middle
		{
			MsgType: common.MsgTMGet,
			Values:  [][]byte{[]byte("1"), nil, []byte("3")},
			Found:   []bool{true, false, true},
		},

		// Publish response
		{
			MsgType: common.MsgTPublish,
			Count:   1 << 40,
		},

		// Notification
		{
			MsgType: common.MsgTNotification,
			Key:     "topic",
			Value:   bytes.Repeat([]byte{0xAB}, 4096),
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Code:    common.ErrCMalformed,
			Err:     "test error message",
		},
	}
}

// normalize maps empty slices to nil, not every format keeps them apart
func normalize(msg common.Message) common.Message {
	if len(msg.Keys) == 0 {
		msg.Keys = nil
	}
	if len(msg.Value) == 0 {
		msg.Value = nil
	}
	if len(msg.Values) == 0 {
		msg.Values = nil
	} else {
		values := make([][]byte, len(msg.Values))
		for i, v := range msg.Values {
			if len(v) > 0 {
				values[i] = v
			}
		}
		msg.Values = values
	}
	if len(msg.Found) == 0 {
		msg.Found = nil
	}
	return msg
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}
				if len(data) == 0 {
					t.Errorf("Message %d serialized to an empty payload", i)
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(normalize(msg), normalize(result)) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTError; msgType <= common.MsgTNotification; msgType++ {
				data, err := serializer.Serialize(common.Message{MsgType: msgType})
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType, err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s", msgType, result.MsgType)
				}
			}
		})
	}
}

// TestDeserializeResetsMessage checks that fields of a reused message do not leak
func TestDeserializeResetsMessage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			data, err := serializer.Serialize(common.Message{MsgType: common.MsgTExist, Key: "k"})
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			msg := common.Message{Value: []byte("stale"), Ok: true, Found: []bool{true}, Err: "stale"}
			if err := serializer.Deserialize(data, &msg); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			if msg.Value != nil || msg.Ok || msg.Found != nil || msg.Err != "" {
				t.Errorf("stale fields survived: %+v", msg)
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Empty value slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTSet,
				Key:     "test",
				Value:   []byte{},
			},
		},
		{
			name: "Empty key list but not nil",
			msg: common.Message{
				MsgType: common.MsgTMGet,
				Keys:    []string{},
			},
		},
		{
			name: "Nil value",
			msg: common.Message{
				MsgType: common.MsgTGet,
				Ok:      true,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// the binary format keeps nil and empty apart
			if (tc.msg.Value == nil) != (result.Value == nil) {
				t.Errorf("Value nil/non-nil mismatch: expected %v, got %v", tc.msg.Value, result.Value)
			}
			if (tc.msg.Keys == nil) != (result.Keys == nil) {
				t.Errorf("Keys nil/non-nil mismatch: expected %v, got %v", tc.msg.Keys, result.Keys)
			}
			if !reflect.DeepEqual(normalize(tc.msg), normalize(result)) {
				t.Errorf("mismatch: expected %+v, got %+v", tc.msg, result)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{"Empty data", []byte{}, true},
		{"Too short header", []byte{1, 0}, true},
		{"Valid header only", []byte{1, 0, 0}, false},
		{"Unknown flag", []byte{1, 0x80, 0}, true},
		{"Invalid length for key", []byte{1, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, true},
		{"Invalid length for value", []byte{1, 0, 4, 0, 0, 0, 10}, true},
		{"Huge key count", []byte{1, 0, 2, 0xFF, 0xFF, 0xFF, 0xFF}, true},
		{"Trailing bytes", []byte{1, 0, 0, 42}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestInvalidData checks that every serializer rejects garbage
func TestInvalidData(t *testing.T) {
	garbage := map[string][]byte{
		"Empty":     {},
		"Truncated": {0x12, 0x10, 'a'}, // proto: key with length 16, 1 byte present
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			for caseName, data := range garbage {
				var msg common.Message
				if err := serializer.Deserialize(data, &msg); err == nil {
					t.Errorf("%s: expected an error, got %+v", caseName, msg)
				}
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, name := range Names {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q) failed: %v", name, err)
		}
	}
	if _, err := New("xml"); err == nil {
		t.Errorf("expected an error for an unknown serializer")
	}
}
