// Package serializer provides message serialization for the pKV command
// protocol. It defines a common interface and multiple implementations for
// turning a common.Message into the payload of one frame and back.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format optimized for speed and space
//     efficiency. A 16 bit flag field marks the present fields, only those are
//     encoded. It is the only format that keeps a nil value apart from an
//     empty one.
//
//   - protoSerializerImpl: The protobuf wire format written with protowire,
//     for clients in other languages. The message schema is documented on
//     NewProtoSerializer.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging. Message types
//     and error codes are encoded by name.
//
//   - gobSerializerImpl: Go's gob encoding. Every payload carries the type
//     description, which makes it the largest format.
//
// Client and server must use the same serializer, there is no negotiation.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.New("binary")
//	data, err := s.Serialize(message)
//	// ... send data ...
//	var received common.Message
//	err = s.Deserialize(data, &received)
package serializer
