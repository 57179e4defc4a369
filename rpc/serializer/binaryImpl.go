package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/pKV/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: MsgType (1 byte), flags (2 bytes), then every present field in
// flag order. Strings and byte slices are prefixed with a uint32 length,
// lists with a uint32 element count. All integers are big endian.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey    uint16 = 1 << 0
	hasKeys   uint16 = 1 << 1
	hasValue  uint16 = 1 << 2
	hasValues uint16 = 1 << 3
	hasFound  uint16 = 1 << 4
	hasOk     uint16 = 1 << 5
	hasCount  uint16 = 1 << 6
	hasCode   uint16 = 1 << 7
	hasErr    uint16 = 1 << 8

	knownFlags = hasKey | hasKeys | hasValue | hasValues | hasFound | hasOk | hasCount | hasCode | hasErr

	headerSize = 3
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, headerSize, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags uint16

	if msg.Key != "" {
		flags |= hasKey
		result = appendBlock(result, msg.Key)
	}

	if msg.Keys != nil {
		flags |= hasKeys
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Keys)))
		for _, key := range msg.Keys {
			result = appendBlock(result, key)
		}
	}

	// a present but empty value is kept apart from an absent one
	if msg.Value != nil {
		flags |= hasValue
		result = appendBlock(result, msg.Value)
	}

	if msg.Values != nil {
		flags |= hasValues
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Values)))
		for _, value := range msg.Values {
			result = appendBlock(result, value)
		}
	}

	if msg.Found != nil {
		flags |= hasFound
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Found)))
		for _, found := range msg.Found {
			result = append(result, boolByte(found))
		}
	}

	if msg.Ok {
		flags |= hasOk
		result = append(result, 1)
	}

	if msg.Count > 0 {
		flags |= hasCount
		result = binary.BigEndian.AppendUint64(result, msg.Count)
	}

	if msg.Code != common.ErrCNone {
		flags |= hasCode
		result = append(result, byte(msg.Code))
	}

	if msg.Err != "" {
		flags |= hasErr
		result = appendBlock(result, msg.Err)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	if flags&^knownFlags != 0 {
		return fmt.Errorf("unknown field flags %#x", flags&^knownFlags)
	}

	r := reader{data: data, pos: headerSize}

	if flags&hasKey != 0 {
		msg.Key = string(r.block("key"))
	}

	if flags&hasKeys != 0 {
		n := r.count("keys", 4)
		msg.Keys = make([]string, n)
		for i := range msg.Keys {
			msg.Keys[i] = string(r.block("keys"))
		}
	}

	if flags&hasValue != 0 {
		msg.Value = r.copyBlock("value")
	}

	if flags&hasValues != 0 {
		n := r.count("values", 4)
		msg.Values = make([][]byte, n)
		for i := range msg.Values {
			msg.Values[i] = r.copyBlock("values")
		}
	}

	if flags&hasFound != 0 {
		n := r.count("found", 1)
		msg.Found = make([]bool, n)
		for i := range msg.Found {
			msg.Found[i] = r.byte("found") != 0
		}
	}

	if flags&hasOk != 0 {
		msg.Ok = r.byte("ok") != 0
	}

	if flags&hasCount != 0 {
		msg.Count = r.uint64("count")
	}

	if flags&hasCode != 0 {
		msg.Code = common.ErrorCode(r.byte("code"))
	}

	if flags&hasErr != 0 {
		msg.Err = string(r.block("err"))
	}

	if r.err != nil {
		return r.err
	}
	if r.pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-r.pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Keys != nil {
		size += 4
		for _, key := range msg.Keys {
			size += 4 + len(key)
		}
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Values != nil {
		size += 4
		for _, value := range msg.Values {
			size += 4 + len(value)
		}
	}
	if msg.Found != nil {
		size += 4 + len(msg.Found)
	}
	if msg.Ok {
		size += 1
	}
	if msg.Count > 0 {
		size += 8
	}
	if msg.Code != common.ErrCNone {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	return size
}

func appendBlock[T string | []byte](dst []byte, block T) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(block)))
	return append(dst, block...)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// reader reads fields and remembers the first error, later reads are no-ops
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.data)-r.pos < n {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *reader) byte(field string) byte {
	if !r.need(1, field) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) uint32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) uint64(field string) uint64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// block returns a length prefixed block without copying it
func (r *reader) block(field string) []byte {
	n := r.uint32(field)
	if !r.need(int(n), field) {
		return nil
	}
	v := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v
}

// copyBlock returns a copy of a length prefixed block, never nil
func (r *reader) copyBlock(field string) []byte {
	v := r.block(field)
	if r.err != nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// count reads an element count and rejects counts the remaining data cannot
// hold, minSize is the smallest encoding of one element
func (r *reader) count(field string, minSize int) int {
	n := int(r.uint32(field))
	if r.err == nil && n > (len(r.data)-r.pos)/minSize {
		r.err = fmt.Errorf("data too short for %d %s", n, field)
		return 0
	}
	return n
}
