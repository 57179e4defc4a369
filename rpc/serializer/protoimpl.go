package serializer

import (
	"fmt"

	"github.com/ValentinKolb/pKV/rpc/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// NewProtoSerializer creates a new serializer using the protobuf wire format.
// The message is encoded as if it was declared as
//
//	message Message {
//	  uint32         msg_type = 1;
//	  string         key      = 2;
//	  repeated bytes keys     = 3;
//	  optional bytes value    = 4;
//	  repeated bytes values   = 5;
//	  repeated bool  found    = 6; // packed
//	  bool           ok       = 7;
//	  uint64         count    = 8;
//	  uint32         code     = 9;
//	  string         err      = 10;
//	}
//
// so any protobuf implementation can read and write pKV messages.
func NewProtoSerializer() IRPCSerializer {
	return &protoSerializerImpl{}
}

type protoSerializerImpl struct {
}

const (
	fieldMsgType protowire.Number = 1
	fieldKey     protowire.Number = 2
	fieldKeys    protowire.Number = 3
	fieldValue   protowire.Number = 4
	fieldValues  protowire.Number = 5
	fieldFound   protowire.Number = 6
	fieldOk      protowire.Number = 7
	fieldCount   protowire.Number = 8
	fieldCode    protowire.Number = 9
	fieldErr     protowire.Number = 10
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (p protoSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var b []byte

	if msg.MsgType != common.MsgTUnknown {
		b = protowire.AppendTag(b, fieldMsgType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(msg.MsgType))
	}
	if msg.Key != "" {
		b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
		b = protowire.AppendString(b, msg.Key)
	}
	for _, key := range msg.Keys {
		b = protowire.AppendTag(b, fieldKeys, protowire.BytesType)
		b = protowire.AppendString(b, key)
	}
	if msg.Value != nil {
		b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Value)
	}
	for _, value := range msg.Values {
		b = protowire.AppendTag(b, fieldValues, protowire.BytesType)
		b = protowire.AppendBytes(b, value)
	}
	if len(msg.Found) > 0 {
		packed := make([]byte, 0, len(msg.Found))
		for _, found := range msg.Found {
			packed = protowire.AppendVarint(packed, protowire.EncodeBool(found))
		}
		b = protowire.AppendTag(b, fieldFound, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if msg.Ok {
		b = protowire.AppendTag(b, fieldOk, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if msg.Count > 0 {
		b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
		b = protowire.AppendVarint(b, msg.Count)
	}
	if msg.Code != common.ErrCNone {
		b = protowire.AppendTag(b, fieldCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(msg.Code))
	}
	if msg.Err != "" {
		b = protowire.AppendTag(b, fieldErr, protowire.BytesType)
		b = protowire.AppendString(b, msg.Err)
	}

	// an empty message is valid protobuf, but a frame needs at least one byte
	if len(b) == 0 {
		b = protowire.AppendTag(b, fieldMsgType, protowire.VarintType)
		b = protowire.AppendVarint(b, 0)
	}
	return b, nil
}

func (p protoSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	if len(b) == 0 {
		return fmt.Errorf("empty message")
	}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldMsgType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("msg_type", n)
			}
			msg.MsgType = common.MessageType(v)
			b = b[n:]

		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fieldError("key", n)
			}
			msg.Key = v
			b = b[n:]

		case num == fieldKeys && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fieldError("keys", n)
			}
			msg.Keys = append(msg.Keys, v)
			b = b[n:]

		case num == fieldValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("value", n)
			}
			msg.Value = append(make([]byte, 0, len(v)), v...)
			b = b[n:]

		case num == fieldValues && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("values", n)
			}
			msg.Values = append(msg.Values, append(make([]byte, 0, len(v)), v...))
			b = b[n:]

		case num == fieldFound && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError("found", n)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return fieldError("found", m)
				}
				msg.Found = append(msg.Found, protowire.DecodeBool(v))
				packed = packed[m:]
			}
			b = b[n:]

		case num == fieldFound && typ == protowire.VarintType:
			// unpacked encoding, parsers must accept both
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("found", n)
			}
			msg.Found = append(msg.Found, protowire.DecodeBool(v))
			b = b[n:]

		case num == fieldOk && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("ok", n)
			}
			msg.Ok = protowire.DecodeBool(v)
			b = b[n:]

		case num == fieldCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("count", n)
			}
			msg.Count = v
			b = b[n:]

		case num == fieldCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError("code", n)
			}
			msg.Code = common.ErrorCode(v)
			b = b[n:]

		case num == fieldErr && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fieldError("err", n)
			}
			msg.Err = v
			b = b[n:]

		default:
			// unknown fields are skipped
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fieldError(fmt.Sprintf("field %d", num), n)
			}
			b = b[n:]
		}
	}
	return nil
}

func fieldError(field string, n int) error {
	return fmt.Errorf("invalid %s: %w", field, protowire.ParseError(n))
}
