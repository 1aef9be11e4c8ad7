package accesskey

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Data is the decrypted content of an access key: the tenant id plus the
// routing coordinates of the events it authorizes.
type Data struct {
	ID                string  `json:"id"`
	Namespace         string  `json:"namespace"`
	EventType         string  `json:"eventType"`
	Group             string  `json:"group"`
	EventPath         string  `json:"eventPath"`
	EventObjectIDPath *string `json:"eventObjectIdPath,omitempty"`
	TimestampPath     *string `json:"timestampPath,omitempty"`
	ParentAccessKey   *string `json:"parentAccessKey,omitempty"`
}

// Marshal encodes the data in the protobuf wire format: length-delimited
// string fields tagged 1 through 8, optional fields omitted when nil.
func (d Data) Marshal() []byte {
	var buf []byte
	appendField := func(tag protowire.Number, value string) {
		buf = protowire.AppendTag(buf, tag, protowire.BytesType)
		buf = protowire.AppendString(buf, value)
	}
	appendField(1, d.ID)
	appendField(2, d.Namespace)
	appendField(3, d.EventType)
	appendField(4, d.Group)
	appendField(5, d.EventPath)
	if d.EventObjectIDPath != nil {
		appendField(6, *d.EventObjectIDPath)
	}
	if d.TimestampPath != nil {
		appendField(7, *d.TimestampPath)
	}
	if d.ParentAccessKey != nil {
		appendField(8, *d.ParentAccessKey)
	}
	return buf
}

// UnmarshalData decodes the protobuf wire form produced by Marshal.
func UnmarshalData(b []byte) (Data, error) {
	var d Data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Data{}, fmt.Errorf("access key data: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return Data{}, fmt.Errorf("access key data: unexpected wire type %d for field %d", typ, num)
		}
		value, n := protowire.ConsumeString(b)
		if n < 0 {
			return Data{}, fmt.Errorf("access key data: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case 1:
			d.ID = value
		case 2:
			d.Namespace = value
		case 3:
			d.EventType = value
		case 4:
			d.Group = value
		case 5:
			d.EventPath = value
		case 6:
			v := value
			d.EventObjectIDPath = &v
		case 7:
			v := value
			d.TimestampPath = &v
		case 8:
			v := value
			d.ParentAccessKey = &v
		default:
			return Data{}, fmt.Errorf("access key data: unknown field %d", num)
		}
	}
	return d, nil
}
