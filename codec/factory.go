package codec

import (
	"fmt"

	"github.com/foxglove-labs/logbag/schema"
)

// MessageCodec is the common surface every message codec exposes:
// serialize a record against a schema, or recover a record from bytes.
type MessageCodec interface {
	SerializeMessage(sch *schema.Schema, rec *schema.Record) ([]byte, error)
	DeserializeMessage(sch *schema.Schema, data []byte) (*schema.Record, error)
}

// ErrUnknownEncoding indicates a channel's message_encoding value isn't
// supported by this build.
var ErrUnknownEncoding = fmt.Errorf("codec: unknown message encoding")

// Factory selects a MessageCodec by MCAP profile or bag/channel message
// encoding string, caching compiled encoders/decoders per schema
// (through the shared schema.Compiler) across every channel that shares
// a message type.
type Factory struct {
	compiler *schema.Compiler
	subs     schema.SubSchemas
}

func NewFactory(compiler *schema.Compiler, subs schema.SubSchemas) *Factory {
	return &Factory{compiler: compiler, subs: subs}
}

// For resolves a codec for the given encoding string: "ros2"/"cdr" ->
// CDR (little-endian on the wire, matching every ROS 2 DDS vendor's
// default), "ros1" -> rosmsg, "json" -> JSON. A "protobuf"
// message_encoding has no schema-driven codec here (no protobuf schema
// compiler exists in this system), so channels using it bypass Factory
// and carry their payload through unmodified.
func (f *Factory) For(encoding string) (MessageCodec, error) {
	switch encoding {
	case "ros2", "cdr":
		return NewCDRCodec(f.compiler, true), nil
	case "ros1":
		return NewRosMsgCodec(f.compiler), nil
	case "json":
		return NewJSONCodec(f.subs), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}
