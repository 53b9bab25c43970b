// ABOUTME: gRPC codecs for the voice messages: protobuf wire format under "proto"
// ABOUTME: and an optional JSON codec under the "json" content-subtype

package voice

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
	grpcproto "google.golang.org/grpc/encoding/proto"
	"google.golang.org/grpc/mem"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// CodecName is the content-subtype that selects the JSON codec.
const CodecName = "json"

// ProtoCodecName is the default gRPC codec name, taken over by ProtoCodec.
const ProtoCodecName = grpcproto.Name

func init() {
	encoding.RegisterCodec(Codec{})

	// grpc/encoding/proto registered its codec in its own init, which runs
	// before this one because of the import above.
	fallback := encoding.GetCodecV2(grpcproto.Name)
	if fallback == nil {
		panic("voice: default proto codec not registered")
	}
	encoding.RegisterCodecV2(ProtoCodec{fallback: fallback})
}

// ProtoCodec encodes WireMessage values in the protobuf binary format and
// hands every other value, such as grpc.health.v1 messages, to the codec it
// replaced.
type ProtoCodec struct {
	fallback encoding.CodecV2
}

// NewProtoCodec wraps fallback, which handles values that are not voice
// messages.
func NewProtoCodec(fallback encoding.CodecV2) ProtoCodec {
	return ProtoCodec{fallback: fallback}
}

func (ProtoCodec) Name() string { return ProtoCodecName }

func (c ProtoCodec) Marshal(v any) (mem.BufferSlice, error) {
	if m, ok := v.(WireMessage); ok {
		return mem.BufferSlice{mem.SliceBuffer(m.AppendWire(nil))}, nil
	}
	if c.fallback == nil {
		return nil, fmt.Errorf("marshal %T: not a voice message", v)
	}
	return c.fallback.Marshal(v)
}

func (c ProtoCodec) Unmarshal(data mem.BufferSlice, v any) error {
	if m, ok := v.(WireMessage); ok {
		buf := data.MaterializeToBuffer(mem.DefaultBufferPool())
		defer buf.Free()
		if err := m.UnmarshalWire(buf.ReadOnlyData()); err != nil {
			return fmt.Errorf("unmarshal %T: %w", v, err)
		}
		return nil
	}
	if c.fallback == nil {
		return fmt.Errorf("unmarshal %T: not a voice message", v)
	}
	return c.fallback.Unmarshal(data, v)
}

// Codec is the JSON codec. It implements encoding.Codec.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(data, m)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return nil
}
