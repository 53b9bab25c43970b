// ABOUTME: Protobuf binary encoding of the voice messages built on protowire
// ABOUTME: Field numbers and proto3 presence rules follow voice.proto exactly

package voice

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// WireMessage is implemented by every voice message. AppendWire appends the
// protobuf encoding of the message to b; UnmarshalWire replaces the message
// with the one decoded from b. Unknown fields are skipped.
type WireMessage interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}

var (
	_ WireMessage = (*StreamRequest)(nil)
	_ WireMessage = (*AudioChunk)(nil)
	_ WireMessage = (*StreamResponse)(nil)
	_ WireMessage = (*InterruptRequest)(nil)
	_ WireMessage = (*InterruptResponse)(nil)
)

// StreamRequest field numbers.
const (
	fieldRequestPrompt       protowire.Number = 1
	fieldRequestHardwareID   protowire.Number = 2
	fieldRequestSessionID    protowire.Number = 3
	fieldRequestScreenshot   protowire.Number = 4
	fieldRequestScreenWidth  protowire.Number = 5
	fieldRequestScreenHeight protowire.Number = 6
)

// AudioChunk field numbers.
const (
	fieldAudioData       protowire.Number = 1
	fieldAudioDtype      protowire.Number = 2
	fieldAudioShape      protowire.Number = 3
	fieldAudioSampleRate protowire.Number = 4
	fieldAudioChannels   protowire.Number = 5
)

// StreamResponse oneof payload field numbers.
const (
	fieldResponseText  protowire.Number = 1
	fieldResponseAudio protowire.Number = 2
	fieldResponseEnd   protowire.Number = 3
	fieldResponseError protowire.Number = 4
)

// InterruptRequest and InterruptResponse field numbers.
const (
	fieldInterruptHardwareID protowire.Number = 1

	fieldInterruptSuccess  protowire.Number = 1
	fieldInterruptMessage  protowire.Number = 2
	fieldInterruptSessions protowire.Number = 3
)

// AppendWire implements WireMessage.
func (r *StreamRequest) AppendWire(b []byte) []byte {
	if r == nil {
		return b
	}
	b = appendString(b, fieldRequestPrompt, r.Prompt)
	b = appendString(b, fieldRequestHardwareID, r.HardwareId)
	b = appendString(b, fieldRequestSessionID, r.SessionId)
	b = appendBytes(b, fieldRequestScreenshot, r.Screenshot)
	b = appendInt32(b, fieldRequestScreenWidth, r.ScreenWidth)
	b = appendInt32(b, fieldRequestScreenHeight, r.ScreenHeight)
	return b
}

// UnmarshalWire implements WireMessage.
func (r *StreamRequest) UnmarshalWire(b []byte) error {
	*r = StreamRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldRequestPrompt:
			return consumeString(num, typ, b, &r.Prompt)
		case fieldRequestHardwareID:
			return consumeString(num, typ, b, &r.HardwareId)
		case fieldRequestSessionID:
			return consumeString(num, typ, b, &r.SessionId)
		case fieldRequestScreenshot:
			return consumeBytes(num, typ, b, &r.Screenshot)
		case fieldRequestScreenWidth:
			return consumeInt32(num, typ, b, &r.ScreenWidth)
		case fieldRequestScreenHeight:
			return consumeInt32(num, typ, b, &r.ScreenHeight)
		}
		return skipField(num, typ, b)
	})
}

// AppendWire implements WireMessage.
func (a *AudioChunk) AppendWire(b []byte) []byte {
	if a == nil {
		return b
	}
	b = appendBytes(b, fieldAudioData, a.AudioData)
	b = appendString(b, fieldAudioDtype, a.Dtype)
	if len(a.Shape) > 0 {
		var packed []byte
		for _, v := range a.Shape {
			packed = protowire.AppendVarint(packed, uint64(int64(v)))
		}
		b = protowire.AppendTag(b, fieldAudioShape, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = appendInt32(b, fieldAudioSampleRate, a.SampleRate)
	b = appendInt32(b, fieldAudioChannels, a.Channels)
	return b
}

// UnmarshalWire implements WireMessage.
func (a *AudioChunk) UnmarshalWire(b []byte) error {
	*a = AudioChunk{}
	return a.merge(b)
}

func (a *AudioChunk) merge(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldAudioData:
			return consumeBytes(num, typ, b, &a.AudioData)
		case fieldAudioDtype:
			return consumeString(num, typ, b, &a.Dtype)
		case fieldAudioShape:
			return consumeRepeatedInt32(num, typ, b, &a.Shape)
		case fieldAudioSampleRate:
			return consumeInt32(num, typ, b, &a.SampleRate)
		case fieldAudioChannels:
			return consumeInt32(num, typ, b, &a.Channels)
		}
		return skipField(num, typ, b)
	})
}

// AppendWire implements WireMessage. Oneof members are written even when
// empty so the receiver sees which one is set.
func (r *StreamResponse) AppendWire(b []byte) []byte {
	if r == nil {
		return b
	}
	switch {
	case r.TextChunk != nil:
		b = protowire.AppendTag(b, fieldResponseText, protowire.BytesType)
		b = protowire.AppendString(b, *r.TextChunk)
	case r.AudioChunk != nil:
		b = protowire.AppendTag(b, fieldResponseAudio, protowire.BytesType)
		b = protowire.AppendBytes(b, r.AudioChunk.AppendWire(nil))
	case r.EndMessage != nil:
		b = protowire.AppendTag(b, fieldResponseEnd, protowire.BytesType)
		b = protowire.AppendString(b, *r.EndMessage)
	case r.ErrorMessage != nil:
		b = protowire.AppendTag(b, fieldResponseError, protowire.BytesType)
		b = protowire.AppendString(b, *r.ErrorMessage)
	}
	return b
}

// UnmarshalWire implements WireMessage. When several payload fields are
// present the last one wins.
func (r *StreamResponse) UnmarshalWire(b []byte) error {
	*r = StreamResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var s string
		switch num {
		case fieldResponseText, fieldResponseEnd, fieldResponseError:
			n, err := consumeString(num, typ, b, &s)
			if err != nil || typ != protowire.BytesType {
				return n, err
			}
			switch num {
			case fieldResponseText:
				*r = StreamResponse{TextChunk: &s}
			case fieldResponseEnd:
				*r = StreamResponse{EndMessage: &s}
			default:
				*r = StreamResponse{ErrorMessage: &s}
			}
			return n, nil

		case fieldResponseAudio:
			if typ != protowire.BytesType {
				return skipField(num, typ, b)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			chunk := r.AudioChunk
			if chunk == nil {
				chunk = &AudioChunk{}
			}
			if err := chunk.merge(v); err != nil {
				return 0, fmt.Errorf("audio_chunk: %w", err)
			}
			*r = StreamResponse{AudioChunk: chunk}
			return n, nil
		}
		return skipField(num, typ, b)
	})
}

// AppendWire implements WireMessage.
func (r *InterruptRequest) AppendWire(b []byte) []byte {
	if r == nil {
		return b
	}
	return appendString(b, fieldInterruptHardwareID, r.HardwareId)
}

// UnmarshalWire implements WireMessage.
func (r *InterruptRequest) UnmarshalWire(b []byte) error {
	*r = InterruptRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == fieldInterruptHardwareID {
			return consumeString(num, typ, b, &r.HardwareId)
		}
		return skipField(num, typ, b)
	})
}

// AppendWire implements WireMessage.
func (r *InterruptResponse) AppendWire(b []byte) []byte {
	if r == nil {
		return b
	}
	if r.Success {
		b = protowire.AppendTag(b, fieldInterruptSuccess, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	b = appendString(b, fieldInterruptMessage, r.Message)
	for _, id := range r.InterruptedSessions {
		b = protowire.AppendTag(b, fieldInterruptSessions, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	return b
}

// UnmarshalWire implements WireMessage. A response without sessions decodes
// with an empty, non-nil list, matching NewInterruptResponse.
func (r *InterruptResponse) UnmarshalWire(b []byte) error {
	*r = InterruptResponse{InterruptedSessions: []string{}}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldInterruptSuccess:
			if typ != protowire.VarintType {
				return skipField(num, typ, b)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.Success = protowire.DecodeBool(v)
			return n, nil
		case fieldInterruptMessage:
			return consumeString(num, typ, b, &r.Message)
		case fieldInterruptSessions:
			var id string
			n, err := consumeString(num, typ, b, &id)
			if err == nil && typ == protowire.BytesType {
				r.InterruptedSessions = append(r.InterruptedSessions, id)
			}
			return n, err
		}
		return skipField(num, typ, b)
	})
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendInt32 writes a proto3 int32; negatives are sign-extended to 64 bits.
func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

// consumeFields walks every field in b. fn consumes one field value and
// returns its length.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

// A value with an unexpected wire type is skipped like an unknown field.

func consumeString(num protowire.Number, typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return skipField(num, typ, b)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return skipField(num, typ, b)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = append([]byte(nil), v...)
	return n, nil
}

func consumeInt32(num protowire.Number, typ protowire.Type, b []byte, dst *int32) (int, error) {
	if typ != protowire.VarintType {
		return skipField(num, typ, b)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = int32(v)
	return n, nil
}

// consumeRepeatedInt32 accepts both packed and unpacked encodings.
func consumeRepeatedInt32(num protowire.Number, typ protowire.Type, b []byte, dst *[]int32) (int, error) {
	switch typ {
	case protowire.VarintType:
		var v int32
		n, err := consumeInt32(num, typ, b, &v)
		if err != nil {
			return 0, err
		}
		*dst = append(*dst, v)
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			*dst = append(*dst, int32(v))
			packed = packed[m:]
		}
		return n, nil
	}
	return skipField(num, typ, b)
}
