// ABOUTME: voice.proto rebuilt as a protobuf descriptor for tests
// ABOUTME: Lets tests act as a generic protobuf client through dynamicpb

// Package voicetest provides the voice.proto schema in descriptor form so
// tests can encode and decode voice messages with the protobuf runtime
// instead of this module's hand-written encoding.
package voicetest

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

type (
	fieldType  = descriptorpb.FieldDescriptorProto_Type
	fieldLabel = descriptorpb.FieldDescriptorProto_Label
)

const (
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
)

func field(name string, num int32, typ fieldType, label fieldLabel) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Type:   typ.Enum(),
		Label:  label.Enum(),
	}
}

func payload(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(0)
	return f
}

var (
	once    sync.Once
	file    protoreflect.FileDescriptor
	fileErr error
)

// Descriptor returns the voice.v1 file descriptor.
func Descriptor() (protoreflect.FileDescriptor, error) {
	once.Do(func() {
		audio := field("audio_chunk", 2, tMessage, optional)
		audio.TypeName = proto.String(".voice.v1.AudioChunk")

		fd := &descriptorpb.FileDescriptorProto{
			Name:    proto.String("voice.proto"),
			Package: proto.String("voice.v1"),
			Syntax:  proto.String("proto3"),
			MessageType: []*descriptorpb.DescriptorProto{
				{
					Name: proto.String("StreamRequest"),
					Field: []*descriptorpb.FieldDescriptorProto{
						field("prompt", 1, tString, optional),
						field("hardware_id", 2, tString, optional),
						field("session_id", 3, tString, optional),
						field("screenshot", 4, tBytes, optional),
						field("screen_width", 5, tInt32, optional),
						field("screen_height", 6, tInt32, optional),
					},
				},
				{
					Name: proto.String("AudioChunk"),
					Field: []*descriptorpb.FieldDescriptorProto{
						field("audio_data", 1, tBytes, optional),
						field("dtype", 2, tString, optional),
						field("shape", 3, tInt32, repeated),
						field("sample_rate", 4, tInt32, optional),
						field("channels", 5, tInt32, optional),
					},
				},
				{
					Name: proto.String("StreamResponse"),
					Field: []*descriptorpb.FieldDescriptorProto{
						payload(field("text_chunk", 1, tString, optional)),
						payload(audio),
						payload(field("end_message", 3, tString, optional)),
						payload(field("error_message", 4, tString, optional)),
					},
					OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("payload")}},
				},
				{
					Name: proto.String("InterruptRequest"),
					Field: []*descriptorpb.FieldDescriptorProto{
						field("hardware_id", 1, tString, optional),
					},
				},
				{
					Name: proto.String("InterruptResponse"),
					Field: []*descriptorpb.FieldDescriptorProto{
						field("success", 1, tBool, optional),
						field("message", 2, tString, optional),
						field("interrupted_sessions", 3, tString, repeated),
					},
				},
			},
		}
		file, fileErr = protodesc.NewFile(fd, nil)
	})
	return file, fileErr
}

// New returns an empty dynamic message of the named voice.v1 type, such as
// "StreamResponse". It panics on an unknown name.
func New(name string) *dynamicpb.Message {
	fd, err := Descriptor()
	if err != nil {
		panic(fmt.Sprintf("voicetest: building descriptor: %v", err))
	}
	md := fd.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		panic(fmt.Sprintf("voicetest: no message %q", name))
	}
	return dynamicpb.NewMessage(md)
}
