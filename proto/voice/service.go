// ABOUTME: Hand-maintained gRPC service descriptor, server registration and client
// ABOUTME: Mirrors the shape protoc-gen-go-grpc would emit for voice.proto

package voice

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName                                  = "voice.v1.VoiceGateway"
	VoiceGateway_StreamResponses_FullMethodName  = "/voice.v1.VoiceGateway/StreamResponses"
	VoiceGateway_InterruptSession_FullMethodName = "/voice.v1.VoiceGateway/InterruptSession"
)

// VoiceGatewayServer is the server API.
type VoiceGatewayServer interface {
	StreamResponses(*StreamRequest, VoiceGateway_StreamResponsesServer) error
	InterruptSession(context.Context, *InterruptRequest) (*InterruptResponse, error)
}

// VoiceGateway_StreamResponsesServer is the server side of a StreamResponses call.
type VoiceGateway_StreamResponsesServer interface {
	Send(*StreamResponse) error
	grpc.ServerStream
}

// UnimplementedVoiceGatewayServer can be embedded for forward compatibility.
type UnimplementedVoiceGatewayServer struct{}

func (UnimplementedVoiceGatewayServer) StreamResponses(*StreamRequest, VoiceGateway_StreamResponsesServer) error {
	return status.Error(codes.Unimplemented, "method StreamResponses not implemented")
}

func (UnimplementedVoiceGatewayServer) InterruptSession(context.Context, *InterruptRequest) (*InterruptResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method InterruptSession not implemented")
}

// RegisterVoiceGatewayServer registers srv on s.
func RegisterVoiceGatewayServer(s grpc.ServiceRegistrar, srv VoiceGatewayServer) {
	s.RegisterService(&VoiceGateway_ServiceDesc, srv)
}

type streamResponsesServer struct {
	grpc.ServerStream
}

func (x *streamResponsesServer) Send(m *StreamResponse) error {
	return x.ServerStream.SendMsg(m)
}

func streamResponsesHandler(srv any, stream grpc.ServerStream) error {
	m := new(StreamRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(VoiceGatewayServer).StreamResponses(m, &streamResponsesServer{stream})
}

func interruptSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InterruptRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VoiceGatewayServer).InterruptSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: VoiceGateway_InterruptSession_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VoiceGatewayServer).InterruptSession(ctx, req.(*InterruptRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// VoiceGateway_ServiceDesc is the grpc.ServiceDesc for the voice gateway.
var VoiceGateway_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VoiceGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "InterruptSession",
			Handler:    interruptSessionHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamResponses",
			Handler:       streamResponsesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "voice.proto",
}

// VoiceGatewayClient is the client API.
type VoiceGatewayClient interface {
	StreamResponses(ctx context.Context, in *StreamRequest, opts ...grpc.CallOption) (VoiceGateway_StreamResponsesClient, error)
	InterruptSession(ctx context.Context, in *InterruptRequest, opts ...grpc.CallOption) (*InterruptResponse, error)
}

// VoiceGateway_StreamResponsesClient is the client side of a StreamResponses call.
type VoiceGateway_StreamResponsesClient interface {
	Recv() (*StreamResponse, error)
	grpc.ClientStream
}

type voiceGatewayClient struct {
	cc grpc.ClientConnInterface
}

// NewVoiceGatewayClient returns a client speaking the protobuf wire format.
// Pass UseJSON as a call option to switch a call to the JSON codec.
func NewVoiceGatewayClient(cc grpc.ClientConnInterface) VoiceGatewayClient {
	return &voiceGatewayClient{cc: cc}
}

// UseJSON selects the JSON codec for one call.
func UseJSON() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}

func (c *voiceGatewayClient) StreamResponses(ctx context.Context, in *StreamRequest, opts ...grpc.CallOption) (VoiceGateway_StreamResponsesClient, error) {
	stream, err := c.cc.NewStream(ctx, &VoiceGateway_ServiceDesc.Streams[0], VoiceGateway_StreamResponses_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &streamResponsesClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type streamResponsesClient struct {
	grpc.ClientStream
}

func (x *streamResponsesClient) Recv() (*StreamResponse, error) {
	m := new(StreamResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *voiceGatewayClient) InterruptSession(ctx context.Context, in *InterruptRequest, opts ...grpc.CallOption) (*InterruptResponse, error) {
	out := new(InterruptResponse)
	if err := c.cc.Invoke(ctx, VoiceGateway_InterruptSession_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
