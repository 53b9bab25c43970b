// ABOUTME: VoiceGateway gRPC service implementation
// ABOUTME: Hands streaming calls to the stream coordinator and interrupts to the interrupt coordinator

package gateway

import (
	"context"
	"log/slog"

	"github.com/2389/voice-gateway/internal/faults"
	"github.com/2389/voice-gateway/internal/interrupt"
	"github.com/2389/voice-gateway/internal/stream"
	pb "github.com/2389/voice-gateway/proto/voice"
)

// voiceGatewayServer implements the VoiceGateway gRPC service.
type voiceGatewayServer struct {
	pb.UnimplementedVoiceGatewayServer
	streams    *stream.Coordinator
	interrupts *interrupt.Coordinator
	logger     *slog.Logger
}

// newVoiceGatewayServer creates a new VoiceGateway service instance.
func newVoiceGatewayServer(streams *stream.Coordinator, interrupts *interrupt.Coordinator, logger *slog.Logger) *voiceGatewayServer {
	return &voiceGatewayServer{
		streams:    streams,
		interrupts: interrupts,
		logger:     logger,
	}
}

// StreamResponses runs one generation call. The terminal message (end or
// error) is always the last one sent; the returned status mirrors it.
func (s *voiceGatewayServer) StreamResponses(req *pb.StreamRequest, srv pb.VoiceGateway_StreamResponsesServer) error {
	return s.streams.Run(srv.Context(), req, srv)
}

// InterruptSession interrupts every active session of the device.
func (s *voiceGatewayServer) InterruptSession(ctx context.Context, req *pb.InterruptRequest) (*pb.InterruptResponse, error) {
	ids, err := s.interrupts.Interrupt(ctx, req.GetHardwareId())
	if err != nil {
		return nil, faults.Classify(err).Err()
	}
	return pb.NewInterruptResponse(ids), nil
}
