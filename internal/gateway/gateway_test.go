// ABOUTME: Tests for the Gateway orchestrator and the VoiceGateway gRPC service
// ABOUTME: Runs the real gateway on loopback ports and drives it over protobuf and JSON

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/2389/voice-gateway/internal/backend"
	"github.com/2389/voice-gateway/internal/config"
	pb "github.com/2389/voice-gateway/proto/voice"
	"github.com/2389/voice-gateway/proto/voice/voicetest"
)

// freeAddr returns a loopback address with an available port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// testConfig creates a config with two stream slots and available ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Server.GRPCAddr = freeAddr(t)
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Backpressure.Profile = config.ProfileLow
	cfg.Backpressure.MaxConcurrentStreams = 2
	cfg.Backpressure.MaxMessageRatePerSecond = 0
	cfg.Backpressure.GracePeriodSeconds = 0
	cfg.DecisionLog.Path = ""
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gate is a backend whose streams yield units pushed per hardware id and end
// when the gate is closed.
type gate struct {
	mu    sync.Mutex
	chans map[string]chan backend.Unit
}

func newGate() *gate {
	return &gate{chans: make(map[string]chan backend.Unit)}
}

func (g *gate) ch(hardwareID string) chan backend.Unit {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.chans[hardwareID]
	if !ok {
		c = make(chan backend.Unit)
		g.chans[hardwareID] = c
	}
	return c
}

func (g *gate) Generate(_ context.Context, req backend.Request) (backend.Stream, error) {
	return &gateStream{units: g.ch(req.HardwareID)}, nil
}

type gateStream struct {
	units chan backend.Unit
}

func (s *gateStream) Next(ctx context.Context) (backend.Unit, error) {
	select {
	case u, ok := <-s.units:
		if !ok {
			return backend.Unit{}, backend.ErrDone
		}
		return u, nil
	case <-ctx.Done():
		return backend.Unit{}, ctx.Err()
	}
}

func (s *gateStream) Close() error { return nil }

// startGateway runs gw in the background until the test ends.
func startGateway(t *testing.T, cfg *config.Config, opts ...Option) *Gateway {
	t.Helper()

	gw, err := New(cfg, testLogger(), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(15 * time.Second):
			t.Error("gateway did not shut down in time")
		}
	})

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	return gw
}

func dial(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// recvAll reads a stream to completion. A clean end returns a nil error.
func recvAll(stream pb.VoiceGateway_StreamResponsesClient) ([]*pb.StreamResponse, error) {
	var out []*pb.StreamResponse
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
}

type streamResult struct {
	msgs []*pb.StreamResponse
	err  error
}

// openStream starts a call and collects it in the background.
func openStream(t *testing.T, client pb.VoiceGatewayClient, req *pb.StreamRequest) <-chan streamResult {
	t.Helper()
	stream, err := client.StreamResponses(context.Background(), req)
	require.NoError(t, err)
	done := make(chan streamResult, 1)
	go func() {
		msgs, err := recvAll(stream)
		done <- streamResult{msgs, err}
	}()
	return done
}

func await(t *testing.T, ch <-chan streamResult) streamResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
		return streamResult{}
	}
}

func lastMessage(t *testing.T, r streamResult) *pb.StreamResponse {
	t.Helper()
	require.NotEmpty(t, r.msgs)
	return r.msgs[len(r.msgs)-1]
}

func errorReason(t *testing.T, err error) string {
	t.Helper()
	st, ok := status.FromError(err)
	require.True(t, ok)
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.streams)
	assert.NotNil(t, gw.interrupts)
	assert.Nil(t, gw.store, "no store without decision_log.path")
	assert.IsType(t, &backend.Echo{}, gw.backend)
	assert.Equal(t, 2, gw.admission.Capacity())
}

func TestGatewayNew_UnsupportedBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Kind = "llama"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llama")
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not shutdown in time")
	}

	// Later calls return the first result.
	assert.NoError(t, gw.Shutdown(context.Background()))
}

func TestHealthEndpoints(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready (0/2 streams)", string(body))
}

func TestReadyEndpoint_Draining(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	gw.admission.Drain()

	rec := httptest.NewRecorder()
	gw.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "draining", rec.Body.String())
}

func TestGRPCHealth(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	health := healthpb.NewHealthClient(dial(t, cfg.Server.GRPCAddr))
	for _, svc := range []string{"", pb.ServiceName} {
		resp, err := health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
		require.NoError(t, err, svc)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus(), svc)
	}
}

// A client built from voice.proto with the stock protobuf runtime and no
// content-subtype must interoperate with the gateway.
func TestGenericProtobufClient(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)
	conn := dial(t, cfg.Server.GRPCAddr)
	ctx := context.Background()

	field := func(m protoreflect.ProtoMessage, name string) protoreflect.FieldDescriptor {
		return m.ProtoReflect().Descriptor().Fields().ByName(protoreflect.Name(name))
	}

	req := voicetest.New("StreamRequest")
	req.Set(field(req, "prompt"), protoreflect.ValueOfString("hello world"))
	req.Set(field(req, "hardware_id"), protoreflect.ValueOfString("hw1"))

	stream, err := conn.NewStream(ctx, &pb.VoiceGateway_ServiceDesc.Streams[0], pb.VoiceGateway_StreamResponses_FullMethodName)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(req))
	require.NoError(t, stream.CloseSend())

	var text strings.Builder
	var end string
	for {
		resp := voicetest.New("StreamResponse")
		err := stream.RecvMsg(resp)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		text.WriteString(resp.Get(field(resp, "text_chunk")).String())
		if resp.Has(field(resp, "end_message")) {
			end = resp.Get(field(resp, "end_message")).String()
		}
	}
	assert.Equal(t, "hello world ", text.String())
	assert.Equal(t, "stream complete", end)

	in := voicetest.New("InterruptRequest")
	in.Set(field(in, "hardware_id"), protoreflect.ValueOfString("hw1"))
	out := voicetest.New("InterruptResponse")
	require.NoError(t, conn.Invoke(ctx, pb.VoiceGateway_InterruptSession_FullMethodName, in, out))
	assert.True(t, out.Get(field(out, "success")).Bool())
	assert.Equal(t, "no active sessions", out.Get(field(out, "message")).String())

	// The hand-written client decodes the same bytes the runtime produced.
	raw, err := proto.Marshal(out)
	require.NoError(t, err)
	var typed pb.InterruptResponse
	require.NoError(t, typed.UnmarshalWire(raw))
	assert.Equal(t, "no active sessions", typed.GetMessage())
}

func TestStreamResponses_JSONCodec(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)
	client := pb.NewVoiceGatewayClient(dial(t, cfg.Server.GRPCAddr))

	stream, err := client.StreamResponses(context.Background(), &pb.StreamRequest{
		Prompt:     "hello world",
		HardwareId: "hw1",
	}, pb.UseJSON())
	require.NoError(t, err)

	msgs, err := recvAll(stream)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello ", msgs[0].GetTextChunk())
	assert.Equal(t, "world ", msgs[1].GetTextChunk())
	assert.Equal(t, "stream complete", msgs[2].GetEndMessage())

	_, err = client.InterruptSession(context.Background(), &pb.InterruptRequest{}, pb.UseJSON())
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestStreamResponses_Echo(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)
	client := pb.NewVoiceGatewayClient(dial(t, cfg.Server.GRPCAddr))

	stream, err := client.StreamResponses(context.Background(), &pb.StreamRequest{
		Prompt:     "hello big world",
		HardwareId: "hw1",
	})
	require.NoError(t, err)

	msgs, err := recvAll(stream)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	var text strings.Builder
	for _, m := range msgs[:3] {
		text.WriteString(m.GetTextChunk())
	}
	assert.Equal(t, "hello big world ", text.String())
	assert.Equal(t, "stream complete", msgs[3].GetEndMessage())
}

func TestStreamResponses_Validation(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)
	client := pb.NewVoiceGatewayClient(dial(t, cfg.Server.GRPCAddr))

	r := await(t, openStream(t, client, &pb.StreamRequest{Prompt: "hi"}))

	require.Error(t, r.err)
	assert.Equal(t, codes.InvalidArgument, status.Code(r.err))
	assert.Equal(t, "validation_failed", errorReason(t, r.err))
	assert.True(t, strings.HasPrefix(lastMessage(t, r).GetErrorMessage(), "validation_failed"))
}

// Two slots: A and B admitted, C denied, A completes, D admitted.
func TestStreamResponses_AdmissionScenario(t *testing.T) {
	cfg := testConfig(t)
	g := newGate()
	gw := startGateway(t, cfg, WithBackend(g))
	client := pb.NewVoiceGatewayClient(dial(t, cfg.Server.GRPCAddr))

	a := openStream(t, client, &pb.StreamRequest{Prompt: "a", HardwareId: "A"})
	b := openStream(t, client, &pb.StreamRequest{Prompt: "b", HardwareId: "B"})
	require.Eventually(t, func() bool { return gw.admission.Active() == 2 }, 5*time.Second, 5*time.Millisecond)

	c := await(t, openStream(t, client, &pb.StreamRequest{Prompt: "c", HardwareId: "C"}))
	assert.Equal(t, codes.ResourceExhausted, status.Code(c.err))
	assert.Equal(t, "stream_limit_exceeded", errorReason(t, c.err))
	assert.Len(t, c.msgs, 1)
	assert.Equal(t, 2, gw.admission.Active())

	close(g.ch("A"))
	ra := await(t, a)
	require.NoError(t, ra.err)
	assert.Equal(t, "stream complete", lastMessage(t, ra).GetEndMessage())
	require.Eventually(t, func() bool { return gw.admission.Active() == 1 }, 5*time.Second, 5*time.Millisecond)

	d := openStream(t, client, &pb.StreamRequest{Prompt: "d", HardwareId: "D"})
	require.Eventually(t, func() bool { return gw.admission.Active() == 2 }, 5*time.Second, 5*time.Millisecond)

	close(g.ch("B"))
	close(g.ch("D"))
	assert.NoError(t, await(t, b).err)
	assert.NoError(t, await(t, d).err)
}

func TestInterruptSession(t *testing.T) {
	cfg := testConfig(t)
	g := newGate()
	gw := startGateway(t, cfg, WithBackend(g))
	client := pb.NewVoiceGatewayClient(dial(t, cfg.Server.GRPCAddr))
	ctx := context.Background()

	s1 := openStream(t, client, &pb.StreamRequest{Prompt: "x", HardwareId: "hw1", SessionId: "S1"})
	require.Eventually(t, func() bool { return gw.admission.Active() == 1 }, 5*time.Second, 5*time.Millisecond)

	resp, err := client.InterruptSession(ctx, &pb.InterruptRequest{HardwareId: "hw1"})
	require.NoError(t, err)
	assert.True(t, resp.GetSuccess())
	assert.Equal(t, []string{"S1"}, resp.GetInterruptedSessions())

	// The interrupt is observed at the next unit boundary.
	g.ch("hw1") <- backend.Unit{Text: "late"}
	r := await(t, s1)
	assert.Equal(t, codes.Canceled, status.Code(r.err))
	assert.Equal(t, "interrupted", errorReason(t, r.err))
	for _, m := range r.msgs {
		assert.NotEqual(t, "late", m.GetTextChunk())
	}

	again, err := client.InterruptSession(ctx, &pb.InterruptRequest{HardwareId: "hw1"})
	require.NoError(t, err)
	assert.Empty(t, again.GetInterruptedSessions())
	assert.Equal(t, "no active sessions", again.GetMessage())

	_, err = client.InterruptSession(ctx, &pb.InterruptRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestShutdownForcesInFlightStreams(t *testing.T) {
	cfg := testConfig(t)
	g := newGate()
	gw := startGateway(t, cfg, WithBackend(g))
	client := pb.NewVoiceGatewayClient(dial(t, cfg.Server.GRPCAddr))

	s := openStream(t, client, &pb.StreamRequest{Prompt: "x", HardwareId: "hw1"})
	require.Eventually(t, func() bool { return gw.admission.Active() == 1 }, 5*time.Second, 5*time.Millisecond)

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- gw.Shutdown(context.Background()) }()

	r := await(t, s)
	assert.Equal(t, codes.Unavailable, status.Code(r.err))
	assert.Equal(t, "server_shutting_down", errorReason(t, r.err))
	assert.True(t, strings.HasPrefix(lastMessage(t, r).GetErrorMessage(), "server_shutting_down"))

	select {
	case err := <-shutdownErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	assert.Equal(t, 0, gw.admission.Active())
	assert.True(t, gw.admission.Draining())
}

func TestStatusEndpoint(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)
	client := pb.NewVoiceGatewayClient(dial(t, cfg.Server.GRPCAddr))

	stream, err := client.StreamResponses(context.Background(), &pb.StreamRequest{Prompt: "one", HardwareId: "hw1"})
	require.NoError(t, err)
	_, err = recvAll(stream)
	require.NoError(t, err)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "serving", got.Status)
	assert.False(t, got.Draining)
	assert.Equal(t, config.ProfileLow, got.Profile)
	assert.Equal(t, 2, got.Capacity)
	assert.Equal(t, 0, got.ActiveStreams)
	assert.Equal(t, int64(1), got.TotalRequests)
	assert.Zero(t, got.ErrorRate)
	assert.Equal(t, int64(1), got.Decisions["admitted"])
	assert.Equal(t, int64(1), got.Decisions["completed"])
	assert.False(t, got.DecisionLog.Persisted)
}

func TestDecisionsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.DecisionLog.Path = filepath.Join(t.TempDir(), "decisions.db")
	startGateway(t, cfg)
	client := pb.NewVoiceGatewayClient(dial(t, cfg.Server.GRPCAddr))

	stream, err := client.StreamResponses(context.Background(), &pb.StreamRequest{Prompt: "one", HardwareId: "hw1"})
	require.NoError(t, err)
	_, err = recvAll(stream)
	require.NoError(t, err)

	url := "http://" + cfg.Server.HTTPAddr + "/status/decisions?hardware_id=hw1&decision=completed"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Decisions []DecisionView `json:"decisions"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) != nil || len(body.Decisions) != 1 {
			return false
		}
		d := body.Decisions[0]
		return d.Scope == "stream" && d.Method == "StreamResponses" && d.HardwareID == "hw1"
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/status/decisions?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDecisionsEndpoint_NoStore(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	gw.handleDecisions(rec, httptest.NewRequest(http.MethodGet, "/status/decisions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketBridgeWired(t *testing.T) {
	cfg := testConfig(t)
	cfg.WebSocket.Enabled = true
	startGateway(t, cfg)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+cfg.Server.HTTPAddr+cfg.WebSocket.Path, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"prompt": "hi there", "hardware_id": "hw1"}))

	var last pb.StreamResponse
	for {
		var msg pb.StreamResponse
		require.NoError(t, conn.ReadJSON(&msg))
		last = msg
		if msg.IsTerminal() {
			break
		}
	}
	assert.Equal(t, "stream complete", last.GetEndMessage())
}

func TestRecoveryInterceptor(t *testing.T) {
	unary := RecoveryUnaryInterceptor(testLogger())
	_, err := unary(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(context.Context, any) (any, error) { panic("boom secret") })
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotContains(t, err.Error(), "secret")

	streaming := RecoveryStreamInterceptor(testLogger())
	err = streaming(nil, nil, &grpc.StreamServerInfo{FullMethod: "/x/Z"},
		func(any, grpc.ServerStream) error { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
}
