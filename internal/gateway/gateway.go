// ABOUTME: Gateway orchestrator that wires the streaming core to gRPC and HTTP servers
// ABOUTME: Owns listeners (TCP or tsnet), the idle reaper and the ordered shutdown sequence

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/voice-gateway/internal/backend"
	"github.com/2389/voice-gateway/internal/backpressure"
	"github.com/2389/voice-gateway/internal/config"
	"github.com/2389/voice-gateway/internal/decisionlog"
	"github.com/2389/voice-gateway/internal/interrupt"
	"github.com/2389/voice-gateway/internal/metrics"
	"github.com/2389/voice-gateway/internal/session"
	"github.com/2389/voice-gateway/internal/shutdown"
	"github.com/2389/voice-gateway/internal/store"
	"github.com/2389/voice-gateway/internal/stream"
	"github.com/2389/voice-gateway/internal/telemetry"
	"github.com/2389/voice-gateway/internal/wsbridge"
	pb "github.com/2389/voice-gateway/proto/voice"
)

// Gateway orchestrates the voice-gateway server components.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	backend    backend.Generator
	meter      metric.Meter
	store      *store.SQLiteStore
	decisions  *decisionlog.Writer
	metrics    *metrics.Aggregator
	registry   *session.Registry
	admission  *backpressure.Manager
	tracker    *shutdown.Tracker
	streams    *stream.Coordinator
	interrupts *interrupt.Coordinator
	drain      *shutdown.Coordinator

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server

	startedAt  time.Time
	reaperCtx  context.Context
	stopReaper context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithBackend replaces the configured generation backend.
func WithBackend(gen backend.Generator) Option {
	return func(g *Gateway) { g.backend = gen }
}

// WithMeter replaces the global OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(g *Gateway) { g.meter = m }
}

// newBackend builds the backend named by cfg.Kind.
func newBackend(cfg config.BackendConfig) (backend.Generator, error) {
	switch cfg.Kind {
	case "", "echo":
		return &backend.Echo{ChunkDelay: cfg.ChunkDelay, Audio: cfg.Audio}, nil
	default:
		return nil, fmt.Errorf("unsupported backend kind %q", cfg.Kind)
	}
}

// initStore opens the decision store when a path is configured.
func initStore(cfg config.DecisionLogConfig, logger *slog.Logger) (*store.SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s.WithLogger(logger.With("component", "store")), nil
}

// createGRPCServer creates the gRPC server with keepalive, tracing and the
// recovery/logging interceptors.
func createGRPCServer(logger *slog.Logger) *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(logger),
			LoggingUnaryInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			RecoveryStreamInterceptor(logger),
			LoggingStreamInterceptor(logger),
		),
	)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.reaperCtx, g.stopReaper = context.WithCancel(context.Background())

	if g.backend == nil {
		gen, err := newBackend(cfg.Backend)
		if err != nil {
			return nil, err
		}
		g.backend = gen
	}
	if g.meter == nil {
		g.meter = telemetry.Meter()
	}

	s, err := initStore(cfg.DecisionLog, logger)
	if err != nil {
		return nil, err
	}
	g.store = s

	var persist decisionlog.Store
	if s != nil {
		persist = s
	}
	g.decisions = decisionlog.New(logger.With("component", "decisions"), persist, cfg.DecisionLog.QueueSize)

	g.metrics, err = metrics.NewAggregator(g.meter)
	if err != nil {
		g.closeStorage()
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	g.registry = session.NewRegistry(logger.With("component", "sessions"))
	g.admission = backpressure.NewManager(backpressure.Params{
		Config: backpressure.Config{
			MaxConcurrentStreams: cfg.Backpressure.MaxConcurrentStreams,
			MaxMessageRate:       cfg.Backpressure.MaxMessageRatePerSecond,
			IdleTimeout:          cfg.Backpressure.IdleTimeout(),
			ReaperInterval:       cfg.Backpressure.ReaperInterval,
		},
		Registry:  g.registry,
		Decisions: g.decisions,
		Metrics:   g.metrics,
		Logger:    logger.With("component", "backpressure"),
	})
	g.tracker = shutdown.NewTracker()
	g.streams = stream.NewCoordinator(stream.Params{
		Admission:          g.admission,
		Registry:           g.registry,
		Backend:            g.backend,
		Tracker:            g.tracker,
		Decisions:          g.decisions,
		Metrics:            g.metrics,
		Logger:             logger,
		MaxScreenshotBytes: cfg.Limits.MaxScreenshotBytes,
	})
	g.interrupts = interrupt.NewCoordinator(g.registry, g.decisions, g.metrics, logger.With("component", "interrupt"))

	if _, err := g.meter.Int64ObservableGauge("voice_gateway.active_streams",
		metric.WithDescription("Streams currently holding an admission slot"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(g.admission.Active()))
			return nil
		}),
	); err != nil {
		g.closeStorage()
		return nil, fmt.Errorf("creating active streams gauge: %w", err)
	}

	g.healthServer = health.NewServer()
	g.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.healthServer.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)

	g.drain = shutdown.NewCoordinator(shutdown.Params{
		Admission: g.admission,
		Tracker:   g.tracker,
		Grace:     cfg.Backpressure.GracePeriod(),
		Snapshot:  g.metrics.Snapshot,
		Decisions: g.decisions,
		Logger:    logger.With("component", "shutdown"),
		OnDrain:   []func(){g.healthServer.Shutdown},
	})

	g.grpcServer = createGRPCServer(logger.With("component", "grpc"))
	pb.RegisterVoiceGatewayServer(g.grpcServer, newVoiceGatewayServer(g.streams, g.interrupts, logger.With("component", "grpc")))
	healthpb.RegisterHealthServer(g.grpcServer, g.healthServer)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/status", g.handleStatus)
	mux.HandleFunc("/status/decisions", g.handleDecisions)
	if cfg.WebSocket.Enabled {
		bridge := &wsbridge.Handler{
			Streams:    g.streams,
			Interrupts: g.interrupts,
			Logger:     logger.With("component", "wsbridge"),
			ReadLimit:  int64(cfg.Limits.MaxScreenshotBytes)*2 + 64<<10,
		}
		bridge.Register(mux, cfg.WebSocket.Path)
		g.logger.Info("websocket bridge enabled", "path", cfg.WebSocket.Path)
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
		"profile", g.config.Backpressure.Profile,
		"max_concurrent_streams", g.config.Backpressure.MaxConcurrentStreams,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
				"grpc_addr", g.config.Server.GRPCAddr,
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// Run starts the servers and the idle reaper and blocks until ctx is
// canceled or a server fails, then runs the shutdown sequence.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.admission.Run(g.reaperCtx)
		return nil
	})

	eg.Go(func() error {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context bounded by the
// grace period plus the force wait. The caller's context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	budget := g.config.Backpressure.GracePeriod() + shutdown.DefaultForceWait + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "voice-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeStorage flushes the decision writer, then closes the store.
func (g *Gateway) closeStorage() error {
	if g.decisions != nil {
		g.decisions.Close()
	}
	if g.store != nil {
		return g.store.Close()
	}
	return nil
}

// Shutdown drains in-flight streams within the grace period, stops the
// servers and releases resources. Only the first call has an effect.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "active_streams", g.admission.Active())

	report := g.drain.Shutdown(ctx)

	var errs []error
	g.shutdownGRPCServer(ctx)
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.stopReaper()
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.closeStorage())

	g.logger.Info("gateway stopped",
		"forced", report.Forced,
		"remaining", report.Remaining,
		"elapsed", report.Elapsed,
	)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
