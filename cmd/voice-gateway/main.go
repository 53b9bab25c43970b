// ABOUTME: Entry point for the voice-gateway streaming server and its client commands
// ABOUTME: Cobra root command, config loading and the serve/init commands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/voice-gateway/internal/config"
	"github.com/2389/voice-gateway/internal/gateway"
	"github.com/2389/voice-gateway/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
             _                          _
 __   _____ (_) ___ ___        __ _  __ _| |_ _____      ____ _ _   _
 \ \ / / _ \| |/ __/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
  \ V / (_) | | (_|  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
   \_/ \___/|_|\___\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                              |___/                             |___/
`

var configPath string

var rootCmd = &cobra.Command{
	Use:           "voice-gateway",
	Short:         "Streaming gateway between voice devices and a generation backend",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $VOICE_GATEWAY_CONFIG or ~/.config/voice-gateway/gateway.yaml)")

	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")

	rootCmd.AddCommand(serveCmd, initCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config named by --config, or the default location.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Profile:   %s (%d streams, %d msg/s)\n",
		cfg.Backpressure.Profile, cfg.Backpressure.MaxConcurrentStreams, cfg.Backpressure.MaxMessageRatePerSecond)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.WebSocket.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("WebSocket: %s\n", cfg.WebSocket.Path)
	}
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		yellow.Print("    ▶ ")
		fmt.Println("Tracing:   disabled")
	}
	fmt.Println()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	logger.Info("starting voice-gateway",
		"version", version,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"profile", cfg.Backpressure.Profile,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configPath
		if path == "" {
			path = config.ResolvePath()
		}
		if err := config.WriteDefault(path, initForce); err != nil {
			return err
		}
		color.New(color.FgGreen).Print("✓ ")
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}
