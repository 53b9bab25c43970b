// ABOUTME: Client commands that talk to a running gateway over HTTP and gRPC
// ABOUTME: interrupt and stream speak protobuf by default, JSON with --json

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	pb "github.com/2389/voice-gateway/proto/voice"
)

var (
	grpcAddrFlag string
	httpAddrFlag string

	hardwareID string
	sessionID  string
	prompt     string
	screenshot string
	timeout    time.Duration
	useJSON    bool
)

func init() {
	for _, c := range []*cobra.Command{healthCmd, statusCmd} {
		c.Flags().StringVar(&httpAddrFlag, "http-addr", "", "gateway HTTP address (default from config)")
	}
	for _, c := range []*cobra.Command{interruptCmd, streamCmd} {
		c.Flags().StringVar(&grpcAddrFlag, "grpc-addr", "", "gateway gRPC address (default from config)")
		c.Flags().StringVar(&hardwareID, "hardware-id", "", "device identifier")
		c.Flags().BoolVar(&useJSON, "json", false, "use the JSON codec instead of protobuf")
		_ = c.MarkFlagRequired("hardware-id")
	}
	streamCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt text")
	streamCmd.Flags().StringVar(&sessionID, "session-id", "", "suggested session id")
	streamCmd.Flags().StringVar(&screenshot, "screenshot", "", "path to a screenshot to attach")
	streamCmd.Flags().DurationVar(&timeout, "timeout", 0, "overall call timeout (0 = none)")
	_ = streamCmd.MarkFlagRequired("prompt")

	rootCmd.AddCommand(healthCmd, statusCmd, interruptCmd, streamCmd)
}

func httpAddr() (string, error) {
	if httpAddrFlag != "" {
		return httpAddrFlag, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Server.HTTPAddr, nil
}

func callOptions() []grpc.CallOption {
	if useJSON {
		return []grpc.CallOption{pb.UseJSON()}
	}
	return nil
}

func dialGateway() (*grpc.ClientConn, error) {
	addr := grpcAddrFlag
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.Server.GRPCAddr
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

func getHTTP(ctx context.Context, path string) (*http.Response, error) {
	addr, err := httpAddr()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return http.DefaultClient.Do(req)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gateway health and readiness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := getHTTP(cmd.Context(), "/health/ready")
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, body)
		}
		color.New(color.FgGreen).Print("✓ ")
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the gateway status as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := getHTTP(cmd.Context(), "/status")
		if err != nil {
			return fmt.Errorf("status request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status request failed: status %d", resp.StatusCode)
		}

		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decoding status: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	},
}

var interruptCmd = &cobra.Command{
	Use:   "interrupt",
	Short: "Interrupt every active session of a device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		conn, err := dialGateway()
		if err != nil {
			return err
		}
		defer conn.Close()

		resp, err := pb.NewVoiceGatewayClient(conn).InterruptSession(cmd.Context(), &pb.InterruptRequest{HardwareId: hardwareID}, callOptions()...)
		if err != nil {
			return describeStatus(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.GetMessage())
		for _, id := range resp.GetInterruptedSessions() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
		}
		return nil
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Send a prompt and print the streamed response",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := &pb.StreamRequest{
			Prompt:     prompt,
			HardwareId: hardwareID,
			SessionId:  sessionID,
		}
		if screenshot != "" {
			data, err := os.ReadFile(screenshot)
			if err != nil {
				return fmt.Errorf("reading screenshot: %w", err)
			}
			req.Screenshot = data
		}

		conn, err := dialGateway()
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx := cmd.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		stream, err := pb.NewVoiceGatewayClient(conn).StreamResponses(ctx, req, callOptions()...)
		if err != nil {
			return describeStatus(err)
		}
		return printStream(cmd.OutOrStdout(), cmd.ErrOrStderr(), stream)
	},
}

// printStream writes text chunks to out as they arrive and everything else to
// errOut. It returns the call's status error, if any.
func printStream(out, errOut io.Writer, stream pb.VoiceGateway_StreamResponsesClient) error {
	gray := color.New(color.FgHiBlack)
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return describeStatus(err)
		}

		switch {
		case msg.TextChunk != nil:
			fmt.Fprint(out, msg.GetTextChunk())
		case msg.AudioChunk != nil:
			a := msg.GetAudioChunk()
			gray.Fprintf(errOut, "[audio %d bytes %s %dHz x%d]\n", len(a.AudioData), a.Dtype, a.SampleRate, a.Channels)
		case msg.EndMessage != nil:
			fmt.Fprintln(out)
			color.New(color.FgGreen).Fprintf(errOut, "✓ %s\n", msg.GetEndMessage())
		case msg.ErrorMessage != nil:
			fmt.Fprintln(out)
			color.New(color.FgRed).Fprintf(errOut, "✗ %s\n", msg.GetErrorMessage())
		}
	}
}

// describeStatus renders a gRPC status error as "CODE: message".
func describeStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return fmt.Errorf("%s: %s", st.Code(), st.Message())
}
