// ABOUTME: Configuration loading and parsing for voice-gateway
// ABOUTME: Profile defaults, YAML or TOML file with ${VAR} expansion, then VOICE_GATEWAY_* env overrides

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOICE_GATEWAY_"

// Profile names.
const (
	ProfileLow    = "low"
	ProfileMedium = "medium"
	ProfileHigh   = "high"
)

// DefaultProfile is used when no profile is configured.
const DefaultProfile = ProfileMedium

// ErrUnknownProfile is returned for a profile name outside low|medium|high.
var ErrUnknownProfile = errors.New("unknown backpressure profile")

// Config represents the complete voice-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Backpressure BackpressureConfig `yaml:"backpressure" toml:"backpressure" envPrefix:"BACKPRESSURE_"`
	Limits       LimitsConfig       `yaml:"limits" toml:"limits" envPrefix:"LIMITS_"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" toml:"telemetry" envPrefix:"TELEMETRY_"`
	DecisionLog  DecisionLogConfig  `yaml:"decision_log" toml:"decision_log" envPrefix:"DECISION_LOG_"`
	WebSocket    WebSocketConfig    `yaml:"websocket" toml:"websocket" envPrefix:"WEBSOCKET_"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale" envPrefix:"TAILSCALE_"`
	Backend      BackendConfig      `yaml:"backend" toml:"backend" envPrefix:"BACKEND_"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr" env:"GRPC_ADDR"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
}

// BackpressureConfig holds admission limits. Zero values in a file mean
// "unset" only for the profile; explicit values always win.
type BackpressureConfig struct {
	Profile                 string `yaml:"profile" toml:"profile" env:"PROFILE"`
	MaxConcurrentStreams    int    `yaml:"max_concurrent_streams" toml:"max_concurrent_streams" env:"MAX_CONCURRENT_STREAMS"`
	IdleTimeoutSeconds      int    `yaml:"idle_timeout_seconds" toml:"idle_timeout_seconds" env:"IDLE_TIMEOUT_SECONDS"`
	MaxMessageRatePerSecond int    `yaml:"max_message_rate_per_second" toml:"max_message_rate_per_second" env:"MAX_MESSAGE_RATE_PER_SECOND"`
	GracePeriodSeconds      int    `yaml:"grace_period_seconds" toml:"grace_period_seconds" env:"GRACE_PERIOD_SECONDS"`

	ReaperInterval    time.Duration `yaml:"-" toml:"-"`
	ReaperIntervalRaw string        `yaml:"reaper_interval" toml:"reaper_interval" env:"REAPER_INTERVAL"`
}

// IdleTimeout returns the idle timeout as a duration.
func (b BackpressureConfig) IdleTimeout() time.Duration {
	return time.Duration(b.IdleTimeoutSeconds) * time.Second
}

// GracePeriod returns the shutdown grace period as a duration.
func (b BackpressureConfig) GracePeriod() time.Duration {
	return time.Duration(b.GracePeriodSeconds) * time.Second
}

// LimitsConfig bounds request payloads.
type LimitsConfig struct {
	MaxScreenshotBytes int `yaml:"max_screenshot_bytes" toml:"max_screenshot_bytes" env:"MAX_SCREENSHOT_BYTES"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// TelemetryConfig enables OTLP trace export when OTLPEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
}

// DecisionLogConfig controls persistence of decision log entries.
// An empty Path keeps decisions in the log output only.
type DecisionLogConfig struct {
	Path      string `yaml:"path" toml:"path" env:"PATH"`
	QueueSize int    `yaml:"queue_size" toml:"queue_size" env:"QUEUE_SIZE"`
}

// WebSocketConfig controls the WebSocket bridge on the HTTP server.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" toml:"path" env:"PATH"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Hostname  string `yaml:"hostname" toml:"hostname" env:"HOSTNAME"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" env:"AUTH_KEY"`
	StateDir  string `yaml:"state_dir" toml:"state_dir" env:"STATE_DIR"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral" env:"EPHEMERAL"`
}

// BackendConfig selects the generation backend.
type BackendConfig struct {
	Kind  string `yaml:"kind" toml:"kind" env:"KIND"`
	Audio bool   `yaml:"audio" toml:"audio" env:"AUDIO"`

	ChunkDelay    time.Duration `yaml:"-" toml:"-"`
	ChunkDelayRaw string        `yaml:"chunk_delay" toml:"chunk_delay" env:"CHUNK_DELAY"`
}

type profileLimits struct {
	streams, idleSeconds, rate, graceSeconds int
}

var profiles = map[string]profileLimits{
	ProfileLow:    {streams: 10, idleSeconds: 300, rate: 10, graceSeconds: 10},
	ProfileMedium: {streams: 50, idleSeconds: 300, rate: 20, graceSeconds: 30},
	ProfileHigh:   {streams: 200, idleSeconds: 300, rate: 50, graceSeconds: 60},
}

// Profiles returns the known profile names, lowest first.
func Profiles() []string {
	return []string{ProfileLow, ProfileMedium, ProfileHigh}
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg, _ := ForProfile(DefaultProfile)
	return cfg
}

// ForProfile returns the defaults with the named profile's limits.
func ForProfile(profile string) (*Config, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	p, ok := profiles[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}

	cfg := &Config{
		Server: ServerConfig{
			GRPCAddr: "127.0.0.1:50051",
			HTTPAddr: "127.0.0.1:8080",
		},
		Backpressure: BackpressureConfig{
			Profile:                 profile,
			MaxConcurrentStreams:    p.streams,
			IdleTimeoutSeconds:      p.idleSeconds,
			MaxMessageRatePerSecond: p.rate,
			GracePeriodSeconds:      p.graceSeconds,
			ReaperIntervalRaw:       "5s",
			ReaperInterval:          5 * time.Second,
		},
		Limits: LimitsConfig{
			MaxScreenshotBytes: 10 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voice-gateway",
		},
		DecisionLog: DecisionLogConfig{
			QueueSize: 1024,
		},
		WebSocket: WebSocketConfig{
			Path: "/v1/stream",
		},
		Tailscale: TailscaleConfig{
			Hostname: "voice-gateway",
		},
		Backend: BackendConfig{
			Kind:          "echo",
			ChunkDelayRaw: "0s",
		},
	}
	return cfg, nil
}

// ResolvePath returns the config file location:
// $VOICE_GATEWAY_CONFIG, then $XDG_CONFIG_HOME/voice-gateway/gateway.yaml,
// then ~/.config/voice-gateway/gateway.yaml.
func ResolvePath() string {
	home, _ := os.UserHomeDir()
	return resolvePath(os.Getenv, home)
}

func resolvePath(getenv func(string) string, home string) string {
	if p := getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "voice-gateway", "gateway.yaml")
	}
	return filepath.Join(home, ".config", "voice-gateway", "gateway.yaml")
}

// Load reads the configuration file at path. An empty path resolves the
// default location with ResolvePath; if that file does not exist, Default()
// with environment overrides is returned. An explicit path must exist.
func Load(path string) (*Config, error) {
	environ := env.ToMap(os.Environ())
	if path == "" {
		path = ResolvePath()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return load(path, environ)
}

// load builds the configuration in layers: profile defaults, the file, then
// environment overrides. The profile is read first so file values can
// override it field by field.
func load(path string, environ map[string]string) (*Config, error) {
	var (
		data   string
		decode func(string, *Config) error
	)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = expandEnvVars(string(raw), environ)
		decode = decoderFor(path)
	}

	peek := &Config{}
	if decode != nil {
		if err := decode(data, peek); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	profile := peek.Backpressure.Profile
	if v := environ[EnvPrefix+"BACKPRESSURE_PROFILE"]; v != "" {
		profile = v
	}

	cfg, err := ForProfile(profile)
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if decode != nil {
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// decoderFor picks TOML for .toml files and YAML for everything else.
func decoderFor(path string) func(string, *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return func(data string, cfg *Config) error {
			_, err := toml.Decode(data, cfg)
			return err
		}
	}
	return func(data string, cfg *Config) error {
		return yaml.Unmarshal([]byte(data), cfg)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with values from environ.
// Unset variables expand to an empty string.
func expandEnvVars(s string, environ map[string]string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return environ[envVarPattern.FindStringSubmatch(match)[1]]
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	bp := c.Backpressure
	if _, ok := profiles[bp.Profile]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, bp.Profile)
	}
	if bp.MaxConcurrentStreams <= 0 {
		return fmt.Errorf("backpressure.max_concurrent_streams must be positive")
	}
	if bp.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("backpressure.idle_timeout_seconds must not be negative")
	}
	if bp.MaxMessageRatePerSecond < 0 {
		return fmt.Errorf("backpressure.max_message_rate_per_second must not be negative")
	}
	if bp.GracePeriodSeconds < 0 {
		return fmt.Errorf("backpressure.grace_period_seconds must not be negative")
	}
	if bp.ReaperInterval <= 0 {
		return fmt.Errorf("backpressure.reaper_interval must be positive")
	}

	if c.Limits.MaxScreenshotBytes < 0 {
		return fmt.Errorf("limits.max_screenshot_bytes must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	if c.DecisionLog.QueueSize <= 0 {
		return fmt.Errorf("decision_log.queue_size must be positive")
	}

	if c.WebSocket.Enabled && !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path must start with /")
	}

	if c.Backend.Kind != "echo" {
		return fmt.Errorf("backend.kind %q is not supported", c.Backend.Kind)
	}
	if c.Backend.ChunkDelay < 0 {
		return fmt.Errorf("backend.chunk_delay must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backpressure.ReaperIntervalRaw != "" {
		cfg.Backpressure.ReaperInterval, err = time.ParseDuration(cfg.Backpressure.ReaperIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing reaper_interval %q: %w", cfg.Backpressure.ReaperIntervalRaw, err)
		}
	}

	if cfg.Backend.ChunkDelayRaw != "" {
		cfg.Backend.ChunkDelay, err = time.ParseDuration(cfg.Backend.ChunkDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing chunk_delay %q: %w", cfg.Backend.ChunkDelayRaw, err)
		}
	}

	return nil
}

// WriteDefault writes the default configuration as YAML to path, creating
// parent directories. It refuses to overwrite an existing file unless force.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# voice-gateway configuration\n")
	buf.WriteString("# Environment variables VOICE_GATEWAY_<SECTION>_<KEY> override these values.\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
