// Package config handles configuration loading for voice-gateway.
//
// # Layers
//
// A configuration is built in three layers, later layers winning:
//
//  1. Profile defaults (backpressure.profile: low, medium or high)
//  2. The config file, YAML or TOML by extension
//  3. Environment variables VOICE_GATEWAY_<SECTION>_<KEY>
//
// Profiles:
//
//	profile  streams  idle   msg/s  grace
//	low      10       300s   10     10s
//	medium   50       300s   20     30s
//	high     200      300s   50     60s
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from VOICE_GATEWAY_CONFIG
//  2. $XDG_CONFIG_HOME/voice-gateway/gateway.yaml
//  3. ~/.config/voice-gateway/gateway.yaml
//
// When none exists, Default() is used with environment overrides applied.
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// # Environment Overrides
//
//	VOICE_GATEWAY_BACKPRESSURE_PROFILE=high
//	VOICE_GATEWAY_BACKPRESSURE_MAX_CONCURRENT_STREAMS=120
//	VOICE_GATEWAY_SERVER_GRPC_ADDR=0.0.0.0:50051
//	VOICE_GATEWAY_LOGGING_FORMAT=json
//
// # Durations
//
// reaper_interval and backend.chunk_delay use time.ParseDuration syntax
// ("5s", "150ms"). The backpressure timeouts are whole seconds.
package config
