// Package config provides the configuration schema, loader, and audio device
// registry for voxgate.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for voxgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Channel    ChannelConfig    `yaml:"channel"`
	Auth       AuthConfig       `yaml:"auth"`
	Session    SessionConfig    `yaml:"session"`
	TurnTaking TurnTakingConfig `yaml:"turn_taking"`
	Audio      AudioConfig      `yaml:"audio"`
	Retry      RetryConfig      `yaml:"retry"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds the ops HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics endpoints
	// (e.g., ":9090"). Empty disables the ops server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ChannelConfig locates the remote voice agent.
type ChannelConfig struct {
	// BaseURL is the ws:// or wss:// root of the voice service. The session
	// endpoint is {base_url}/ws/voice/{conversation_id}.
	BaseURL string `yaml:"base_url"`

	// KeepaliveInterval is the WebSocket ping period.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// AuthConfig supplies the bearer credential presented to the voice service.
type AuthConfig struct {
	// Token is a static bearer token. Mutually exclusive with OAuth.
	Token string `yaml:"token"`

	// OAuth configures the client-credentials flow for obtaining tokens
	// dynamically. When set, Token must be empty.
	OAuth *OAuthConfig `yaml:"oauth"`
}

// OAuthConfig configures the OAuth 2 client-credentials flow.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// SessionConfig identifies the conversation to join.
type SessionConfig struct {
	ConversationID string `yaml:"conversation_id"`

	// AgentID selects the remote agent persona. Optional.
	AgentID string `yaml:"agent_id"`
}

// TurnTakingConfig holds the microphone gating timings. Zero values are
// replaced by [ApplyDefaults].
type TurnTakingConfig struct {
	FallbackDelay  time.Duration `yaml:"fallback_delay"`
	SafetyMargin   time.Duration `yaml:"safety_margin"`
	PreRoll        time.Duration `yaml:"pre_roll"`
	EndSendTimeout time.Duration `yaml:"end_send_timeout"`
}

// AudioConfig selects the capture and render devices.
type AudioConfig struct {
	Capture DeviceEntry `yaml:"capture"`
	Render  DeviceEntry `yaml:"render"`
}

// DeviceEntry is the configuration block shared by capture and render
// devices. Driver is used to look up the constructor in the [Registry].
type DeviceEntry struct {
	// Driver selects the registered device implementation (e.g., "pcmfile").
	Driver string `yaml:"driver"`

	// Path is the file the device reads from or writes to.
	Path string `yaml:"path"`

	// SampleRate and Channels describe the raw PCM a capture file holds.
	// Ignored by render devices, which are always opened with the agent's
	// output format.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Realtime paces capture at the wall-clock rate of the audio.
	Realtime bool `yaml:"realtime"`

	// Options holds driver-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// RetryConfig bounds how often session start is retried after a connection
// failure.
type RetryConfig struct {
	// MaxAttempts is the total number of start attempts, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is the delay before the second attempt. It doubles after each
	// failure, capped at MaxBackoff.
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// TranscriptConfig controls where the finished transcript is written.
type TranscriptConfig struct {
	// OutputPath receives the consolidated transcript as YAML when the
	// session ends. Empty disables the export.
	OutputPath string `yaml:"output_path"`
}
