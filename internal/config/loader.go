package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr        = ":9090"
	DefaultKeepaliveInterval = 20 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultFallbackDelay     = 3 * time.Second
	DefaultSafetyMargin      = 800 * time.Millisecond
	DefaultPreRoll           = 120 * time.Millisecond
	DefaultEndSendTimeout    = 2 * time.Second
	DefaultMaxAttempts       = 3
	DefaultBackoff           = time.Second
	DefaultMaxBackoff        = 10 * time.Second
	DefaultDriver            = "pcmfile"
	DefaultCaptureRate       = 16000
)

// Load reads the YAML configuration file at path, applies defaults and
// returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Channel.KeepaliveInterval == 0 {
		cfg.Channel.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.Channel.DialTimeout == 0 {
		cfg.Channel.DialTimeout = DefaultDialTimeout
	}

	tt := &cfg.TurnTaking
	if tt.FallbackDelay == 0 {
		tt.FallbackDelay = DefaultFallbackDelay
	}
	if tt.SafetyMargin == 0 {
		tt.SafetyMargin = DefaultSafetyMargin
	}
	if tt.PreRoll == 0 {
		tt.PreRoll = DefaultPreRoll
	}
	if tt.EndSendTimeout == 0 {
		tt.EndSendTimeout = DefaultEndSendTimeout
	}

	for _, d := range []*DeviceEntry{&cfg.Audio.Capture, &cfg.Audio.Render} {
		if d.Driver == "" {
			d.Driver = DefaultDriver
		}
	}
	if cfg.Audio.Capture.SampleRate == 0 {
		cfg.Audio.Capture.SampleRate = DefaultCaptureRate
	}
	if cfg.Audio.Capture.Channels == 0 {
		cfg.Audio.Capture.Channels = 1
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Retry.Backoff == 0 {
		cfg.Retry.Backoff = DefaultBackoff
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = DefaultMaxBackoff
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Channel
	if cfg.Channel.BaseURL == "" {
		errs = append(errs, errors.New("channel.base_url is required"))
	} else if u, err := url.Parse(cfg.Channel.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("channel.base_url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("channel.base_url scheme %q is invalid; valid values: ws, wss, http, https", u.Scheme))
	}
	if cfg.Channel.KeepaliveInterval < 0 {
		errs = append(errs, errors.New("channel.keepalive_interval must not be negative"))
	}
	if cfg.Channel.DialTimeout < 0 {
		errs = append(errs, errors.New("channel.dial_timeout must not be negative"))
	}

	// Auth
	switch o := cfg.Auth.OAuth; {
	case o == nil && cfg.Auth.Token == "":
		errs = append(errs, errors.New("auth: one of auth.token or auth.oauth is required"))
	case o != nil && cfg.Auth.Token != "":
		errs = append(errs, errors.New("auth: auth.token and auth.oauth are mutually exclusive"))
	case o != nil:
		if o.ClientID == "" {
			errs = append(errs, errors.New("auth.oauth.client_id is required"))
		}
		if o.TokenURL == "" {
			errs = append(errs, errors.New("auth.oauth.token_url is required"))
		}
	}

	// Session
	if cfg.Session.ConversationID == "" {
		errs = append(errs, errors.New("session.conversation_id is required"))
	}
	if cfg.Session.AgentID == "" {
		slog.Warn("session.agent_id is empty; the voice service will pick its default agent")
	}

	// Turn-taking
	tt := cfg.TurnTaking
	for name, d := range map[string]time.Duration{
		"fallback_delay":   tt.FallbackDelay,
		"safety_margin":    tt.SafetyMargin,
		"pre_roll":         tt.PreRoll,
		"end_send_timeout": tt.EndSendTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("turn_taking.%s must not be negative", name))
		}
	}
	if tt.PreRoll > time.Second {
		slog.Warn("turn_taking.pre_roll above one second delays every reply noticeably", "pre_roll", tt.PreRoll)
	}

	// Audio
	if cfg.Audio.Capture.Path == "" {
		errs = append(errs, errors.New("audio.capture.path is required"))
	}
	if cfg.Audio.Render.Path == "" {
		errs = append(errs, errors.New("audio.render.path is required"))
	}
	if cfg.Audio.Capture.SampleRate < 0 {
		errs = append(errs, errors.New("audio.capture.sample_rate must not be negative"))
	}
	if c := cfg.Audio.Capture.Channels; c < 0 || c > 2 {
		errs = append(errs, fmt.Errorf("audio.capture.channels %d is out of range [1, 2]", c))
	}

	// Retry
	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if cfg.Retry.Backoff < 0 || cfg.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("retry.backoff and retry.max_backoff must not be negative"))
	}
	if cfg.Retry.MaxBackoff > 0 && cfg.Retry.Backoff > cfg.Retry.MaxBackoff {
		errs = append(errs, fmt.Errorf("retry.backoff %v exceeds retry.max_backoff %v", cfg.Retry.Backoff, cfg.Retry.MaxBackoff))
	}

	return errors.Join(errs...)
}
