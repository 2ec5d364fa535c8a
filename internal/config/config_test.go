package config_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/audio"
	audiomock "github.com/MrWong99/voxgate/pkg/audio/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9191"
  log_level: debug

channel:
  base_url: wss://voice.example.com
  keepalive_interval: 15s
  dial_timeout: 5s

auth:
  oauth:
    client_id: voxgate
    client_secret: s3cret
    token_url: https://auth.example.com/oauth/token
    scopes: [voice]

session:
  conversation_id: conv-42
  agent_id: mira

turn_taking:
  fallback_delay: 2500ms
  safety_margin: 600ms
  pre_roll: 80ms
  end_send_timeout: 1s

audio:
  capture:
    driver: pcmfile
    path: in.pcm
    sample_rate: 48000
    channels: 2
    realtime: true
  render:
    path: out.wav

retry:
  max_attempts: 5
  backoff: 500ms
  max_backoff: 8s

transcript:
  output_path: transcript.yaml
`

// minimalYAML holds only the required fields.
const minimalYAML = `
channel:
  base_url: ws://localhost:8000
auth:
  token: abc
session:
  conversation_id: c1
  agent_id: mira
audio:
  capture:
    path: in.pcm
  render:
    path: out.wav
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	want := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":9191", LogLevel: config.LogDebug},
		Channel: config.ChannelConfig{
			BaseURL:           "wss://voice.example.com",
			KeepaliveInterval: 15 * time.Second,
			DialTimeout:       5 * time.Second,
		},
		Auth: config.AuthConfig{OAuth: &config.OAuthConfig{
			ClientID:     "voxgate",
			ClientSecret: "s3cret",
			TokenURL:     "https://auth.example.com/oauth/token",
			Scopes:       []string{"voice"},
		}},
		Session: config.SessionConfig{ConversationID: "conv-42", AgentID: "mira"},
		TurnTaking: config.TurnTakingConfig{
			FallbackDelay:  2500 * time.Millisecond,
			SafetyMargin:   600 * time.Millisecond,
			PreRoll:        80 * time.Millisecond,
			EndSendTimeout: time.Second,
		},
		Audio: config.AudioConfig{
			Capture: config.DeviceEntry{Driver: "pcmfile", Path: "in.pcm", SampleRate: 48000, Channels: 2, Realtime: true},
			Render:  config.DeviceEntry{Driver: "pcmfile", Path: "out.wav"},
		},
		Retry:      config.RetryConfig{MaxAttempts: 5, Backoff: 500 * time.Millisecond, MaxBackoff: 8 * time.Second},
		Transcript: config.TranscriptConfig{OutputPath: "transcript.yaml"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("listen_addr = %q, want empty (ops server disabled)", cfg.Server.ListenAddr)
	}
	wantTT := config.TurnTakingConfig{
		FallbackDelay:  config.DefaultFallbackDelay,
		SafetyMargin:   config.DefaultSafetyMargin,
		PreRoll:        config.DefaultPreRoll,
		EndSendTimeout: config.DefaultEndSendTimeout,
	}
	if cfg.TurnTaking != wantTT {
		t.Errorf("turn_taking = %+v, want %+v", cfg.TurnTaking, wantTT)
	}
	if cfg.Audio.Capture.Driver != config.DefaultDriver || cfg.Audio.Render.Driver != config.DefaultDriver {
		t.Errorf("drivers = %q/%q, want %q", cfg.Audio.Capture.Driver, cfg.Audio.Render.Driver, config.DefaultDriver)
	}
	if cfg.Audio.Capture.SampleRate != 16000 || cfg.Audio.Capture.Channels != 1 {
		t.Errorf("capture format = %d/%d, want 16000/1", cfg.Audio.Capture.SampleRate, cfg.Audio.Capture.Channels)
	}
	if cfg.Retry.MaxAttempts != config.DefaultMaxAttempts {
		t.Errorf("retry.max_attempts = %d, want %d", cfg.Retry.MaxAttempts, config.DefaultMaxAttempts)
	}
	if cfg.Channel.KeepaliveInterval != config.DefaultKeepaliveInterval {
		t.Errorf("keepalive_interval = %v", cfg.Channel.KeepaliveInterval)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nbogus: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxgate.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.ConversationID != "c1" {
		t.Errorf("conversation_id = %q", cfg.Session.ConversationID)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateDevices(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	var gotEntry config.DeviceEntry
	r.RegisterCapture("fake", func(e config.DeviceEntry) (audio.CaptureSource, error) {
		gotEntry = e
		return audiomock.NewCapture(1), nil
	})
	r.RegisterRender("fake", func(config.DeviceEntry) (audio.RenderSink, error) {
		return &audiomock.Render{}, nil
	})

	entry := config.DeviceEntry{Driver: "fake", Path: "mic"}
	c, err := r.CreateCapture(entry)
	if err != nil || c == nil {
		t.Fatalf("CreateCapture: %v", err)
	}
	if gotEntry.Path != "mic" {
		t.Errorf("factory got %+v", gotEntry)
	}
	if _, err := r.CreateRender(entry); err != nil {
		t.Fatalf("CreateRender: %v", err)
	}
	if _, err := c.Start(context.Background()); err != nil {
		t.Errorf("created capture unusable: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	_, err := r.CreateCapture(config.DeviceEntry{Driver: "alsa"})
	if !errors.Is(err, config.ErrDriverNotRegistered) {
		t.Errorf("CreateCapture err = %v, want ErrDriverNotRegistered", err)
	}
	_, err = r.CreateRender(config.DeviceEntry{Driver: "alsa"})
	if !errors.Is(err, config.ErrDriverNotRegistered) {
		t.Errorf("CreateRender err = %v, want ErrDriverNotRegistered", err)
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := in.SlogLevel(); got != want {
			t.Errorf("%q.SlogLevel() = %v, want %v", in, got, want)
		}
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Audio.Capture.Options["frame_duration"] != "20ms" {
		t.Errorf("capture options = %v", cfg.Audio.Capture.Options)
	}
}
