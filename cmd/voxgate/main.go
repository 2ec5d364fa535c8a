// Command voxgate joins a conversation with a remote voice agent and runs a
// duplex voice session until it ends or the process is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/voice"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK          = 0
	exitInit        = 1
	exitStartFailed = 2
	exitSessionLost = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload log level and turn-taking timings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return exitInit
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxgate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitInit
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg,
		app.WithLevelVar(&level),
		app.WithMetricsHandler(tel.MetricsHandler),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitInit
	}

	if *watch {
		w, err := config.NewWatcher(*configPath, application.ApplyConfigDiff)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg)

	err = application.Run(ctx)

	var se *voice.StartError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		slog.Info("voxgate stopped")
		return exitOK
	case errors.As(err, &se):
		fmt.Fprintf(os.Stderr, "voxgate: %s\n", se.Reason())
		slog.Error("voice session could not start", "kind", se.Kind, "err", se.Err)
		return exitStartFailed
	case errors.Is(err, app.ErrSessionRejected):
		fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		slog.Error("voice session rejected", "err", err)
		return exitStartFailed
	case errors.Is(err, app.ErrSessionLost):
		slog.Error("voice session lost", "err", err)
		return exitSessionLost
	default:
		slog.Error("run error", "err", err)
		return exitInit
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxgate startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Service", cfg.Channel.BaseURL)
	printRow("Conversation", cfg.Session.ConversationID)
	printRow("Agent", cfg.Session.AgentID)
	auth := "static token"
	if cfg.Auth.OAuth != nil {
		auth = "oauth2"
	}
	printRow("Auth", auth)
	printRow("Capture", cfg.Audio.Capture.Driver+":"+cfg.Audio.Capture.Path)
	printRow("Render", cfg.Audio.Render.Driver+":"+cfg.Audio.Render.Path)
	printRow("Transcript", cfg.Transcript.OutputPath)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 21 {
		value = string([]rune(value)[:20]) + "…"
	}
	fmt.Printf("║  %-12s : %-21s ║\n", label, value)
}
