// Command oculo runs the streaming voice+vision client.
//
// Audio is piped: the microphone PCM stream (mono 16-bit LE, 24 kHz) is read
// from stdin and synthesised speech is written to stdout, so the binary
// composes with platform audio tools:
//
//	arecord -f S16_LE -r 24000 -c 1 | oculo -config config.yaml | aplay -f S16_LE -r 24000 -c 1
//
// The camera is a snapshot file refreshed by an external process (e.g. an
// mjpeg grabber); each vision query reads its latest content.
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

	"github.com/joho/godotenv"

	"github.com/oculo-ai/oculo/internal/app"
	"github.com/oculo-ai/oculo/internal/config"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	cameraPath := flag.String("camera", "", "path to the camera snapshot file (JPEG, refreshed externally)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("oculo", version)
		return 0
	}

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "oculo: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "oculo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs go to stderr; stdout carries the PCM stream.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("oculo starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Devices ───────────────────────────────────────────────────────────────
	capture := newStdinCapture(os.Stdin)
	go capture.run(ctx)

	devices := &app.Devices{
		Capture: capture,
		Sink:    newStdoutSink(os.Stdout),
	}
	if *cameraPath != "" {
		devices.Frames = &fileFrameSource{path: *cameraPath}
	} else {
		slog.Warn("no -camera flag given, vision queries will be apologised")
	}

	printStartupSummary(cfg, *cameraPath)

	application, err := app.New(ctx, cfg, devices,
		app.WithConfigPath(*configPath),
		app.WithLogLevel(level),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("client ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, cameraPath string) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║           Oculo — startup summary     ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printRow("Speech model", cfg.Realtime.Model)
	printRow("Voice", cfg.Realtime.Voice)
	printRow("Turn detection", cfg.Realtime.TurnDetection.Mode)
	printRow("Language", cfg.Router.Language)
	for i, p := range cfg.Vision.Providers {
		label := "Vision"
		if i > 0 {
			label = fmt.Sprintf("Vision #%d", i+1)
		}
		printRow(label, p.Name+" / "+p.Model)
	}
	if len(cfg.Vision.Providers) == 0 {
		printRow("Vision", "(not configured)")
	}
	if cameraPath != "" {
		printRow("Camera", cameraPath)
	} else {
		printRow("Camera", "(not attached)")
	}
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics addr", cfg.Server.MetricsAddr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-14s  : %-19s ║\n", kind, value)
}
