package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speak2type/internal/bootstrap"
	"speak2type/internal/config"
	"speak2type/internal/server"
)

func main() {
	addr := flag.String("addr", ":8000", "Listen address")
	backendID := flag.String("backend", "", "Backend to serve (defaults to the configured one, then the first available)")
	settingsPath := flag.String("config", "", "Path to settings.json")
	timeout := flag.Duration("timeout", 2*time.Minute, "Per-request transcription timeout")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load(*settingsPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	registry, err := bootstrap.NewRegistry(cfg)
	if err != nil {
		slog.Error("Failed to create backends", "error", err)
		os.Exit(1)
	}

	id := *backendID
	if id == "" {
		id = cfg.Engine.Backend
	}
	if id == "" {
		if available := registry.AvailableIDs(); len(available) > 0 {
			id = available[0]
		}
	}
	if id == "" {
		slog.Warn("No speech backend available; requests will fail until one is configured")
	} else if err := registry.Select(id); err != nil {
		slog.Error("Failed to select backend", "backend", id, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.New(registry, *timeout).Run(ctx, *addr); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
