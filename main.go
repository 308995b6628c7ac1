package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"speak2type/internal/bootstrap"
	"speak2type/internal/config"
)

func main() {
	ibusMode := flag.Bool("ibus", false, "Run as an IBus engine component (started by ibus-daemon)")
	standalone := flag.Bool("standalone", false, "Run without IBus using the global shortcut and clipboard only")
	listBackends := flag.Bool("list-backends", false, "List speech backends and exit")
	settingsPath := flag.String("config", "", "Path to settings.json")
	flag.Parse()

	closeLog := setupLogging(os.Getenv("SPEAK2TYPE_LOG_LEVEL"))
	defer closeLog()

	if *ibusMode && *standalone {
		fmt.Fprintln(os.Stderr, "-ibus and -standalone are mutually exclusive")
		os.Exit(2)
	}

	cfg, err := config.Load(*settingsPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if *listBackends {
		registry, err := bootstrap.NewRegistry(cfg)
		if err != nil {
			slog.Error("Failed to create backends", "error", err)
			os.Exit(1)
		}
		for _, d := range registry.Descriptors() {
			backend, _ := registry.Lookup(d.ID)
			status := "unavailable"
			if backend.Available() {
				status = "available"
			}
			fmt.Printf("%-10s %-28s %s\n", d.ID, d.Name, status)
		}
		return
	}

	mode := bootstrap.ModeStandalone
	if *ibusMode {
		mode = bootstrap.ModeIBus
	}

	app := NewApp()
	services, err := bootstrap.Build(cfg, bootstrap.Options{Mode: mode, Events: app})
	if err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}
	if services.IBus != nil {
		app.attach(services.IBus)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("speak2type started", "ibus", *ibusMode, "backend", services.Registry.CurrentID())
	if err := services.Run(ctx); err != nil {
		slog.Error("Engine stopped", "error", err)
		closeLog()
		os.Exit(1)
	}
	slog.Info("speak2type stopped")
}

// setupLogging installs the default logger: a text handler writing to
// ~/.cache/speak2type/engine.log, tee'd to stderr when it is a terminal.
func setupLogging(level string) func() {
	var writers []io.Writer
	closer := func() {}

	if dir, err := os.UserCacheDir(); err == nil {
		dir = filepath.Join(dir, appName)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			file, err := os.OpenFile(filepath.Join(dir, "engine.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err == nil {
				writers = append(writers, file)
				closer = func() { _ = file.Close() }
			}
		}
	}
	if len(writers) == 0 || isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		writers = append(writers, os.Stderr)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(handler))
	return closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
