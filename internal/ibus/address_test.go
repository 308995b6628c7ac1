package ibus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveAddressPrefersEnvironment(t *testing.T) {
	t.Parallel()

	getenv := func(key string) string {
		if key == "IBUS_ADDRESS" {
			return " unix:path=/tmp/ibus-env "
		}
		return ""
	}
	addr, err := resolveAddress(getenv, t.TempDir())
	if err != nil || addr != "unix:path=/tmp/ibus-env" {
		t.Fatalf("unexpected address %q err %v", addr, err)
	}
}

func TestResolveAddressReadsNewestFile(t *testing.T) {
	t.Parallel()

	configDir := t.TempDir()
	dir := filepath.Join(configDir, "ibus", "bus")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	old := filepath.Join(dir, "old-unix-0")
	current := filepath.Join(dir, "current-unix-0")
	writeFile(t, old, "# ibus\nIBUS_ADDRESS=unix:path=/tmp/old\nIBUS_DAEMON_PID=1\n")
	writeFile(t, current, "# ibus\nIBUS_ADDRESS=unix:path=/tmp/current\nIBUS_DAEMON_PID=2\n")

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	addr, err := resolveAddress(func(string) string { return "" }, configDir)
	if err != nil || addr != "unix:path=/tmp/current" {
		t.Fatalf("unexpected address %q err %v", addr, err)
	}
}

func TestResolveAddressMissing(t *testing.T) {
	t.Parallel()

	noEnv := func(string) string { return "" }
	if _, err := resolveAddress(noEnv, ""); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
	if _, err := resolveAddress(noEnv, t.TempDir()); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress for empty config dir, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "bus")
	writeFile(t, path, "IBUS_DAEMON_PID=3\n")
	if _, err := readAddressFile(path); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress for file without address, got %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
