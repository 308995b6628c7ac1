package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Settings is the user-editable settings.json. Empty fields fall back to the
// environment and built-in defaults.
type Settings struct {
	PTTHotkey      string `json:"ptt_hotkey"`
	Backend        string `json:"backend"`
	Locale         string `json:"locale"`
	RecordMode     string `json:"record_mode"`
	AudioSource    string `json:"audio_source"`
	AudioDevice    string `json:"audio_device"`
	HTTPEndpoint   string `json:"http_endpoint"`
	HTTPDialect    string `json:"http_dialect"`
	HTTPAuthHeader string `json:"http_auth_header"`
	HTTPModel      string `json:"http_model"`
	WhisperBinary  string `json:"whisper_binary"`
	WhisperModel   string `json:"whisper_model"`
	DeepgramModel  string `json:"deepgram_model"`
}

// ReadSettings parses the settings file. A missing file yields zero Settings.
func ReadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return settings, nil
}

// Watch reloads the settings file whenever it changes and calls apply with
// the new contents. It watches the parent directory so editors that replace
// the file are seen. Unparseable files are logged and skipped. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, path string, apply func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	slog.Debug("watching settings file", "path", path)

	last, _ := ReadSettings(path)
	// Editors emit bursts of events per save.
	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			settle.Reset(50 * time.Millisecond)

		case <-settle.C:
			next, err := ReadSettings(path)
			if err != nil {
				slog.Warn("ignoring settings change", "error", err)
				continue
			}
			if next == last {
				continue
			}
			last = next
			slog.Info("settings changed", "path", path)
			apply(next)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("settings watcher error", "error", err)
		}
	}
}
