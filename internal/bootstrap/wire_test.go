package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"speak2type/internal/config"
	"speak2type/internal/domain"
	"speak2type/internal/ibus"
)

func TestBuildStandalone(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Engine.Backend = "http"

	services, err := Build(cfg, Options{Events: noopEventSink{}})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Controller == nil || services.IBus != nil {
		t.Fatalf("unexpected services %+v", services)
	}
	if got := services.Registry.CurrentID(); got != "http" {
		t.Fatalf("expected http backend selected, got %q", got)
	}
	ids := []string{}
	for _, d := range services.Registry.Descriptors() {
		ids = append(ids, d.ID)
	}
	if len(ids) != 3 || ids[0] != "http" || ids[1] != "whisper" || ids[2] != "deepgram" {
		t.Fatalf("unexpected registered backends %v", ids)
	}
	if got := services.Controller.Status().Chord; got != "<Alt>space" {
		t.Fatalf("unexpected chord %q", got)
	}
}

func TestBuildKeepsRunningWithUnusableBackendAndHotkey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Engine.Backend = "whisper"
	cfg.Engine.PTTHotkey = "space"

	services, err := Build(cfg, Options{Events: noopEventSink{}})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if got := services.Registry.CurrentID(); got != "" {
		t.Fatalf("unavailable backend must not be selected, got %q", got)
	}
	if got := services.Controller.Status().Chord; got != domain.DefaultChord.String() {
		t.Fatalf("expected default chord, got %q", got)
	}
}

func TestBuildRejectsInvalidHTTPEndpoint(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HTTP.Endpoint = "http://stt.example.com"
	cfg.HTTP.AuthHeader = "Bearer secret"

	if _, err := Build(cfg, Options{Events: noopEventSink{}}); err == nil {
		t.Fatalf("expected clear-text credentials to be refused")
	}
}

func TestBuildIBusDialFailure(t *testing.T) {
	t.Parallel()

	_, err := Build(testConfig(), Options{
		Mode:   ModeIBus,
		Events: noopEventSink{},
		dialIBus: func(ibus.Config) (*ibus.Service, error) {
			return nil, ibus.ErrNoAddress
		},
	})
	if !errors.Is(err, ibus.ErrNoAddress) {
		t.Fatalf("expected ibus dial error, got %v", err)
	}
}

func TestApplySettings(t *testing.T) {
	t.Parallel()

	services, err := Build(testConfig(), Options{Events: noopEventSink{}})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = services.Controller.Run(ctx) }()

	services.ApplySettings(ctx, config.Settings{PTTHotkey: "<Ctrl>space", Backend: "http", Locale: "fr_FR"})
	waitFor(t, func() bool {
		status := services.Controller.Status()
		return status.Chord == "<Ctrl>space" && status.Backend == "http"
	})

	// An invalid hotkey keeps the previous chord.
	services.ApplySettings(ctx, config.Settings{PTTHotkey: "space"})
	time.Sleep(20 * time.Millisecond)
	if got := services.Controller.Status().Chord; got != "<Ctrl>space" {
		t.Fatalf("expected previous chord to survive, got %q", got)
	}

	services.ApplySettings(ctx, config.Settings{RecordMode: "toggle"})
	waitFor(t, func() bool { return services.Controller.Status().Mode == domain.RecordToggle })
}

func testConfig() config.Config {
	return config.Config{
		Engine: config.EngineConfig{
			PTTHotkey:  "<Alt>space",
			Locale:     "en_US",
			MinSegment: 200 * time.Millisecond,
		},
		Audio: config.AudioConfig{
			Capture:    "command",
			SampleRate: 16000,
			Channels:   1,
			ChunkSize:  4096,
		},
		HTTP: config.HTTPConfig{
			Endpoint: "http://127.0.0.1:8080",
			Dialect:  "generic",
		},
		Whisper: config.WhisperConfig{Binary: "whisper-cli"},
		Hotkey:  config.HotkeyConfig{AppID: "ibus-setup-speak2type"},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

type noopEventSink struct{}

func (noopEventSink) StateChanged(domain.EngineState, domain.StateReason) {}
func (noopEventSink) Notice(string)                                       {}
func (noopEventSink) Committed(domain.CommitRoute, string)                {}
func (noopEventSink) Error(domain.ErrorCode, string)                      {}
