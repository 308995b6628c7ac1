package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"speak2type/internal/audio"
	"speak2type/internal/backends"
	"speak2type/internal/commit"
	"speak2type/internal/config"
	"speak2type/internal/domain"
	"speak2type/internal/hotkey"
	"speak2type/internal/ibus"
	"speak2type/internal/ports"
	"speak2type/internal/providers/deepgram"
	"speak2type/internal/providers/httpapi"
	"speak2type/internal/providers/whispercpp"
	"speak2type/internal/usecase"
)

// Mode selects how the engine receives keys.
type Mode int

const (
	// ModeStandalone has no IBus connection; the global shortcut is the only
	// key source and text always goes through the clipboard.
	ModeStandalone Mode = iota
	// ModeIBus serves the engine factory on the ibus-daemon bus.
	ModeIBus
)

// Options are the runtime collaborators chosen by main.
type Options struct {
	Mode   Mode
	Events ports.EventSink
	// dialIBus is replaced in tests.
	dialIBus func(ibus.Config) (*ibus.Service, error)
}

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Mode       Mode
	Registry   *backends.Registry
	Pipeline   *audio.Pipeline
	Hotkey     *hotkey.Session
	IBus       *ibus.Service
	Controller *usecase.Controller
}

// Build wires all dependencies for the current runtime.
func Build(cfg config.Config, opts Options) (*Services, error) {
	if opts.Events == nil {
		return nil, errors.New("event sink is required")
	}

	registry, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Engine.Backend != "" {
		if err := registry.Select(cfg.Engine.Backend); err != nil {
			slog.Warn("configured backend is not usable", "backend", cfg.Engine.Backend, "error", err)
		}
	}

	chord, err := domain.ParseAccelerator(cfg.Engine.PTTHotkey)
	if err != nil {
		slog.Warn("invalid push-to-talk hotkey, using default", "hotkey", cfg.Engine.PTTHotkey, "error", err)
		chord = domain.DefaultChord
	}

	pipeline := audio.NewPipeline(newCapture(cfg.Audio), audio.PipelineConfig{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			SourceKind:  cfg.Audio.Source,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		ChunkSize:   cfg.Audio.ChunkSize,
		MaxBuffered: cfg.Engine.MaxRecording,
	})

	events := opts.Events
	shortcuts := hotkey.NewSession(hotkey.Config{
		AppID:        cfg.Hotkey.AppID,
		RegisterHost: cfg.Hotkey.RegisterHost,
		ProviderShim: cfg.Hotkey.ProviderShim,
		OnDegraded: func(reason string) {
			events.Error(domain.ErrorCodeHotkeyUnavailable, reason)
		},
	})

	clipboard := commit.New(commit.Config{
		SessionType: cfg.Commit.SessionType,
		Paste:       cfg.Commit.Paste,
	})

	deps := usecase.Deps{
		Pipeline:  pipeline,
		Backends:  registry,
		Hotkey:    shortcuts,
		Clipboard: clipboard,
		Events:    events,
	}

	services := &Services{
		Config:   cfg,
		Mode:     opts.Mode,
		Registry: registry,
		Pipeline: pipeline,
		Hotkey:   shortcuts,
	}

	if opts.Mode == ModeIBus {
		dial := opts.dialIBus
		if dial == nil {
			dial = ibus.Dial
		}
		svc, err := dial(ibus.Config{RequestName: true})
		if err != nil {
			return nil, fmt.Errorf("failed to join ibus: %w", err)
		}
		services.IBus = svc
		deps.Inserter = svc
	}

	services.Controller = usecase.NewController(deps, usecase.Config{
		Chord:         chord,
		Locale:        cfg.Engine.Locale,
		RecordMode:    domain.ParseRecordMode(cfg.Engine.RecordMode),
		AbsorbTimeout: cfg.Engine.AbsorbTimeout,
		NoticeTTL:     cfg.Engine.NoticeTTL,
		MinSegment:    cfg.Engine.MinSegment,
		MaxRecording:  cfg.Engine.MaxRecording,
	})
	services.showModeLabel(domain.ParseRecordMode(cfg.Engine.RecordMode), chord)
	return services, nil
}

// NewRegistry registers every built-in backend and seals the registry.
func NewRegistry(cfg config.Config) (*backends.Registry, error) {
	httpBackend, err := httpapi.New(httpapi.Config{
		Endpoint:       cfg.HTTP.Endpoint,
		Dialect:        httpapi.Dialect(cfg.HTTP.Dialect),
		AuthHeader:     cfg.HTTP.AuthHeader,
		Model:          cfg.HTTP.Model,
		Timeout:        cfg.HTTP.Timeout,
		MaxRetries:     cfg.HTTP.MaxRetries,
		RetryBaseDelay: cfg.HTTP.RetryBaseDelay,
		EnableHTTP2:    cfg.HTTP.EnableHTTP2,
	})
	if err != nil {
		return nil, fmt.Errorf("http backend: %w", err)
	}

	registry := backends.NewRegistry()
	for _, backend := range []ports.Backend{
		httpBackend,
		whispercpp.New(whispercpp.Config{
			Binary:  cfg.Whisper.Binary,
			Model:   cfg.Whisper.Model,
			Threads: cfg.Whisper.Threads,
		}),
		deepgram.New(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}),
	} {
		if err := registry.Register(backend); err != nil {
			return nil, err
		}
	}
	registry.Seal()
	return registry, nil
}

func newCapture(cfg config.AudioConfig) ports.AudioCapture {
	if cfg.Capture == "portaudio" {
		return audio.NewPortAudioCapture()
	}
	return audio.NewCommandCapture(cfg.RecorderCommand, cfg.PWRecordCommand)
}

// Run drives the controller, the settings watcher and the key source until
// ctx is done. In standalone mode dictation is enabled immediately.
func (s *Services) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Controller.Run(ctx) })

	g.Go(func() error {
		err := config.Watch(ctx, s.Config.SettingsPath, func(settings config.Settings) {
			s.ApplySettings(ctx, settings)
		})
		if err != nil {
			slog.Warn("settings hot reload disabled", "error", err)
		}
		return nil
	})

	if s.IBus != nil {
		g.Go(func() error { return s.IBus.Serve(ctx, s.Controller) })
	} else {
		// The controller loop disables itself on shutdown.
		g.Go(func() error {
			if err := s.Controller.Enable(ctx); err != nil {
				return fmt.Errorf("failed to enable dictation: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// ApplySettings applies a changed settings file. Only the hotkey, record
// mode, backend and locale are hot-reloadable; they take effect for the next
// session. An invalid hotkey keeps the current chord.
func (s *Services) ApplySettings(ctx context.Context, settings config.Settings) {
	status := s.Controller.Status()
	mode := status.Mode
	chord, err := domain.ParseAccelerator(status.Chord)
	if err != nil {
		chord = domain.DefaultChord
	}

	if settings.Backend != "" && settings.Backend != s.Registry.CurrentID() {
		if err := s.Registry.Select(settings.Backend); err != nil {
			slog.Warn("selected backend is not usable", "backend", settings.Backend, "error", err)
		}
	}

	if settings.Locale != "" {
		s.Controller.SetLocale(settings.Locale)
	}

	if settings.RecordMode != "" {
		mode = domain.ParseRecordMode(settings.RecordMode)
		s.Controller.SetRecordMode(mode)
	}

	if settings.PTTHotkey != "" {
		next, err := domain.ParseAccelerator(settings.PTTHotkey)
		if err == nil {
			err = s.Controller.SetChord(ctx, next)
		}
		if err != nil {
			slog.Warn("keeping previous push-to-talk hotkey", "hotkey", settings.PTTHotkey, "error", err)
		} else {
			chord = next
		}
	}

	s.showModeLabel(mode, chord)
}

func (s *Services) showModeLabel(mode domain.RecordMode, chord domain.KeyChord) {
	if s.IBus == nil {
		return
	}
	if err := s.IBus.SetModeLabel(ibus.ModeLabel(mode, chord)); err != nil {
		slog.Debug("failed to update record mode indicator", "error", err)
	}
}
