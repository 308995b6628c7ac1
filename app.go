package main

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"

	"speak2type/internal/domain"
	"speak2type/internal/ibus"
)

const (
	appName          = "speak2type"
	preeditRecording = "Recording…"
	preeditWorking   = "Transcribing…"
)

// preeditSurface is the focused input context, when there is one, and the
// input method panel.
type preeditSurface interface {
	ShowPreedit(text string) error
	ShowRecordState(state domain.EngineState) error
	Focused() bool
}

// App reports engine events to the user: as preedit in the focused input
// context, otherwise as desktop notifications.
type App struct {
	mu      sync.Mutex
	surface preeditSurface
	state   domain.EngineState
	notice  string

	// notify is only called from the delivery goroutine, never by the
	// event methods themselves.
	notify      func(title, message, icon string) error
	pending     chan string
	deliverOnce sync.Once
}

func NewApp() *App {
	return &App{state: domain.StateIdle, notify: beeep.Notify, pending: make(chan string, 16)}
}

func (a *App) attach(surface preeditSurface) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.surface = surface
}

// StateChanged updates the preedit indicator and the panel's recording
// toggle.
func (a *App) StateChanged(state domain.EngineState, reason domain.StateReason) {
	slog.Info("engine state changed", "state", state, "reason", reason, "message", reasonMessage(reason))

	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
	a.showLocked()
	if a.surface != nil {
		if err := a.surface.ShowRecordState(state); err != nil && !errors.Is(err, ibus.ErrNoFocus) {
			slog.Debug("panel update failed", "error", err)
		}
	}
}

// Notice shows a transient message. An empty text clears it.
func (a *App) Notice(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notice = text
	if a.focusedLocked() {
		a.showLocked()
		return
	}
	if text != "" {
		a.desktopNotify(text)
	}
}

func (a *App) Committed(route domain.CommitRoute, text string) {
	slog.Info("transcript committed", "route", route, "chars", len([]rune(text)))
}

func (a *App) Error(code domain.ErrorCode, detail string) {
	slog.Warn("engine error", "code", code, "detail", detail)

	switch code {
	case domain.ErrorCodeStartup, domain.ErrorCodeAudioStream, domain.ErrorCodeHotkeyUnavailable:
		a.mu.Lock()
		defer a.mu.Unlock()
		a.desktopNotify(errorMessage(code, detail))
	}
}

func (a *App) showLocked() {
	if !a.focusedLocked() {
		return
	}
	text := ""
	switch a.state {
	case domain.StateRecording:
		text = preeditRecording
	case domain.StateTranscribing, domain.StateCommitting:
		text = preeditWorking
	default:
		text = a.notice
	}
	if err := a.surface.ShowPreedit(text); err != nil {
		slog.Debug("preedit update failed", "error", err)
	}
}

func (a *App) focusedLocked() bool {
	return a.surface != nil && a.surface.Focused()
}

// desktopNotify queues message for delivery and never waits for it.
func (a *App) desktopNotify(message string) {
	if a.notify == nil {
		return
	}
	a.deliverOnce.Do(func() { go a.deliver() })
	select {
	case a.pending <- message:
	default:
		slog.Debug("desktop notification dropped, queue full", "message", message)
	}
}

func (a *App) deliver() {
	for message := range a.pending {
		if err := a.notify(appName, message, ""); err != nil {
			slog.Debug("desktop notification failed", "error", err)
		}
	}
}

func reasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonEnabled:
		return "Dictation enabled"
	case domain.ReasonDisabled:
		return "Dictation disabled"
	case domain.ReasonRecordingStarted:
		return "Recording started"
	case domain.ReasonTranscribing:
		return "Recording stopped. Transcribing..."
	case domain.ReasonCommitting:
		return "Committing transcript"
	case domain.ReasonRecordingLimit:
		return "Recording limit reached"
	case domain.ReasonRecordingAbandoned:
		return "Recording discarded"
	case domain.ReasonTextInserted:
		return "Transcript inserted"
	case domain.ReasonTextCopied:
		return "Transcript copied to clipboard"
	case domain.ReasonNoTranscript:
		return "No transcript captured"
	case domain.ReasonNoAudio:
		return "No audio captured"
	case domain.ReasonNoBackend:
		return "No speech backend configured"
	case domain.ReasonTranscriptionFailed:
		return "Transcription failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeNoBackend:
		return "No speech backend configured"
	case domain.ErrorCodeBackendFailed:
		return "Transcription failed"
	case domain.ErrorCodeNoAudio:
		return "No audio captured"
	case domain.ErrorCodeHotkeyUnavailable:
		return "Global shortcut unavailable; push-to-talk works in focused text fields only"
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAudioStream:
		return "Microphone unavailable"
	case domain.ErrorCodeCommit:
		return "Could not deliver transcript"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
