package ports

import (
	"context"
	"io"

	"speak2type/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	SourceKind  string
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session producing s16le PCM.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioPipeline keeps a capture stream alive for the enabled period and
// toggles buffering on demand. Accept and EndBuffering are called from the
// controller loop only.
type AudioPipeline interface {
	Setup(ctx context.Context) error
	Teardown() error
	BeginBuffering()
	EndBuffering() *domain.AudioSegment
	Accept(frame []byte)
	Frames() <-chan []byte
	Faults() <-chan error
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
	Language       string
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// StreamingProvider starts streaming transcription sessions.
type StreamingProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// TranscribeOptions are per-call hints passed through to a backend.
type TranscribeOptions struct {
	Timestamps bool
	Prompt     string
}

// Backend turns one audio segment into a transcript. Recoverable failures are
// reported through TranscriptResult.Err, never as panics.
type Backend interface {
	Descriptor() domain.BackendDescriptor
	Available() bool
	Transcribe(ctx context.Context, segment *domain.AudioSegment, localeHint string, opts TranscribeOptions) domain.TranscriptResult
}

// BackendSource exposes the currently selected backend.
type BackendSource interface {
	Current() (Backend, bool)
}

// TextInserter commits text at the focused input context.
type TextInserter interface {
	Insert(text string) error
}

// Clipboard hands text to the system clipboard and, when possible, pastes it.
// leaked is the number of stray characters to select over before pasting.
type Clipboard interface {
	Deliver(ctx context.Context, text string, leaked int) error
}

// HotkeyHandler receives global shortcut notifications.
type HotkeyHandler interface {
	PortalActivated()
	PortalDeactivated()
}

// HotkeySession is a focus-independent global shortcut binding.
type HotkeySession interface {
	Start(ctx context.Context, chord domain.KeyChord, handler HotkeyHandler)
	Rebind(chord domain.KeyChord)
	Stop()
	State() domain.HotkeyState
}

// EventSink reports engine state to the user-facing surface.
type EventSink interface {
	StateChanged(state domain.EngineState, reason domain.StateReason)
	Notice(text string)
	Committed(route domain.CommitRoute, text string)
	Error(code domain.ErrorCode, detail string)
}
