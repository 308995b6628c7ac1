package domain

import (
	"fmt"
	"time"
)

// EngineState models the push-to-talk lifecycle.
type EngineState string

const (
	StateIdle         EngineState = "idle"
	StateRecording    EngineState = "recording"
	StateTranscribing EngineState = "transcribing"
	StateCommitting   EngineState = "committing"
	StateError        EngineState = "error"
)

// StateReason provides a structured reason for state transitions.
type StateReason string

const (
	ReasonEnabled             StateReason = "enabled"
	ReasonDisabled            StateReason = "disabled"
	ReasonRecordingStarted    StateReason = "recording_started"
	ReasonTranscribing        StateReason = "transcribing"
	ReasonCommitting          StateReason = "committing"
	ReasonRecordingLimit      StateReason = "recording_limit"
	ReasonRecordingAbandoned  StateReason = "recording_abandoned"
	ReasonTextInserted        StateReason = "text_inserted"
	ReasonTextCopied          StateReason = "text_copied"
	ReasonNoTranscript        StateReason = "no_transcript"
	ReasonNoAudio             StateReason = "no_audio"
	ReasonNoBackend           StateReason = "no_backend"
	ReasonTranscriptionFailed StateReason = "transcription_failed"
)

// ErrorCode identifies the user-facing error taxonomy.
type ErrorCode string

const (
	ErrorCodeNoBackend         ErrorCode = "no_backend_configured"
	ErrorCodeBackendFailed     ErrorCode = "backend_transcription_failed"
	ErrorCodeNoAudio           ErrorCode = "no_audio_captured"
	ErrorCodeHotkeyUnavailable ErrorCode = "hotkey_session_unavailable"
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodeAudioStream       ErrorCode = "audio_stream"
	ErrorCodeCommit            ErrorCode = "commit"
)

// TranscriptError is the typed failure carried by a TranscriptResult.
type TranscriptError struct {
	Code   ErrorCode `json:"code"`
	Reason string    `json:"reason,omitempty"`
}

func (e *TranscriptError) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// TranscriptSegment is an optional timed span of a transcript.
type TranscriptSegment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// TranscriptResult is what a backend returns for one audio segment. A failed
// result never carries text.
type TranscriptResult struct {
	Text     string              `json:"text"`
	Language string              `json:"language,omitempty"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
	Err      *TranscriptError    `json:"error,omitempty"`
}

// FailedResult builds an error-tagged result.
func FailedResult(code ErrorCode, reason string) TranscriptResult {
	return TranscriptResult{Err: &TranscriptError{Code: code, Reason: reason}}
}

// Failed reports whether the result carries an error tag.
func (r TranscriptResult) Failed() bool {
	return r.Err != nil
}

// Capability is a bitset describing what a backend can do.
type Capability uint8

const (
	CapabilityOffline Capability = 1 << iota
	CapabilityNetwork
	CapabilityStreaming
	CapabilityTimestamps
)

func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// BackendDescriptor identifies a registered backend.
type BackendDescriptor struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Capabilities Capability `json:"capabilities"`
}

// HotkeyState is the lifecycle of the global shortcut session.
type HotkeyState string

const (
	HotkeyUnbound    HotkeyState = "unbound"
	HotkeyRequesting HotkeyState = "requesting"
	HotkeyBound      HotkeyState = "bound"
	HotkeyDegraded   HotkeyState = "degraded"
)

// CommitRoute says where committed text went.
type CommitRoute string

const (
	CommitInsert    CommitRoute = "insert"
	CommitClipboard CommitRoute = "clipboard"
)

// ContentPurpose mirrors the input purpose reported by the focused client.
type ContentPurpose uint32

const (
	PurposeFreeForm ContentPurpose = 0
	PurposePassword ContentPurpose = 8
	PurposePin      ContentPurpose = 9
)

// Sensitive reports whether dictation must be blocked for this purpose.
func (p ContentPurpose) Sensitive() bool {
	return p == PurposePassword || p == PurposePin
}

// RecordMode selects how the chord drives a recording: push-to-talk records
// while the chord is held, toggle starts on one press and stops on the next.
type RecordMode string

const (
	RecordPushToTalk RecordMode = "push_to_talk"
	RecordToggle     RecordMode = "toggle"
)

// ParseRecordMode accepts the settings spelling; anything else is push-to-talk.
func ParseRecordMode(value string) RecordMode {
	if RecordMode(value) == RecordToggle {
		return RecordToggle
	}
	return RecordPushToTalk
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental output from a streaming provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// Status summarizes the current runtime status.
type Status struct {
	State   EngineState `json:"state"`
	Enabled bool        `json:"enabled"`
	Active  bool        `json:"active"`
	Chord   string      `json:"chord"`
	Mode    RecordMode  `json:"mode"`
	Backend string      `json:"backend,omitempty"`
	Message string      `json:"message,omitempty"`
}
