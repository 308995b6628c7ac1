package usecase

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"speak2type/internal/domain"
)

const (
	noticeNoBackend = "No speech backend configured"
	noticeFailed    = "Transcription failed"
)

func (c *Controller) enable() {
	if c.enabled {
		return
	}
	c.enabled = true
	c.markReleased()
	c.transition(domain.StateIdle, domain.ReasonEnabled)
}

func (c *Controller) disable() {
	if !c.enabled {
		return
	}
	if c.session != nil && c.state == domain.StateRecording {
		_ = c.pipeline.EndBuffering()
	}
	c.limitGen++
	c.clearAbsorb()
	c.session = nil
	c.enabled = false
	c.transition(domain.StateIdle, domain.ReasonDisabled)
}

func (c *Controller) shutdown() {
	if !c.enabled {
		return
	}
	c.disable()
	if c.hotkey != nil {
		c.hotkey.Stop()
	}
	if err := c.pipeline.Teardown(); err != nil {
		slog.Warn("audio pipeline teardown failed", "error", err)
	}
}

func (c *Controller) canStart() bool {
	return c.enabled && c.state == domain.StateIdle && c.session == nil && !c.sensitive
}

func (c *Controller) handleKey(ev domain.KeyEvent) bool {
	if !c.enabled {
		return false
	}
	keycode := domain.NormalizeKeycode(ev.Keycode)
	if keycode == c.chord.Keycode() || (c.absorbing && keycode == c.absorbKeycode) {
		c.lastChordAt = time.Now()
	}

	if c.absorbing && keycode == c.absorbKeycode {
		if ev.Released {
			c.clearAbsorb()
			c.markReleased()
			if c.state == domain.StateRecording && !c.toggling() {
				c.stopRecording(domain.ReasonTranscribing)
			}
			return true
		}
		c.countRepeat()
		return true
	}

	if ev.Released {
		if keycode == c.chord.Keycode() {
			c.markReleased()
			if c.state == domain.StateRecording && !c.toggling() {
				c.stopRecording(domain.ReasonTranscribing)
				return true
			}
		}
		return false
	}

	if !c.chord.Matches(keycode, ev.Modifiers) {
		return false
	}

	// Chord presses never reach the application, even when they cannot start
	// a session.
	if c.canStart() {
		if !c.physicallyReleased {
			slog.Debug("chord press ignored until the key is physically released")
			return true
		}
		c.startSession(domain.SourceLocal)
		return true
	}
	if c.toggling() && c.state == domain.StateRecording && c.physicallyReleased {
		c.toggleStop(keycode)
		return true
	}
	c.countRepeat()
	return true
}

func (c *Controller) toggling() bool {
	return c.session != nil && c.session.mode == domain.RecordToggle
}

// toggleStop ends a toggle-mode recording on a fresh chord press. The press
// is absorbed like a session start so its repeats and release stay swallowed.
func (c *Controller) toggleStop(keycode uint32) {
	c.rearmGen++
	c.physicallyReleased = false
	c.absorb(keycode)
	c.stopRecording(domain.ReasonTranscribing)
}

func (c *Controller) panelToggle(start bool) {
	if !start {
		if c.toggling() && c.state == domain.StateRecording {
			c.stopRecording(domain.ReasonTranscribing)
		}
		return
	}
	if c.recordMode != domain.RecordToggle {
		slog.Debug("panel toggle ignored in push-to-talk mode")
		return
	}
	if c.canStart() {
		c.startSession(domain.SourcePanel)
	}
}

func (c *Controller) markReleased() {
	c.rearmGen++
	c.physicallyReleased = true
}

// settleRelease re-arms local starts once the chord keycode has been quiet
// for the absorb window. A release seen while the session was alive does
// not count on its own: auto-repeat may still be in flight when a short
// session ends.
func (c *Controller) settleRelease() {
	c.rearmGen++
	gen := c.rearmGen
	wait := c.cfg.AbsorbTimeout - time.Since(c.lastChordAt)
	if wait <= 0 {
		c.physicallyReleased = true
		return
	}
	c.after(wait, func() {
		if gen != c.rearmGen || c.physicallyReleased {
			return
		}
		c.settleRelease()
	})
}

func (c *Controller) countRepeat() {
	if c.session != nil && c.state == domain.StateRecording {
		c.session.repeats++
	}
}

func (c *Controller) portalActivated() {
	if c.canStart() {
		c.startSession(domain.SourcePortal)
		return
	}
	// While absorbing, the local stream already saw this physical press.
	if c.toggling() && c.state == domain.StateRecording && !c.absorbing {
		c.toggleStop(c.session.chord.Keycode())
		return
	}
	slog.Debug("portal press ignored", "state", c.state, "session", c.session != nil)
}

func (c *Controller) portalDeactivated() {
	if c.session == nil || c.state != domain.StateRecording {
		return
	}
	if c.toggling() {
		if c.absorbing {
			c.armAbsorbTimeout()
		}
		return
	}
	c.stopRecording(domain.ReasonTranscribing)
}

func (c *Controller) startSession(source domain.KeySource) {
	backend, ok := c.backends.Current()
	c.session = &pttSession{
		id:         uuid.NewString(),
		source:     source,
		chord:      c.chord,
		mode:       c.recordMode,
		started:    time.Now(),
		backend:    backend,
		hasBackend: ok,
	}
	if source != domain.SourcePanel {
		c.rearmGen++
		c.physicallyReleased = false
		c.absorb(c.chord.Keycode())
	}
	c.pipeline.BeginBuffering()
	c.armLimit()

	slog.Info("recording started", "session", c.session.id, "source", source, "mode", c.session.mode)
	c.transition(domain.StateRecording, domain.ReasonRecordingStarted)
}

func (c *Controller) stopRecording(reason domain.StateReason) {
	session := c.session
	session.released = true
	c.limitGen++

	segment := c.pipeline.EndBuffering()
	if c.absorbing {
		c.armAbsorbTimeout()
	}
	c.transition(domain.StateTranscribing, reason)

	if segment.Empty() || segment.Duration() < c.cfg.MinSegment {
		slog.Info("recording produced no usable audio", "session", session.id, "audio", segment.Duration())
		c.events.Error(domain.ErrorCodeNoAudio, "no audio captured")
		c.finish(domain.StateIdle, domain.ReasonNoAudio)
		return
	}

	if !session.hasBackend {
		c.showNotice(noticeNoBackend)
		c.events.Error(domain.ErrorCodeNoBackend, "select a speech backend to enable dictation")
		c.transition(domain.StateError, domain.ReasonNoBackend)
		c.finish(domain.StateIdle, domain.ReasonNoBackend)
		return
	}

	err := c.worker.Submit(transcriptionJob{
		sessionID: session.id,
		backend:   session.backend,
		segment:   segment,
		locale:    c.locale,
		opts:      c.cfg.Transcribe,
	})
	if err != nil {
		c.fail(domain.ErrorCodeBackendFailed, err.Error())
	}
}

// abandon drops the current recording without transcribing it. Absorption
// stays on so the still-held chord does not leak.
func (c *Controller) abandon() {
	if c.session == nil || c.state != domain.StateRecording {
		return
	}
	c.limitGen++
	_ = c.pipeline.EndBuffering()
	if c.absorbing {
		c.armAbsorbTimeout()
	}
	slog.Info("recording abandoned", "session", c.session.id)
	c.finish(domain.StateIdle, domain.ReasonRecordingAbandoned)
}

func (c *Controller) abandonLocal() {
	if c.session != nil && c.session.source == domain.SourceLocal {
		c.abandon()
	}
}

func (c *Controller) handleFault(err error) {
	slog.Error("audio stream failed", "error", err)
	c.events.Error(domain.ErrorCodeAudioStream, err.Error())
	c.abandon()
}

func (c *Controller) handleCompletion(completion Completion) {
	if c.session == nil || c.session.id != completion.SessionID || c.state != domain.StateTranscribing {
		slog.Debug("discarding result for a finished session", "session", completion.SessionID)
		return
	}

	result := completion.Result
	if result.Failed() {
		slog.Warn("transcription failed", "session", completion.SessionID, "error", result.Err)
		c.fail(result.Err.Code, result.Err.Reason)
		return
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		c.finish(domain.StateIdle, domain.ReasonNoTranscript)
		return
	}

	slog.Info("transcription ready", "session", completion.SessionID, "elapsed", completion.Elapsed, "chars", len(text))
	c.transition(domain.StateCommitting, domain.ReasonCommitting)
	reason := c.committer.Commit(c.runCtx, text, c.focused, c.session.repeats)
	c.finish(domain.StateIdle, reason)
}

func (c *Controller) fail(code domain.ErrorCode, detail string) {
	c.showNotice(noticeFailed)
	c.events.Error(code, detail)
	c.transition(domain.StateError, domain.ReasonTranscriptionFailed)
	c.finish(domain.StateIdle, domain.ReasonTranscriptionFailed)
}

func (c *Controller) finish(state domain.EngineState, reason domain.StateReason) {
	c.session = nil
	if c.physicallyReleased {
		c.physicallyReleased = false
		c.settleRelease()
	}
	c.transition(state, reason)
}

func (c *Controller) transition(state domain.EngineState, reason domain.StateReason) {
	c.state = state
	c.publish()
	c.events.StateChanged(state, reason)
}

func (c *Controller) absorb(keycode uint32) {
	c.absorbGen++
	c.absorbing = true
	c.absorbKeycode = keycode
}

func (c *Controller) clearAbsorb() {
	c.absorbGen++
	c.absorbing = false
	c.absorbKeycode = 0
}

// armAbsorbTimeout clears absorption if no physical release arrives in time.
// It does not mark the key released: auto-repeat may still be running.
func (c *Controller) armAbsorbTimeout() {
	c.absorbGen++
	gen := c.absorbGen
	c.after(c.cfg.AbsorbTimeout, func() {
		if gen != c.absorbGen || !c.absorbing {
			return
		}
		slog.Debug("absorb window expired without a physical release")
		c.clearAbsorb()
	})
}

func (c *Controller) armLimit() {
	c.limitGen++
	gen := c.limitGen
	c.after(c.cfg.MaxRecording, func() {
		if gen != c.limitGen || c.state != domain.StateRecording {
			return
		}
		slog.Warn("recording limit reached", "limit", c.cfg.MaxRecording)
		c.stopRecording(domain.ReasonRecordingLimit)
	})
}

func (c *Controller) showNotice(text string) {
	c.notice = text
	c.noticeGen++
	gen := c.noticeGen
	c.events.Notice(text)
	c.after(c.cfg.NoticeTTL, func() {
		if gen != c.noticeGen {
			return
		}
		c.notice = ""
		c.events.Notice("")
		c.publish()
	})
}

func (c *Controller) publish() {
	status := domain.Status{
		State:   c.state,
		Enabled: c.enabled,
		Active:  c.session != nil,
		Chord:   c.chord.String(),
		Mode:    c.recordMode,
		Message: c.notice,
	}
	if c.backends != nil {
		if backend, ok := c.backends.Current(); ok {
			status.Backend = backend.Descriptor().ID
		}
	}

	c.statusMu.Lock()
	c.status = status
	c.statusMu.Unlock()
}
