package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

var (
	ErrControllerStopped = errors.New("controller loop is not running")
	ErrAlreadyRunning    = errors.New("controller loop is already running")
)

// Config controls push-to-talk timing.
type Config struct {
	Chord      domain.KeyChord
	Locale     string
	RecordMode domain.RecordMode
	Transcribe ports.TranscribeOptions

	// AbsorbTimeout bounds how long the chord keycode stays absorbed after
	// recording stops without a physical release.
	AbsorbTimeout time.Duration
	NoticeTTL     time.Duration
	MinSegment    time.Duration
	MaxRecording  time.Duration
}

// Deps are the collaborators driven by the controller. Hotkey and Inserter
// are optional.
type Deps struct {
	Pipeline  ports.AudioPipeline
	Backends  ports.BackendSource
	Hotkey    ports.HotkeySession
	Inserter  ports.TextInserter
	Clipboard ports.Clipboard
	Events    ports.EventSink
}

// Controller is the push-to-talk state machine. All state below the inbox is
// owned by the goroutine running Run; the exported methods only post
// messages to it.
type Controller struct {
	pipeline  ports.AudioPipeline
	backends  ports.BackendSource
	hotkey    ports.HotkeySession
	events    ports.EventSink
	committer transcriptCommitter
	worker    *Worker
	cfg       Config

	inbox   chan func()
	done    chan struct{}
	running atomic.Bool
	runCtx  context.Context

	state              domain.EngineState
	enabled            bool
	session            *pttSession
	chord              domain.KeyChord
	recordMode         domain.RecordMode
	locale             string
	focused            bool
	sensitive          bool
	absorbing          bool
	absorbKeycode      uint32
	physicallyReleased bool
	lastChordAt        time.Time
	notice             string

	absorbGen uint64
	limitGen  uint64
	noticeGen uint64
	rearmGen  uint64

	statusMu sync.Mutex
	status   domain.Status
}

func NewController(deps Deps, cfg Config) *Controller {
	if cfg.Chord.IsZero() {
		cfg.Chord = domain.DefaultChord
	}
	if cfg.AbsorbTimeout <= 0 {
		cfg.AbsorbTimeout = time.Second
	}
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = 3 * time.Second
	}
	if cfg.MinSegment < 0 {
		cfg.MinSegment = 0
	}
	if cfg.MaxRecording <= 0 {
		cfg.MaxRecording = 2 * time.Minute
	}

	c := &Controller{
		pipeline:           deps.Pipeline,
		backends:           deps.Backends,
		hotkey:             deps.Hotkey,
		events:             deps.Events,
		committer:          newTranscriptCommitter(deps.Inserter, deps.Clipboard, deps.Events),
		worker:             NewWorker(),
		cfg:                cfg,
		inbox:              make(chan func(), 64),
		done:               make(chan struct{}),
		runCtx:             context.Background(),
		state:              domain.StateIdle,
		chord:              cfg.Chord,
		recordMode:         domain.ParseRecordMode(string(cfg.RecordMode)),
		locale:             cfg.Locale,
		physicallyReleased: true,
	}
	c.publish()
	return c
}

// Run owns the controller state until ctx is done. On exit an enabled
// controller is disabled and its pipeline torn down.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = workerCtx
	go c.worker.Run(workerCtx)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case fn := <-c.inbox:
			fn()
		case frame := <-c.pipeline.Frames():
			c.pipeline.Accept(frame)
		case err := <-c.pipeline.Faults():
			c.handleFault(err)
		case completion := <-c.worker.Results():
			c.handleCompletion(completion)
		}
	}
}

// Enable starts the audio stream and the global shortcut session. ctx bounds
// the lifetime of the shortcut session.
func (c *Controller) Enable(ctx context.Context) error {
	if err := c.pipeline.Setup(ctx); err != nil {
		c.events.Error(domain.ErrorCodeAudioStream, err.Error())
		return err
	}

	var chord domain.KeyChord
	if err := c.postWait(ctx, func() {
		c.enable()
		chord = c.chord
	}); err != nil {
		_ = c.pipeline.Teardown()
		return err
	}

	if c.hotkey != nil {
		c.hotkey.Start(ctx, chord, c)
	}
	return nil
}

// Disable discards any recording, drops in-flight results and stops the
// audio stream and shortcut session.
func (c *Controller) Disable(ctx context.Context) error {
	err := c.postWait(ctx, c.disable)
	if c.hotkey != nil {
		c.hotkey.Stop()
	}
	return errors.Join(err, c.pipeline.Teardown())
}

// ProcessKey routes one local key event and reports whether it was consumed.
func (c *Controller) ProcessKey(ctx context.Context, ev domain.KeyEvent) bool {
	reply := make(chan bool, 1)
	if err := c.post(ctx, func() { reply <- c.handleKey(ev) }); err != nil {
		return false
	}
	select {
	case consumed := <-reply:
		return consumed
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// PortalActivated handles a global shortcut press.
func (c *Controller) PortalActivated() {
	_ = c.post(context.Background(), c.portalActivated)
}

// PortalDeactivated handles a global shortcut release.
func (c *Controller) PortalDeactivated() {
	_ = c.post(context.Background(), c.portalDeactivated)
}

// SetFocus records whether an input-aware client currently has focus. Losing
// focus abandons a recording started from the local key stream.
func (c *Controller) SetFocus(focused bool) {
	_ = c.post(context.Background(), func() {
		c.focused = focused
		if !focused {
			c.abandonLocal()
		}
	})
}

// ResetInput abandons a recording started from the local key stream.
func (c *Controller) ResetInput() {
	_ = c.post(context.Background(), c.abandonLocal)
}

// SetContentPurpose blocks dictation while a password or PIN field is focused.
func (c *Controller) SetContentPurpose(purpose domain.ContentPurpose) {
	_ = c.post(context.Background(), func() {
		c.sensitive = purpose.Sensitive()
		if c.sensitive {
			c.abandon()
		}
		c.publish()
	})
}

// SetChord changes the push-to-talk chord for the next session and rebinds
// the global shortcut.
func (c *Controller) SetChord(ctx context.Context, chord domain.KeyChord) error {
	if chord.IsZero() || chord.Modifiers() == 0 {
		return domain.ErrChordWithoutModifier
	}
	var enabled bool
	if err := c.postWait(ctx, func() {
		c.chord = chord
		enabled = c.enabled
		c.publish()
	}); err != nil {
		return err
	}
	if enabled && c.hotkey != nil {
		c.hotkey.Rebind(chord)
	}
	return nil
}

// SetRecordMode switches between push-to-talk and toggle recording for the
// next session.
func (c *Controller) SetRecordMode(mode domain.RecordMode) {
	_ = c.post(context.Background(), func() {
		c.recordMode = domain.ParseRecordMode(string(mode))
		c.publish()
	})
}

// PanelToggle handles the input method panel's recording toggle. It only
// acts in toggle mode.
func (c *Controller) PanelToggle(start bool) {
	_ = c.post(context.Background(), func() { c.panelToggle(start) })
}

// SetLocale changes the locale hint passed to backends.
func (c *Controller) SetLocale(locale string) {
	_ = c.post(context.Background(), func() { c.locale = locale })
}

// Status returns the last published snapshot without touching the loop.
func (c *Controller) Status() domain.Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

func (c *Controller) post(ctx context.Context, fn func()) error {
	select {
	case c.inbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerStopped
	}
}

func (c *Controller) postWait(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := c.post(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerStopped
	}
}

// after posts fn to the loop once d elapses.
func (c *Controller) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		select {
		case c.inbox <- fn:
		case <-c.done:
		}
	})
}
