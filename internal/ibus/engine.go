package ibus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"speak2type/internal/domain"
)

const (
	DefaultBusName = "org.freedesktop.IBus.speak2type"

	factoryPath  = dbus.ObjectPath("/org/freedesktop/IBus/Factory")
	factoryIface = "org.freedesktop.IBus.Factory"
	engineIface  = "org.freedesktop.IBus.Engine"
	enginePrefix = "/org/freedesktop/IBus/Engine/"
)

var ErrNoFocus = errors.New("no focused input context")

// Controller is the push-to-talk core driven by the engine.
type Controller interface {
	ProcessKey(ctx context.Context, ev domain.KeyEvent) bool
	SetFocus(focused bool)
	ResetInput()
	SetContentPurpose(purpose domain.ContentPurpose)
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	PanelToggle(start bool)
}

// conn is the subset of *dbus.Conn the engine uses.
type conn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	Close() error
}

// Config controls how the engine joins the IBus bus.
type Config struct {
	Address string
	// BusName is requested when ibus-daemon launched the engine as a
	// component.
	BusName     string
	RequestName bool
}

// Service is the IBus engine factory plus the engines it created. It also
// implements ports.TextInserter for the focused engine.
type Service struct {
	cfg  Config
	conn conn

	mu      sync.Mutex
	engines map[dbus.ObjectPath]*engine
	focused dbus.ObjectPath
	nextID  int

	recordState domain.EngineState
	modeLabel   string

	ctrl    Controller
	ctx     context.Context
	toggles chan bool
}

// Dial connects to the ibus-daemon private bus.
func Dial(cfg Config) (*Service, error) {
	if cfg.Address == "" {
		addr, err := Address()
		if err != nil {
			return nil, err
		}
		cfg.Address = addr
	}

	c, err := dbus.Dial(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ibus: %w", err)
	}
	if err := c.Auth(nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ibus auth failed: %w", err)
	}
	if err := c.Hello(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ibus hello failed: %w", err)
	}
	return newService(cfg, c), nil
}

func newService(cfg Config, c conn) *Service {
	if cfg.BusName == "" {
		cfg.BusName = DefaultBusName
	}
	return &Service{
		cfg:     cfg,
		conn:    c,
		engines: map[dbus.ObjectPath]*engine{},
		ctx:     context.Background(),
		toggles: make(chan bool, 8),

		recordState: domain.StateIdle,
		modeLabel:   ModeLabel(domain.RecordPushToTalk, domain.DefaultChord),
	}
}

// Serve exports the engine factory and drives ctrl until ctx is done.
func (s *Service) Serve(ctx context.Context, ctrl Controller) error {
	s.mu.Lock()
	s.ctrl = ctrl
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.conn.Export(&factory{svc: s}, factoryPath, factoryIface); err != nil {
		return fmt.Errorf("failed to export engine factory: %w", err)
	}
	if s.cfg.RequestName {
		reply, err := s.conn.RequestName(s.cfg.BusName, dbus.NameFlagDoNotQueue)
		if err != nil {
			return fmt.Errorf("failed to request %s: %w", s.cfg.BusName, err)
		}
		if reply != dbus.RequestNameReplyPrimaryOwner {
			return fmt.Errorf("%s is already owned", s.cfg.BusName)
		}
	}
	slog.Info("ibus engine ready", "name", s.cfg.BusName)

	enabled := false
	for {
		select {
		case <-ctx.Done():
			if enabled {
				_ = ctrl.Disable(context.Background())
			}
			return s.conn.Close()
		case on := <-s.toggles:
			if on == enabled {
				continue
			}
			if on {
				if err := ctrl.Enable(ctx); err != nil {
					slog.Error("failed to enable dictation", "error", err)
					continue
				}
			} else if err := ctrl.Disable(ctx); err != nil {
				slog.Warn("disable finished with errors", "error", err)
			}
			enabled = on
		}
	}
}

// Insert commits text at the focused engine's input context.
func (s *Service) Insert(text string) error {
	s.mu.Lock()
	path := s.focused
	s.mu.Unlock()
	if path == "" {
		return ErrNoFocus
	}
	return s.conn.Emit(path, engineIface+".CommitText", textVariant(text))
}

// ShowPreedit displays text as uncommitted preedit in the focused context.
// An empty string hides it.
func (s *Service) ShowPreedit(text string) error {
	s.mu.Lock()
	path := s.focused
	s.mu.Unlock()
	if path == "" {
		return ErrNoFocus
	}
	return s.conn.Emit(path, engineIface+".UpdatePreeditText", textVariant(text), uint32(len([]rune(text))), text != "", uint32(0))
}

// ShowRecordState updates the panel's recording toggle for the focused
// context. Newly focused contexts receive the last state.
func (s *Service) ShowRecordState(state domain.EngineState) error {
	s.mu.Lock()
	s.recordState = state
	path := s.focused
	s.mu.Unlock()
	if path == "" {
		return ErrNoFocus
	}
	return s.conn.Emit(path, engineIface+".UpdateProperty", dbus.MakeVariant(recordingProperty(state)))
}

// SetModeLabel changes the panel's record mode indicator.
func (s *Service) SetModeLabel(label string) error {
	s.mu.Lock()
	s.modeLabel = label
	path := s.focused
	s.mu.Unlock()
	if path == "" {
		return nil
	}
	return s.conn.Emit(path, engineIface+".UpdateProperty", dbus.MakeVariant(modeProperty(label)))
}

// Focused reports whether an input context currently has focus.
func (s *Service) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused != ""
}

func (s *Service) createEngine(name string) (dbus.ObjectPath, error) {
	s.mu.Lock()
	s.nextID++
	path := dbus.ObjectPath(fmt.Sprintf("%s%d", enginePrefix, s.nextID))
	e := &engine{svc: s, path: path}
	s.engines[path] = e
	s.mu.Unlock()

	if err := s.conn.Export(e, path, engineIface); err != nil {
		s.mu.Lock()
		delete(s.engines, path)
		s.mu.Unlock()
		return "", err
	}
	slog.Debug("ibus engine created", "engine", name, "path", path)
	return path, nil
}

func (s *Service) destroyEngine(path dbus.ObjectPath) {
	s.mu.Lock()
	delete(s.engines, path)
	wasFocused := s.focused == path
	if wasFocused {
		s.focused = ""
	}
	s.mu.Unlock()

	_ = s.conn.Export(nil, path, engineIface)
	if wasFocused {
		s.controller().SetFocus(false)
	}
}

func (s *Service) setFocus(path dbus.ObjectPath, in bool) {
	s.mu.Lock()
	changed := false
	if in {
		changed = s.focused != path
		s.focused = path
	} else if s.focused == path {
		s.focused = ""
		changed = true
	}
	state, label := s.recordState, s.modeLabel
	s.mu.Unlock()

	if !changed {
		return
	}
	if in {
		props := propListVariant(recordingProperty(state), modeProperty(label))
		if err := s.conn.Emit(path, engineIface+".RegisterProperties", props); err != nil {
			slog.Debug("failed to register panel properties", "path", path, "error", err)
		}
	}
	s.controller().SetFocus(in)
}

func (s *Service) toggle(on bool) {
	select {
	case s.toggles <- on:
	default:
		slog.Warn("dropping engine enable request, queue full")
	}
}

func (s *Service) controller() Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return noopController{}
	}
	return s.ctrl
}

func (s *Service) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

type factory struct {
	svc *Service
}

func (f *factory) CreateEngine(name string) (dbus.ObjectPath, *dbus.Error) {
	path, err := f.svc.createEngine(name)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return path, nil
}

// engine is one exported org.freedesktop.IBus.Engine object.
type engine struct {
	svc  *Service
	path dbus.ObjectPath
}

func (e *engine) ProcessKeyEvent(keyval, keycode, state uint32) (bool, *dbus.Error) {
	ev := domain.KeyEvent{
		Source:    domain.SourceLocal,
		Keycode:   keyval,
		Modifiers: domain.Modifier(state),
		Released:  state&uint32(domain.ModRelease) != 0,
	}
	return e.svc.controller().ProcessKey(e.svc.context(), ev), nil
}

func (e *engine) FocusIn() *dbus.Error {
	e.svc.setFocus(e.path, true)
	return nil
}

func (e *engine) FocusOut() *dbus.Error {
	e.svc.setFocus(e.path, false)
	return nil
}

func (e *engine) FocusInId(_ string, _ string) *dbus.Error {
	return e.FocusIn()
}

func (e *engine) FocusOutId(_ string) *dbus.Error {
	return e.FocusOut()
}

func (e *engine) Reset() *dbus.Error {
	e.svc.controller().ResetInput()
	return nil
}

func (e *engine) Enable() *dbus.Error {
	e.svc.toggle(true)
	return nil
}

func (e *engine) Disable() *dbus.Error {
	e.svc.toggle(false)
	return nil
}

func (e *engine) SetContentType(purpose, _ uint32) *dbus.Error {
	e.svc.controller().SetContentPurpose(domain.ContentPurpose(purpose))
	return nil
}

func (e *engine) SetCapabilities(_ uint32) *dbus.Error { return nil }

func (e *engine) SetCursorLocation(_, _, _, _ int32) *dbus.Error { return nil }

func (e *engine) PropertyActivate(name string, state uint32) *dbus.Error {
	if name == propToggleRecording {
		e.svc.controller().PanelToggle(state == propStateChecked)
	}
	return nil
}

func (e *engine) Destroy() *dbus.Error {
	e.svc.destroyEngine(e.path)
	return nil
}

type noopController struct{}

func (noopController) ProcessKey(context.Context, domain.KeyEvent) bool { return false }
func (noopController) SetFocus(bool)                                    {}
func (noopController) ResetInput()                                      {}
func (noopController) SetContentPurpose(domain.ContentPurpose)          {}
func (noopController) Enable(context.Context) error                     { return nil }
func (noopController) Disable(context.Context) error                    { return nil }
func (noopController) PanelToggle(bool)                                 {}
