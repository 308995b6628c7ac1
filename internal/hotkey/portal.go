package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

const (
	portalDest  = "org.freedesktop.portal.Desktop"
	portalPath  = dbus.ObjectPath("/org/freedesktop/portal/desktop")
	portalIface = "org.freedesktop.portal.GlobalShortcuts"

	requestIface  = "org.freedesktop.portal.Request"
	sessionIface  = "org.freedesktop.portal.Session"
	registryIface = "org.freedesktop.host.portal.Registry"

	requestPrefix = "/org/freedesktop/portal/desktop/request/"
	sessionPrefix = "/org/freedesktop/portal/desktop/session/"

	shortcutID = "speak2type-ptt"
)

var errStopped = errors.New("global shortcut session stopped")

// Config controls the portal session.
type Config struct {
	AppID        string
	Description  string
	RegisterHost bool
	ProviderShim bool

	CallTimeout     time.Duration
	ResponseTimeout time.Duration

	// OnDegraded is called once when the session gives up.
	OnDegraded func(reason string)
}

// Session binds the push-to-talk chord through the GlobalShortcuts portal.
// A failed binding leaves it Degraded until Stop; there is no retry.
type Session struct {
	cfg  Config
	dial func() (busConn, error)

	mu    sync.Mutex
	state domain.HotkeyState
	run   *portalRun
}

func NewSession(cfg Config) *Session {
	return newSession(cfg, dialSessionBus)
}

func newSession(cfg Config, dial func() (busConn, error)) *Session {
	if cfg.AppID == "" {
		cfg.AppID = "ibus-setup-speak2type"
	}
	if cfg.Description == "" {
		cfg.Description = "Push-to-talk for speech recognition"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	return &Session{cfg: cfg, dial: dial, state: domain.HotkeyUnbound}
}

type portalRun struct {
	cfg     *Config
	handler ports.HotkeyHandler

	conn        busConn
	sender      string
	sessionPath dbus.ObjectPath
	shim        *providerShim

	signals  chan *dbus.Signal
	rebind   chan domain.KeyChord
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Start begins binding in the background and returns immediately.
func (s *Session) Start(ctx context.Context, chord domain.KeyChord, handler ports.HotkeyHandler) {
	s.mu.Lock()
	if s.run != nil {
		s.mu.Unlock()
		return
	}
	run := &portalRun{
		cfg:     &s.cfg,
		handler: handler,
		signals: make(chan *dbus.Signal, 16),
		rebind:  make(chan domain.KeyChord, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.run = run
	s.state = domain.HotkeyRequesting
	s.mu.Unlock()

	go s.serve(ctx, run, chord)
}

// Rebind replaces the bound chord. Only the latest pending chord is kept.
func (s *Session) Rebind(chord domain.KeyChord) {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return
	}

	select {
	case <-run.rebind:
	default:
	}
	select {
	case run.rebind <- chord:
	default:
	}
}

// Stop closes the portal session and releases the provider shim.
func (s *Session) Stop() {
	s.mu.Lock()
	run := s.run
	s.run = nil
	s.mu.Unlock()
	if run == nil {
		return
	}

	run.stopOnce.Do(func() { close(run.stop) })
	<-run.done
	s.setState(domain.HotkeyUnbound)
}

func (s *Session) State() domain.HotkeyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state domain.HotkeyState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) degrade(reason string) {
	s.setState(domain.HotkeyDegraded)
	slog.Warn("global shortcut unavailable, continuing with focused input only", "reason", reason)
	if s.cfg.OnDegraded != nil {
		s.cfg.OnDegraded(reason)
	}
}

func (s *Session) serve(ctx context.Context, run *portalRun, chord domain.KeyChord) {
	defer close(run.done)

	conn, err := s.dial()
	if err != nil {
		s.degrade(fmt.Sprintf("session bus unavailable: %v", err))
		return
	}
	run.conn = conn
	defer run.close()

	if err := run.open(ctx, chord); err != nil {
		if !errors.Is(err, errStopped) {
			s.degrade(err.Error())
		}
		return
	}
	s.setState(domain.HotkeyBound)
	slog.Info("global shortcut bound", "chord", chord.String(), "session", run.sessionPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-run.stop:
			return
		case next := <-run.rebind:
			if err := run.bind(ctx, next); err != nil {
				if !errors.Is(err, errStopped) {
					s.degrade(err.Error())
				}
				return
			}
			slog.Info("global shortcut rebound", "chord", next.String())
		case sig, ok := <-run.signals:
			if !ok {
				return
			}
			run.dispatch(sig)
		}
	}
}

func (r *portalRun) open(ctx context.Context, chord domain.KeyChord) error {
	r.sender = senderToken(r.conn.UniqueName())
	r.conn.Signals(r.signals)

	rules := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(requestIface), dbus.WithMatchMember("Response"), dbus.WithMatchPathNamespace(dbus.ObjectPath(requestPrefix + r.sender))},
		{dbus.WithMatchInterface(portalIface), dbus.WithMatchMember("Activated"), dbus.WithMatchObjectPath(portalPath)},
		{dbus.WithMatchInterface(portalIface), dbus.WithMatchMember("Deactivated"), dbus.WithMatchObjectPath(portalPath)},
	}
	for _, rule := range rules {
		if err := r.conn.Watch(rule...); err != nil {
			return fmt.Errorf("subscribe to portal signals: %w", err)
		}
	}

	if r.cfg.RegisterHost {
		r.registerHost(ctx)
	}
	if r.cfg.ProviderShim {
		r.shim = newProviderShim(r.conn)
		r.shim.claim()
	}

	sessionToken := newToken()
	results, err := r.request(ctx, "CreateSession", func(token string) []interface{} {
		return []interface{}{map[string]dbus.Variant{
			"handle_token":         dbus.MakeVariant(token),
			"session_handle_token": dbus.MakeVariant(sessionToken),
		}}
	})
	if err != nil {
		return err
	}

	r.sessionPath = dbus.ObjectPath(sessionPrefix + r.sender + "/" + sessionToken)
	if handle := variantString(results["session_handle"]); handle != "" {
		r.sessionPath = dbus.ObjectPath(handle)
	}
	return r.bind(ctx, chord)
}

func (r *portalRun) bind(ctx context.Context, chord domain.KeyChord) error {
	shortcuts := []shortcutSpec{{
		ID: shortcutID,
		Options: map[string]dbus.Variant{
			"description":       dbus.MakeVariant(r.cfg.Description),
			"preferred_trigger": dbus.MakeVariant(chord.String()),
		},
	}}
	_, err := r.request(ctx, "BindShortcuts", func(token string) []interface{} {
		return []interface{}{
			r.sessionPath,
			shortcuts,
			"",
			map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)},
		}
	})
	return err
}

// request calls a portal method that answers through a Request object and
// waits for its Response.
func (r *portalRun) request(ctx context.Context, method string, args func(token string) []interface{}) (map[string]dbus.Variant, error) {
	token := newToken()
	path := dbus.ObjectPath(requestPrefix + r.sender + "/" + token)

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	_, err := r.conn.Call(callCtx, portalDest, portalPath, portalIface+"."+method, args(token)...)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}

	code, results, err := r.awaitResponse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("%s rejected by portal (response %d)", method, code)
	}
	return results, nil
}

func (r *portalRun) awaitResponse(ctx context.Context, path dbus.ObjectPath) (uint32, map[string]dbus.Variant, error) {
	timer := time.NewTimer(r.cfg.ResponseTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-r.stop:
			return 0, nil, errStopped
		case <-timer.C:
			return 0, nil, errors.New("timed out waiting for portal response")
		case sig, ok := <-r.signals:
			if !ok {
				return 0, nil, errors.New("bus connection closed")
			}
			if sig.Name != requestIface+".Response" || sig.Path != path {
				r.dispatch(sig)
				continue
			}
			if len(sig.Body) < 2 {
				return 0, nil, errors.New("malformed portal response")
			}
			code, _ := sig.Body[0].(uint32)
			results, _ := sig.Body[1].(map[string]dbus.Variant)
			return code, results, nil
		}
	}
}

func (r *portalRun) dispatch(sig *dbus.Signal) {
	switch sig.Name {
	case portalIface + ".Activated", portalIface + ".Deactivated":
		if len(sig.Body) < 2 {
			return
		}
		session, _ := sig.Body[0].(dbus.ObjectPath)
		id, _ := sig.Body[1].(string)
		if session != r.sessionPath || id != shortcutID {
			return
		}
		if strings.HasSuffix(sig.Name, ".Activated") {
			r.handler.PortalActivated()
		} else {
			r.handler.PortalDeactivated()
		}
	case "org.freedesktop.DBus.NameLost":
		if len(sig.Body) == 0 || r.shim == nil {
			return
		}
		if name, _ := sig.Body[0].(string); name == providerName {
			r.shim.lost()
		}
	}
}

func (r *portalRun) registerHost(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	_, err := r.conn.Call(callCtx, portalDest, portalPath, registryIface+".Register", r.cfg.AppID, map[string]dbus.Variant{})
	if err != nil {
		slog.Debug("host portal registry unavailable", "error", err)
	}
}

func (r *portalRun) close() {
	if r.sessionPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		_, _ = r.conn.Call(ctx, portalDest, r.sessionPath, sessionIface+".Close")
		cancel()
	}
	if r.shim != nil {
		r.shim.release()
	}
	r.conn.StopSignals(r.signals)
	_ = r.conn.Close()
}

// senderToken turns a unique bus name such as ":1.42" into "1_42".
func senderToken(unique string) string {
	return strings.ReplaceAll(strings.TrimPrefix(unique, ":"), ".", "_")
}

func newToken() string {
	return "speak2type_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
