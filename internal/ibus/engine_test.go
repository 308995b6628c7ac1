package ibus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"speak2type/internal/domain"
)

func TestFactoryCreatesNumberedEngines(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	svc := newService(Config{}, conn)

	first, dbusErr := (&factory{svc: svc}).CreateEngine("speak2type")
	if dbusErr != nil {
		t.Fatalf("unexpected error: %v", dbusErr)
	}
	second, _ := (&factory{svc: svc}).CreateEngine("speak2type")

	if first != enginePrefix+"1" || second != enginePrefix+"2" {
		t.Fatalf("unexpected engine paths %s %s", first, second)
	}
	if _, ok := conn.exported(first).(*engine); !ok {
		t.Fatalf("expected engine exported at %s", first)
	}
}

func TestEngineForwardsKeysAndFocus(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ctrl := &fakeController{consume: true}
	svc := newService(Config{}, conn)
	svc.ctrl = ctrl

	path, _ := svc.createEngine("speak2type")
	e := conn.exported(path).(*engine)

	consumed, _ := e.ProcessKeyEvent(0x20, 65, uint32(domain.ModControl|domain.ModRelease))
	if !consumed {
		t.Fatalf("expected key to be consumed")
	}
	keys := ctrl.keysSnapshot()
	if len(keys) != 1 || !keys[0].Released || keys[0].Keycode != 0x20 || keys[0].Source != domain.SourceLocal {
		t.Fatalf("unexpected key events %+v", keys)
	}

	_ = e.FocusIn()
	_ = e.FocusIn()
	if !svc.Focused() {
		t.Fatalf("expected focus")
	}
	_ = e.FocusOut()
	_ = e.SetContentType(uint32(domain.PurposePassword), 0)
	_ = e.Reset()

	if got := ctrl.focusSnapshot(); len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("unexpected focus changes %v", got)
	}
	if ctrl.purpose != domain.PurposePassword || ctrl.resets != 1 {
		t.Fatalf("unexpected purpose %v resets %d", ctrl.purpose, ctrl.resets)
	}
}

func TestInsertCommitsToFocusedEngine(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	svc := newService(Config{}, conn)

	if err := svc.Insert("hello"); !errors.Is(err, ErrNoFocus) {
		t.Fatalf("expected ErrNoFocus, got %v", err)
	}

	path, _ := svc.createEngine("speak2type")
	_ = conn.exported(path).(*engine).FocusIn()

	if err := svc.Insert("hello"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	sig := conn.lastEmit()
	if sig.path != path || sig.name != engineIface+".CommitText" {
		t.Fatalf("unexpected emit %+v", sig)
	}
	text, ok := sig.values[0].(dbus.Variant).Value().(ibusText)
	if !ok || text.Name != "IBusText" || text.Text != "hello" {
		t.Fatalf("unexpected text payload %#v", sig.values[0])
	}
}

func TestShowPreeditHidesOnEmpty(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	svc := newService(Config{}, conn)
	path, _ := svc.createEngine("speak2type")
	_ = conn.exported(path).(*engine).FocusIn()

	_ = svc.ShowPreedit("Listening…")
	if visible := conn.lastEmit().values[2].(bool); !visible {
		t.Fatalf("expected preedit to be visible")
	}
	_ = svc.ShowPreedit("")
	if visible := conn.lastEmit().values[2].(bool); visible {
		t.Fatalf("expected preedit to be hidden")
	}
}

func TestFocusInRegistersPanelProperties(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	svc := newService(Config{}, conn)
	path, _ := svc.createEngine("speak2type")
	e := conn.exported(path).(*engine)

	if err := svc.ShowRecordState(domain.StateRecording); !errors.Is(err, ErrNoFocus) {
		t.Fatalf("expected ErrNoFocus, got %v", err)
	}
	if err := svc.SetModeLabel("Toggle (Alt+Space)"); err != nil {
		t.Fatalf("unfocused mode label update failed: %v", err)
	}

	_ = e.FocusIn()
	sig := conn.lastEmit()
	if sig.path != path || sig.name != engineIface+".RegisterProperties" {
		t.Fatalf("unexpected emit %+v", sig)
	}
	list, ok := sig.values[0].(dbus.Variant).Value().(ibusPropList)
	if !ok || list.Name != "IBusPropList" || len(list.Properties) != 2 {
		t.Fatalf("unexpected property list %#v", sig.values[0])
	}
	toggle := list.Properties[0].Value().(ibusProperty)
	if toggle.Key != propToggleRecording || toggle.Type != propTypeToggle || toggle.State != propStateChecked || labelOf(toggle) != "Recording…" {
		t.Fatalf("unexpected toggle property %+v", toggle)
	}
	mode := list.Properties[1].Value().(ibusProperty)
	if mode.Key != propMode || mode.Sensitive || labelOf(mode) != "Toggle (Alt+Space)" {
		t.Fatalf("unexpected mode property %+v", mode)
	}

	emits := conn.emitCount()
	_ = e.FocusIn()
	if conn.emitCount() != emits {
		t.Fatalf("repeated focus-in must not register properties again")
	}
}

func TestShowRecordStateUpdatesToggle(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	svc := newService(Config{}, conn)
	path, _ := svc.createEngine("speak2type")
	_ = conn.exported(path).(*engine).FocusIn()

	cases := []struct {
		state domain.EngineState
		label string
		check uint32
	}{
		{state: domain.StateRecording, label: "Recording…", check: propStateChecked},
		{state: domain.StateTranscribing, label: "Transcribing…", check: propStateChecked},
		{state: domain.StateIdle, label: "Recognition off", check: propStateUnchecked},
	}
	for _, tc := range cases {
		if err := svc.ShowRecordState(tc.state); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		sig := conn.lastEmit()
		prop := sig.values[0].(dbus.Variant).Value().(ibusProperty)
		if sig.name != engineIface+".UpdateProperty" || prop.Key != propToggleRecording || prop.State != tc.check || labelOf(prop) != tc.label {
			t.Fatalf("state %s: unexpected property %+v", tc.state, prop)
		}
	}

	if err := svc.SetModeLabel(ModeLabel(domain.RecordPushToTalk, domain.DefaultChord)); err != nil {
		t.Fatalf("mode label update failed: %v", err)
	}
	prop := conn.lastEmit().values[0].(dbus.Variant).Value().(ibusProperty)
	if prop.Key != propMode || labelOf(prop) != "Push-to-talk (Alt+Space)" {
		t.Fatalf("unexpected mode property %+v", prop)
	}
}

func TestPropertyActivateDrivesPanelToggle(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ctrl := &fakeController{}
	svc := newService(Config{}, conn)
	svc.ctrl = ctrl
	path, _ := svc.createEngine("speak2type")
	e := conn.exported(path).(*engine)

	_ = e.PropertyActivate(propToggleRecording, propStateChecked)
	_ = e.PropertyActivate(propMode, propStateChecked)
	_ = e.PropertyActivate(propToggleRecording, propStateUnchecked)

	if got := ctrl.panelSnapshot(); len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("unexpected panel toggles %v", got)
	}
}

func TestModeLabel(t *testing.T) {
	t.Parallel()

	chord, err := domain.ParseAccelerator("<Ctrl><Shift>d")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := ModeLabel(domain.RecordToggle, chord); got != "Toggle (Ctrl+Shift+D)" {
		t.Fatalf("unexpected toggle label %q", got)
	}
	if got := ModeLabel("", chord); got != "Push-to-talk (Ctrl+Shift+D)" {
		t.Fatalf("unexpected default label %q", got)
	}
}

func TestDestroyFocusedEngineDropsFocus(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ctrl := &fakeController{}
	svc := newService(Config{}, conn)
	svc.ctrl = ctrl

	path, _ := svc.createEngine("speak2type")
	e := conn.exported(path).(*engine)
	_ = e.FocusIn()
	_ = e.Destroy()

	if svc.Focused() {
		t.Fatalf("destroyed engine must not keep focus")
	}
	if conn.exported(path) != nil {
		t.Fatalf("engine must be unexported")
	}
	if got := ctrl.focusSnapshot(); len(got) != 2 || got[1] {
		t.Fatalf("unexpected focus changes %v", got)
	}
}

func TestServeTogglesController(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ctrl := &fakeController{}
	svc := newService(Config{RequestName: true}, conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ctrl) }()

	waitFor(t, func() bool { return conn.exported(factoryPath) != nil })
	path, _ := svc.createEngine("speak2type")
	e := conn.exported(path).(*engine)

	_ = e.Enable()
	_ = e.Enable()
	waitFor(t, func() bool { return ctrl.counts() == [2]int{1, 0} })
	_ = e.Disable()
	waitFor(t, func() bool { return ctrl.counts() == [2]int{1, 1} })
	_ = e.Enable()
	waitFor(t, func() bool { return ctrl.counts() == [2]int{2, 1} })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return")
	}
	if ctrl.counts() != [2]int{2, 2} {
		t.Fatalf("expected disable on shutdown, got %v", ctrl.counts())
	}
	if !conn.closed || conn.requested != DefaultBusName {
		t.Fatalf("unexpected conn state closed=%v name=%q", conn.closed, conn.requested)
	}
}

func TestServeFailsWhenNameTaken(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.nameReply = dbus.RequestNameReplyExists
	svc := newService(Config{RequestName: true}, conn)

	if err := svc.Serve(context.Background(), &fakeController{}); err == nil {
		t.Fatalf("expected error when bus name is owned")
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

func labelOf(prop ibusProperty) string {
	return prop.Label.Value().(ibusText).Text
}

type emitted struct {
	path   dbus.ObjectPath
	name   string
	values []interface{}
}

type fakeConn struct {
	mu        sync.Mutex
	objects   map[dbus.ObjectPath]interface{}
	emits     []emitted
	requested string
	nameReply dbus.RequestNameReply
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		objects:   map[dbus.ObjectPath]interface{}{},
		nameReply: dbus.RequestNameReplyPrimaryOwner,
	}
}

func (f *fakeConn) Export(v interface{}, path dbus.ObjectPath, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v == nil {
		delete(f.objects, path)
		return nil
	}
	f.objects[path] = v
	return nil
}

func (f *fakeConn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{path: path, name: name, values: values})
	return nil
}

func (f *fakeConn) RequestName(name string, _ dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = name
	return f.nameReply, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) exported(path dbus.ObjectPath) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[path]
}

func (f *fakeConn) emitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emits)
}

func (f *fakeConn) lastEmit() emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emits[len(f.emits)-1]
}

type fakeController struct {
	mu       sync.Mutex
	consume  bool
	keys     []domain.KeyEvent
	focus    []bool
	resets   int
	purpose  domain.ContentPurpose
	enables  int
	disables int
	panel    []bool
}

func (f *fakeController) ProcessKey(_ context.Context, ev domain.KeyEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, ev)
	return f.consume
}

func (f *fakeController) SetFocus(focused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focus = append(f.focus, focused)
}

func (f *fakeController) ResetInput() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeController) SetContentPurpose(purpose domain.ContentPurpose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purpose = purpose
}

func (f *fakeController) Enable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables++
	return nil
}

func (f *fakeController) Disable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disables++
	return nil
}

func (f *fakeController) PanelToggle(start bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panel = append(f.panel, start)
}

func (f *fakeController) panelSnapshot() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.panel...)
}

func (f *fakeController) keysSnapshot() []domain.KeyEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.KeyEvent(nil), f.keys...)
}

func (f *fakeController) focusSnapshot() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.focus...)
}

func (f *fakeController) counts() [2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return [2]int{f.enables, f.disables}
}
