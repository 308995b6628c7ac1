package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Modifier is an X11/IBus modifier bitmask.
type Modifier uint32

const (
	ModShift   Modifier = 1 << 0
	ModControl Modifier = 1 << 2
	ModAlt     Modifier = 1 << 3
	ModSuper   Modifier = 1 << 6
	ModRelease Modifier = 1 << 30

	chordModifiers = ModShift | ModControl | ModAlt | ModSuper
)

var (
	ErrChordWithoutModifier = errors.New("push-to-talk chord requires at least one modifier")
	ErrUnknownKey           = errors.New("unknown key name")
)

// KeySource says which path delivered a key notification. SourcePanel is
// the input method panel's recording toggle.
type KeySource string

const (
	SourceLocal  KeySource = "local"
	SourcePortal KeySource = "portal"
	SourcePanel  KeySource = "panel"
)

// KeyEvent is a single press or release notification. Keycode holds the X
// keysym value as delivered by the input method framework.
type KeyEvent struct {
	Source    KeySource
	Keycode   uint32
	Modifiers Modifier
	Released  bool
}

// KeyChord is an immutable keycode plus required modifier set.
type KeyChord struct {
	keycode   uint32
	modifiers Modifier
}

// DefaultChord is <Alt>space.
var DefaultChord = KeyChord{keycode: keysymSpace, modifiers: ModAlt}

// NewKeyChord validates and builds a chord.
func NewKeyChord(keycode uint32, modifiers Modifier) (KeyChord, error) {
	modifiers &= chordModifiers
	if keycode == 0 {
		return KeyChord{}, fmt.Errorf("%w: empty keycode", ErrUnknownKey)
	}
	if modifiers == 0 {
		return KeyChord{}, ErrChordWithoutModifier
	}
	return KeyChord{keycode: NormalizeKeycode(keycode), modifiers: modifiers}, nil
}

func (c KeyChord) Keycode() uint32 { return c.keycode }

func (c KeyChord) Modifiers() Modifier { return c.modifiers }

func (c KeyChord) IsZero() bool { return c.keycode == 0 }

// Matches reports whether a key press carries exactly the chord's keycode and
// modifiers. Lock and pointer-button bits are ignored.
func (c KeyChord) Matches(keycode uint32, modifiers Modifier) bool {
	return !c.IsZero() && NormalizeKeycode(keycode) == c.keycode && modifiers&chordModifiers == c.modifiers
}

// String renders the chord in GTK accelerator syntax, e.g. "<Ctrl><Shift>r".
func (c KeyChord) String() string {
	if c.IsZero() {
		return ""
	}
	var b strings.Builder
	for _, m := range modifierOrder {
		if c.modifiers&m.mask != 0 {
			b.WriteString("<" + m.name + ">")
		}
	}
	b.WriteString(KeysymName(c.keycode))
	return b.String()
}

// Describe renders a human readable label such as "Alt+Space".
func (c KeyChord) Describe() string {
	parts := make([]string, 0, 4)
	for _, m := range modifierOrder {
		if c.modifiers&m.mask != 0 {
			parts = append(parts, m.name)
		}
	}
	name := KeysymName(c.keycode)
	if len(name) > 0 {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.Join(append(parts, name), "+")
}

var modifierOrder = []struct {
	name string
	mask Modifier
}{
	{"Ctrl", ModControl},
	{"Alt", ModAlt},
	{"Shift", ModShift},
	{"Super", ModSuper},
}

var modifierNames = map[string]Modifier{
	"ctrl":    ModControl,
	"control": ModControl,
	"primary": ModControl,
	"alt":     ModAlt,
	"mod1":    ModAlt,
	"shift":   ModShift,
	"super":   ModSuper,
	"mod4":    ModSuper,
	"meta":    ModSuper,
}

// ParseAccelerator parses a GTK accelerator string such as "<Alt>space".
func ParseAccelerator(accel string) (KeyChord, error) {
	rest := strings.TrimSpace(accel)
	var mods Modifier
	for strings.HasPrefix(rest, "<") {
		end := strings.Index(rest, ">")
		if end < 0 {
			return KeyChord{}, fmt.Errorf("malformed accelerator %q", accel)
		}
		name := strings.ToLower(rest[1:end])
		mask, ok := modifierNames[name]
		if !ok {
			return KeyChord{}, fmt.Errorf("unknown modifier %q in accelerator %q", name, accel)
		}
		mods |= mask
		rest = rest[end+1:]
	}
	keysym, ok := KeysymFromName(rest)
	if !ok {
		return KeyChord{}, fmt.Errorf("%w: %q", ErrUnknownKey, rest)
	}
	return NewKeyChord(keysym, mods)
}

const (
	keysymSpace     uint32 = 0x0020
	keysymF1        uint32 = 0xffbe
	keysymBackSpace uint32 = 0xff08
	keysymTab       uint32 = 0xff09
	keysymReturn    uint32 = 0xff0d
	keysymPause     uint32 = 0xff13
	keysymScroll    uint32 = 0xff14
	keysymEscape    uint32 = 0xff1b
	keysymHome      uint32 = 0xff50
	keysymPageUp    uint32 = 0xff55
	keysymPageDown  uint32 = 0xff56
	keysymEnd       uint32 = 0xff57
	keysymInsert    uint32 = 0xff63
	keysymMenu      uint32 = 0xff67
	keysymDelete    uint32 = 0xffff
)

var namedKeysyms = map[string]uint32{
	"space":       keysymSpace,
	"backspace":   keysymBackSpace,
	"tab":         keysymTab,
	"return":      keysymReturn,
	"enter":       keysymReturn,
	"pause":       keysymPause,
	"scroll_lock": keysymScroll,
	"escape":      keysymEscape,
	"home":        keysymHome,
	"page_up":     keysymPageUp,
	"page_down":   keysymPageDown,
	"end":         keysymEnd,
	"insert":      keysymInsert,
	"menu":        keysymMenu,
	"delete":      keysymDelete,
	"grave":       0x0060,
	"minus":       0x002d,
	"equal":       0x003d,
	"comma":       0x002c,
	"period":      0x002e,
	"slash":       0x002f,
	"semicolon":   0x003b,
}

// KeysymFromName resolves a keysym name (case-insensitive) to its value.
func KeysymFromName(name string) (uint32, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false
	}
	lower := strings.ToLower(name)
	if v, ok := namedKeysyms[lower]; ok {
		return v, true
	}
	if len(lower) == 1 {
		ch := lower[0]
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			return uint32(ch), true
		}
	}
	if lower[0] == 'f' && len(lower) <= 3 {
		var n int
		if _, err := fmt.Sscanf(lower[1:], "%d", &n); err == nil && n >= 1 && n <= 24 {
			return keysymF1 + uint32(n-1), true
		}
	}
	return 0, false
}

// KeysymName is the inverse of KeysymFromName, using GTK spellings.
func KeysymName(keysym uint32) string {
	switch {
	case keysym >= keysymF1 && keysym < keysymF1+24:
		return fmt.Sprintf("F%d", keysym-keysymF1+1)
	case (keysym >= 'a' && keysym <= 'z') || (keysym >= '0' && keysym <= '9'):
		return string(rune(keysym))
	}
	for name, v := range namedKeysyms {
		if v == keysym && name != "enter" {
			return gtkSpelling(name)
		}
	}
	return fmt.Sprintf("0x%04x", keysym)
}

func gtkSpelling(name string) string {
	switch name {
	case "space", "grave", "minus", "equal", "comma", "period", "slash", "semicolon":
		return name
	case "backspace":
		return "BackSpace"
	case "scroll_lock":
		return "Scroll_Lock"
	case "page_up":
		return "Page_Up"
	case "page_down":
		return "Page_Down"
	default:
		return strings.ToUpper(name[:1]) + name[1:]
	}
}

// NormalizeKeycode folds shifted Latin letters onto their lowercase keysym
// so that Shift+R and r match the same chord.
func NormalizeKeycode(keycode uint32) uint32 {
	if keycode >= 'A' && keycode <= 'Z' {
		return keycode + ('a' - 'A')
	}
	return keycode
}
