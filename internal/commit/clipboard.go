package commit

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

const (
	toolWtype   = "wtype"
	toolXdotool = "xdotool"
	toolKeybd   = "uinput"
)

// Config controls clipboard delivery.
type Config struct {
	// SessionType is the XDG session type, "wayland" or "x11".
	SessionType string
	// Paste sends Ctrl+V after copying so the text lands in the focused
	// window even when it is not an input-method client.
	Paste        bool
	PasteTimeout time.Duration
}

// Clipboard copies committed text to the system clipboard and optionally
// pastes it, first selecting over chord characters that leaked into the
// target window while recording.
type Clipboard struct {
	cfg      Config
	write    func(string) error
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
	keyPaste func() error
}

func New(cfg Config) *Clipboard {
	if cfg.PasteTimeout <= 0 {
		cfg.PasteTimeout = 5 * time.Second
	}
	return &Clipboard{
		cfg:      cfg,
		write:    clipboard.WriteAll,
		lookPath: exec.LookPath,
		run:      runCommand,
		keyPaste: newUinputPaster(),
	}
}

// Deliver writes text to the clipboard and then pastes it. Paste failures are
// logged; the text stays on the clipboard either way.
func (c *Clipboard) Deliver(ctx context.Context, text string, leaked int) error {
	if err := c.write(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	if !c.cfg.Paste {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PasteTimeout)
	defer cancel()

	tool := c.pasteTool()
	var err error
	switch tool {
	case toolWtype:
		err = c.run(ctx, toolWtype, wtypeArgs(leaked)...)
	case toolXdotool:
		if leaked > 0 {
			err = c.run(ctx, toolXdotool, xdotoolSelectArgs(leaked)...)
		}
		if err == nil {
			err = c.run(ctx, toolXdotool, "key", "ctrl+v")
		}
	case toolKeybd:
		err = c.keyPaste()
	default:
		slog.Info("no paste helper found, text left on clipboard")
		return nil
	}
	if err != nil {
		slog.Warn("paste helper failed, text left on clipboard", "tool", tool, "error", err)
	}
	return nil
}

func (c *Clipboard) pasteTool() string {
	has := func(name string) bool {
		_, err := c.lookPath(name)
		return err == nil
	}

	if strings.EqualFold(c.cfg.SessionType, "wayland") && has(toolWtype) {
		return toolWtype
	}
	if has(toolXdotool) {
		return toolXdotool
	}
	if c.keyPaste != nil {
		return toolKeybd
	}
	return ""
}

// wtypeArgs selects leaked characters with Shift+Left and pastes over them.
func wtypeArgs(leaked int) []string {
	args := make([]string, 0, 8+2*leaked)
	if leaked > 0 {
		args = append(args, "-M", "shift")
		for i := 0; i < leaked; i++ {
			args = append(args, "-k", "Left")
		}
		args = append(args, "-m", "shift")
	}
	return append(args, "-M", "ctrl", "-k", "v", "-m", "ctrl")
}

func xdotoolSelectArgs(leaked int) []string {
	args := make([]string, 0, leaked+1)
	args = append(args, "key")
	for i := 0; i < leaked; i++ {
		args = append(args, "shift+Left")
	}
	return args
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, msg)
	}
	return nil
}

// newUinputPaster sends Ctrl+V through a virtual keyboard. The device is
// created on first use; creation failures are reported on every call.
func newUinputPaster() func() error {
	var (
		once sync.Once
		kb   keybd_event.KeyBonding
		err  error
	)
	return func() error {
		once.Do(func() {
			kb, err = keybd_event.NewKeyBonding()
			if err == nil {
				// The compositor needs a moment to pick up a new uinput device.
				time.Sleep(500 * time.Millisecond)
			}
		})
		if err != nil {
			return fmt.Errorf("virtual keyboard unavailable: %w", err)
		}
		kb.Clear()
		kb.SetKeys(keybd_event.VK_V)
		kb.HasCTRL(true)
		return kb.Launching()
	}
}
