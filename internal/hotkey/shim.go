package hotkey

import (
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	providerName  = "org.gnome.Settings.GlobalShortcutsProvider"
	providerPath  = dbus.ObjectPath("/org/gnome/Settings/GlobalShortcutsProvider")
	providerIface = "org.gnome.Settings.GlobalShortcutsProvider"
)

// shortcutSpec is the (sa{sv}) shortcut tuple used by the portal and its
// provider.
type shortcutSpec struct {
	ID      string
	Options map[string]dbus.Variant
}

// providerShim answers the portal's BindShortcuts requests when no settings
// daemon provides them. It only claims the provider name while it is free
// and goes inert once a real provider takes the name over.
type providerShim struct {
	conn busConn

	mu     sync.Mutex
	active bool
}

func newProviderShim(conn busConn) *providerShim {
	return &providerShim{conn: conn}
}

func (p *providerShim) claim() {
	if err := p.conn.Export(p, providerPath, providerIface); err != nil {
		slog.Debug("provider shim not exported", "error", err)
		return
	}
	primary, err := p.conn.ClaimName(providerName)
	if err != nil || !primary {
		_ = p.conn.Unexport(providerPath, providerIface)
		slog.Debug("shortcut provider already present, shim stays inactive", "error", err)
		return
	}

	p.mu.Lock()
	p.active = true
	p.mu.Unlock()
	slog.Debug("shortcut provider shim active")
}

// lost is called when another provider replaced the shim.
func (p *providerShim) lost() {
	p.mu.Lock()
	wasActive := p.active
	p.active = false
	p.mu.Unlock()

	if wasActive {
		_ = p.conn.Unexport(providerPath, providerIface)
		slog.Info("system shortcut provider took over, shim disabled")
	}
}

func (p *providerShim) release() {
	p.mu.Lock()
	wasActive := p.active
	p.active = false
	p.mu.Unlock()

	if !wasActive {
		return
	}
	_ = p.conn.ReleaseName(providerName)
	_ = p.conn.Unexport(providerPath, providerIface)
}

func (p *providerShim) isActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// BindShortcuts approves every requested shortcut with its preferred
// trigger.
func (p *providerShim) BindShortcuts(appID string, parentWindow string, shortcuts []shortcutSpec) ([]shortcutSpec, *dbus.Error) {
	if !p.isActive() {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.NotSupported", []interface{}{"provider shim inactive"})
	}

	results := make([]shortcutSpec, 0, len(shortcuts))
	for _, shortcut := range shortcuts {
		description := variantString(shortcut.Options["description"])
		if description == "" {
			description = "Shortcut"
		}
		trigger := variantString(shortcut.Options["preferred_trigger"])

		options := map[string]dbus.Variant{
			"description":         dbus.MakeVariant(description),
			"trigger_description": dbus.MakeVariant(""),
		}
		if trigger != "" {
			options["trigger_description"] = dbus.MakeVariant("Press " + trigger)
			options["shortcuts"] = dbus.MakeVariant([]string{trigger})
		}
		results = append(results, shortcutSpec{ID: shortcut.ID, Options: options})
	}

	slog.Debug("provider shim approved shortcuts", "app", appID, "count", len(results))
	return results, nil
}

func variantString(v dbus.Variant) string {
	switch value := v.Value().(type) {
	case string:
		return value
	case dbus.ObjectPath:
		return string(value)
	default:
		return ""
	}
}
