package hotkey

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// busConn is the part of a D-Bus connection the portal session uses.
type busConn interface {
	UniqueName() string
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) ([]interface{}, error)
	Watch(options ...dbus.MatchOption) error
	Signals(ch chan<- *dbus.Signal)
	StopSignals(ch chan<- *dbus.Signal)
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Unexport(path dbus.ObjectPath, iface string) error
	// ClaimName requests name without queueing and reports whether this
	// connection became its primary owner.
	ClaimName(name string) (bool, error)
	ReleaseName(name string) error
	Close() error
}

type sessionBus struct {
	conn *dbus.Conn
}

func dialSessionBus() (busConn, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &sessionBus{conn: conn}, nil
}

func (b *sessionBus) UniqueName() string {
	names := b.conn.Names()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (b *sessionBus) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) ([]interface{}, error) {
	call := b.conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
	return call.Body, call.Err
}

func (b *sessionBus) Watch(options ...dbus.MatchOption) error {
	return b.conn.AddMatchSignal(options...)
}

func (b *sessionBus) Signals(ch chan<- *dbus.Signal) {
	b.conn.Signal(ch)
}

func (b *sessionBus) StopSignals(ch chan<- *dbus.Signal) {
	b.conn.RemoveSignal(ch)
}

func (b *sessionBus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	return b.conn.Export(v, path, iface)
}

func (b *sessionBus) Unexport(path dbus.ObjectPath, iface string) error {
	return b.conn.Export(nil, path, iface)
}

func (b *sessionBus) ClaimName(name string) (bool, error) {
	reply, err := b.conn.RequestName(name, dbus.NameFlagAllowReplacement|dbus.NameFlagDoNotQueue)
	if err != nil {
		return false, err
	}
	return reply == dbus.RequestNameReplyPrimaryOwner, nil
}

func (b *sessionBus) ReleaseName(name string) error {
	_, err := b.conn.ReleaseName(name)
	return err
}

func (b *sessionBus) Close() error {
	return b.conn.Close()
}
