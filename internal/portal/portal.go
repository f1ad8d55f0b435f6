// Package portal talks to the xdg-desktop-portal RemoteDesktop and
// ScreenCast interfaces over the D-Bus session bus.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bnema/portal-input/internal/logger"
	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.freedesktop.portal.Desktop"
	objectPath = dbus.ObjectPath("/org/freedesktop/portal/desktop")

	ifaceRemoteDesktop = "org.freedesktop.portal.RemoteDesktop"
	ifaceScreenCast    = "org.freedesktop.portal.ScreenCast"
	ifaceRequest       = "org.freedesktop.portal.Request"
	ifaceSession       = "org.freedesktop.portal.Session"

	requestPathPrefix = "/org/freedesktop/portal/desktop/request/"
	tokenPrefix       = "portal_input"
)

var (
	// ErrCancelled means the user dismissed the consent dialog.
	ErrCancelled = errors.New("portal: request cancelled by user")

	// ErrRequestFailed means the portal ended the request some other way.
	ErrRequestFailed = errors.New("portal: request failed")

	// ErrUnavailable means the portal service or interface is missing.
	ErrUnavailable = errors.New("portal: not available")
)

// DeviceType is the RemoteDesktop device bitmask.
type DeviceType uint32

const (
	DeviceKeyboard    DeviceType = 1
	DevicePointer     DeviceType = 2
	DeviceTouchscreen DeviceType = 4
)

func (d DeviceType) String() string {
	var names []string
	if d&DeviceKeyboard != 0 {
		names = append(names, "keyboard")
	}
	if d&DevicePointer != 0 {
		names = append(names, "pointer")
	}
	if d&DeviceTouchscreen != 0 {
		names = append(names, "touchscreen")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ScreenCast source and cursor modes.
const (
	SourceMonitor  uint32 = 1
	SourceWindow   uint32 = 2
	CursorHidden   uint32 = 1
	CursorEmbedded uint32 = 2
	CursorMetadata uint32 = 4

	persistDoNot uint32 = 0
)

// Key states for NotifyPointerButton and NotifyKeyboardKeycode.
const (
	Released uint32 = 0
	Pressed  uint32 = 1
)

// Info is what Status reports about the running portal.
type Info struct {
	RemoteDesktopVersion uint32
	ScreenCastVersion    uint32
	DeviceTypes          DeviceType
	SourceTypes          uint32
}

// Portal is a connection to the desktop portal service.
type Portal struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	sender string
	tokens atomic.Uint64
}

// Open connects to the session bus.
func Open() (*Portal, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	if !conn.SupportsUnixFDs() {
		conn.Close()
		return nil, fmt.Errorf("%w: session bus cannot pass file descriptors", ErrUnavailable)
	}
	names := conn.Names()
	if len(names) == 0 {
		conn.Close()
		return nil, fmt.Errorf("session bus gave no unique name")
	}
	return &Portal{
		conn:   conn,
		obj:    conn.Object(busName, objectPath),
		sender: names[0],
	}, nil
}

// Close drops the bus connection. Sessions die with it.
func (p *Portal) Close() error {
	return p.conn.Close()
}

// Status reads the interface versions and supported types.
func (p *Portal) Status() (*Info, error) {
	info := &Info{}
	var err error
	if info.RemoteDesktopVersion, err = p.uint32Property(ifaceRemoteDesktop, "version"); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, ifaceRemoteDesktop, err)
	}
	devices, err := p.uint32Property(ifaceRemoteDesktop, "AvailableDeviceTypes")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, ifaceRemoteDesktop, err)
	}
	info.DeviceTypes = DeviceType(devices)

	if info.ScreenCastVersion, err = p.uint32Property(ifaceScreenCast, "version"); err != nil {
		return info, fmt.Errorf("%w: %s: %v", ErrUnavailable, ifaceScreenCast, err)
	}
	if info.SourceTypes, err = p.uint32Property(ifaceScreenCast, "AvailableSourceTypes"); err != nil {
		return info, fmt.Errorf("%w: %s: %v", ErrUnavailable, ifaceScreenCast, err)
	}
	return info, nil
}

func (p *Portal) uint32Property(iface, name string) (uint32, error) {
	v, err := p.obj.GetProperty(iface + "." + name)
	if err != nil {
		return 0, err
	}
	n, ok := v.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("property %s has type %s", name, v.Signature())
	}
	return n, nil
}

func (p *Portal) token() string {
	return fmt.Sprintf("%s_%d", tokenPrefix, p.tokens.Add(1))
}

// requestPath is the object path the portal will use for a request with
// the given handle token.
func requestPath(sender, token string) dbus.ObjectPath {
	s := strings.TrimPrefix(sender, ":")
	s = strings.ReplaceAll(s, ".", "_")
	return dbus.ObjectPath(requestPathPrefix + s + "/" + token)
}

// responseError maps a Request.Response code to an error.
func responseError(code uint32) error {
	switch code {
	case 0:
		return nil
	case 1:
		return ErrCancelled
	default:
		return fmt.Errorf("%w (response %d)", ErrRequestFailed, code)
	}
}

// request calls method with an options dict as last argument and waits
// for the matching Response signal. The subscription is in place before
// the call so a fast reply is not missed.
func (p *Portal) request(ctx context.Context, method string, args ...any) (map[string]dbus.Variant, error) {
	token := p.token()
	path := requestPath(p.sender, token)

	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(ifaceRequest),
		dbus.WithMatchMember("Response"),
	}
	if err := p.conn.AddMatchSignal(match...); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}
	defer p.conn.RemoveMatchSignal(match...)

	signals := make(chan *dbus.Signal, 4)
	p.conn.Signal(signals)
	defer p.conn.RemoveSignal(signals)

	opts := args[len(args)-1].(map[string]dbus.Variant)
	opts["handle_token"] = dbus.MakeVariant(token)

	var handle dbus.ObjectPath
	if err := p.obj.CallWithContext(ctx, method, 0, args...).Store(&handle); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if handle != path {
		logger.Debug("portal: request handle differs from the expected path", "expected", path, "got", handle)
		path = handle
	}

	for {
		select {
		case <-ctx.Done():
			p.conn.Object(busName, path).Call(ifaceRequest+".Close", 0)
			return nil, ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil, fmt.Errorf("%s: bus connection closed", method)
			}
			if sig.Path != path || sig.Name != ifaceRequest+".Response" {
				continue
			}
			return parseResponse(method, sig.Body)
		}
	}
}

func parseResponse(method string, body []any) (map[string]dbus.Variant, error) {
	if len(body) != 2 {
		return nil, fmt.Errorf("%s: malformed response with %d values", method, len(body))
	}
	code, ok := body[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("%s: malformed response code %T", method, body[0])
	}
	if err := responseError(code); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	results, _ := body[1].(map[string]dbus.Variant)
	if results == nil {
		results = map[string]dbus.Variant{}
	}
	return results, nil
}

func options() map[string]dbus.Variant {
	return map[string]dbus.Variant{}
}
