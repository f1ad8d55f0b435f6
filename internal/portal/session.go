package portal

import (
	"context"
	"fmt"

	"github.com/bnema/portal-input/internal/logger"
	"github.com/godbus/dbus/v5"
)

// Stream is one ScreenCast stream handed out by Start.
type Stream struct {
	NodeID        uint32
	X, Y          int32
	Width, Height int32
	SourceType    uint32
	// MappingID matches an EIS device region when the compositor sets it.
	MappingID string
}

func (s Stream) String() string {
	return fmt.Sprintf("node=%d size=%dx%d pos=%d,%d", s.NodeID, s.Width, s.Height, s.X, s.Y)
}

// Session is a combined RemoteDesktop and ScreenCast portal session.
type Session struct {
	portal *Portal
	handle dbus.ObjectPath

	// Devices and Streams are filled in by Start.
	Devices DeviceType
	Streams []Stream

	started bool
	closed  bool
}

// CreateSession opens a new RemoteDesktop session.
func (p *Portal) CreateSession(ctx context.Context) (*Session, error) {
	opts := options()
	opts["session_handle_token"] = dbus.MakeVariant(p.token())

	results, err := p.request(ctx, ifaceRemoteDesktop+".CreateSession", opts)
	if err != nil {
		return nil, err
	}
	handle, err := sessionHandle(results)
	if err != nil {
		return nil, err
	}
	logger.Debug("portal: session created", "handle", handle)
	return &Session{portal: p, handle: handle}, nil
}

func sessionHandle(results map[string]dbus.Variant) (dbus.ObjectPath, error) {
	v, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("CreateSession: no session_handle in response")
	}
	switch h := v.Value().(type) {
	case string:
		return dbus.ObjectPath(h), nil
	case dbus.ObjectPath:
		return h, nil
	}
	return "", fmt.Errorf("CreateSession: session_handle has type %s", v.Signature())
}

// Handle is the session object path.
func (s *Session) Handle() dbus.ObjectPath { return s.handle }

// SelectDevices asks for the given device types.
func (s *Session) SelectDevices(ctx context.Context, types DeviceType) error {
	opts := options()
	opts["types"] = dbus.MakeVariant(uint32(types))
	opts["persist_mode"] = dbus.MakeVariant(persistDoNot)
	_, err := s.portal.request(ctx, ifaceRemoteDesktop+".SelectDevices", s.handle, opts)
	return err
}

// SelectSources asks for a single monitor with the cursor embedded.
func (s *Session) SelectSources(ctx context.Context) error {
	opts := options()
	opts["types"] = dbus.MakeVariant(SourceMonitor)
	opts["multiple"] = dbus.MakeVariant(false)
	opts["cursor_mode"] = dbus.MakeVariant(CursorEmbedded)
	opts["persist_mode"] = dbus.MakeVariant(persistDoNot)
	_, err := s.portal.request(ctx, ifaceScreenCast+".SelectSources", s.handle, opts)
	return err
}

// Start shows the consent dialog and blocks until the user answers.
func (s *Session) Start(ctx context.Context) error {
	results, err := s.portal.request(ctx, ifaceRemoteDesktop+".Start", s.handle, "", options())
	if err != nil {
		return err
	}
	if v, ok := results["devices"]; ok {
		if d, ok := v.Value().(uint32); ok {
			s.Devices = DeviceType(d)
		}
	}
	if v, ok := results["streams"]; ok {
		s.Streams, err = parseStreams(v.Value())
		if err != nil {
			return fmt.Errorf("Start: %w", err)
		}
	}
	s.started = true
	logger.Debug("portal: session started", "devices", s.Devices.String(), "streams", len(s.Streams))
	return nil
}

// parseStreams decodes the a(ua{sv}) streams value.
func parseStreams(v any) ([]Stream, error) {
	raw, ok := v.([][]any)
	if !ok {
		return nil, fmt.Errorf("streams has unexpected type %T", v)
	}
	streams := make([]Stream, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 2 {
			return nil, fmt.Errorf("stream %d has %d fields", i, len(entry))
		}
		node, ok := entry[0].(uint32)
		if !ok {
			return nil, fmt.Errorf("stream %d node id has type %T", i, entry[0])
		}
		st := Stream{NodeID: node}
		props, _ := entry[1].(map[string]dbus.Variant)
		if p, ok := props["size"]; ok {
			st.Width, st.Height = pair(p.Value())
		}
		if p, ok := props["position"]; ok {
			st.X, st.Y = pair(p.Value())
		}
		if p, ok := props["source_type"]; ok {
			st.SourceType, _ = p.Value().(uint32)
		}
		if p, ok := props["mapping_id"]; ok {
			st.MappingID, _ = p.Value().(string)
		}
		streams = append(streams, st)
	}
	return streams, nil
}

// pair decodes an (ii) struct.
func pair(v any) (int32, int32) {
	fields, ok := v.([]any)
	if !ok || len(fields) != 2 {
		return 0, 0
	}
	a, _ := fields[0].(int32)
	b, _ := fields[1].(int32)
	return a, b
}

// ConnectToEIS returns a socket speaking the EIS protocol for this
// session. The caller owns the descriptor.
func (s *Session) ConnectToEIS(ctx context.Context) (int, error) {
	if !s.started {
		return -1, fmt.Errorf("ConnectToEIS: session not started")
	}
	var fd dbus.UnixFD
	err := s.portal.obj.CallWithContext(ctx, ifaceRemoteDesktop+".ConnectToEIS", 0, s.handle, options()).Store(&fd)
	if err != nil {
		return -1, fmt.Errorf("ConnectToEIS: %w", err)
	}
	return int(fd), nil
}

func (s *Session) notify(ctx context.Context, method string, args ...any) error {
	if !s.started {
		return fmt.Errorf("%s: session not started", method)
	}
	args = append([]any{s.handle, options()}, args...)
	if err := s.portal.obj.CallWithContext(ctx, ifaceRemoteDesktop+"."+method, 0, args...).Err; err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// NotifyPointerMotion moves the pointer by dx, dy.
func (s *Session) NotifyPointerMotion(ctx context.Context, dx, dy float64) error {
	return s.notify(ctx, "NotifyPointerMotion", dx, dy)
}

// NotifyPointerMotionAbsolute moves the pointer to x, y inside a stream.
func (s *Session) NotifyPointerMotionAbsolute(ctx context.Context, stream uint32, x, y float64) error {
	return s.notify(ctx, "NotifyPointerMotionAbsolute", stream, x, y)
}

// NotifyPointerButton presses or releases an evdev button.
func (s *Session) NotifyPointerButton(ctx context.Context, button int32, state uint32) error {
	return s.notify(ctx, "NotifyPointerButton", button, state)
}

// NotifyKeyboardKeycode presses or releases an evdev key.
func (s *Session) NotifyKeyboardKeycode(ctx context.Context, keycode int32, state uint32) error {
	return s.notify(ctx, "NotifyKeyboardKeycode", keycode, state)
}

// Close ends the session. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.portal.conn.Object(busName, s.handle).Call(ifaceSession+".Close", 0).Err; err != nil {
		return fmt.Errorf("failed to close portal session: %w", err)
	}
	return nil
}

// Bootstrap runs the usual sequence: create a session, select keyboard
// and pointer plus one monitor, then wait for consent.
func (p *Portal) Bootstrap(ctx context.Context) (*Session, error) {
	s, err := p.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.SelectDevices(ctx, DeviceKeyboard|DevicePointer); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.SelectSources(ctx); err != nil {
		s.Close()
		return nil, err
	}
	logger.Info("Waiting for consent dialog...")
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
