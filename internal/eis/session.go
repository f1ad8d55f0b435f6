package eis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bnema/portal-input/internal/logger"
	"golang.org/x/sys/unix"
)

// Clock supplies time to the poll loop so tests can run it without
// waiting.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	// Micros is the monotonic timestamp used for frames.
	Micros() uint64
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func (realClock) Micros() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return uint64(time.Now().UnixMicro())
	}
	return uint64(ts.Sec)*1_000_000 + uint64(ts.Nsec)/1_000
}

// RealClock returns the wall and monotonic system clocks.
func RealClock() Clock { return realClock{} }

// DefaultCapabilities is what a session binds when none are configured.
var DefaultCapabilities = []Capability{
	CapPointer, CapPointerAbsolute, CapButton, CapScroll, CapKeyboard,
}

// Options configures a Session. Zero values take the defaults below.
type Options struct {
	Name              string
	PollInterval      time.Duration // 10ms
	HandshakeTimeout  time.Duration // 5s
	DiscoveryTimeout  time.Duration // 10s
	MaxProtocolErrors int           // 10
	FlushRetries      int           // 50
	Capabilities      []Capability
	Clock             Clock
	// KeepKeymaps hands Keymap descriptors to the caller, who must close
	// them. Otherwise Dispatch closes them and reports FD as -1.
	KeepKeymaps bool
}

func (o *Options) applyDefaults() {
	if o.Name == "" {
		o.Name = "portal-input"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Millisecond
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.DiscoveryTimeout <= 0 {
		o.DiscoveryTimeout = 10 * time.Second
	}
	if o.MaxProtocolErrors <= 0 {
		o.MaxProtocolErrors = 10
	}
	if o.FlushRetries <= 0 {
		o.FlushRetries = 50
	}
	if len(o.Capabilities) == 0 {
		o.Capabilities = DefaultCapabilities
	}
	if o.Clock == nil {
		o.Clock = RealClock()
	}
}

// Session drives one EIS connection as a sender: the handshake, seat
// binding, device discovery and the poll loop in between emissions. Like
// Connection it must be used by one goroutine at a time.
type Session struct {
	opts      Options
	conn      *Connection
	handshake *Handshake
	resp      *HandshakeResponse
	converter *Converter
	emitters  map[*Device]*Emitter

	protocolErrors int
	closed         bool
}

// NewSession wraps t. Nothing is read or written until Handshake.
func NewSession(t Transport, opts Options) *Session {
	opts.applyDefaults()
	conn := NewConnection(t,
		WithFlushRetries(opts.FlushRetries, 2*time.Millisecond),
		WithSleep(opts.Clock.Sleep),
	)
	return &Session{
		opts:      opts,
		conn:      conn,
		handshake: NewHandshake(conn, opts.Name, ContextSender),
		emitters:  make(map[*Device]*Emitter),
	}
}

// Connection exposes the underlying connection.
func (s *Session) Connection() *Connection { return s.conn }

// Converter returns the registry, nil before the handshake completes.
func (s *Session) Converter() *Converter { return s.converter }

// Response returns the handshake result, nil before completion.
func (s *Session) Response() *HandshakeResponse { return s.resp }

// Timestamp returns the current frame timestamp in microseconds.
func (s *Session) Timestamp() uint64 { return s.opts.Clock.Micros() }

// Handshake polls until the server hands out the connection object or
// the handshake timeout passes.
func (s *Session) Handshake(ctx context.Context) (*HandshakeResponse, error) {
	if s.resp != nil {
		return s.resp, nil
	}
	deadline := s.opts.Clock.Now().Add(s.opts.HandshakeTimeout)
	for {
		if err := s.poll(); err != nil {
			return nil, err
		}
		if s.resp != nil {
			return s.resp, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.opts.Clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w after %s in state %s", ErrHandshakeTimeout, s.opts.HandshakeTimeout, s.handshake.State())
		}
		s.opts.Clock.Sleep(s.opts.PollInterval)
	}
}

// Dispatch runs one non-blocking pass of the poll loop and returns the
// lifecycle events it produced, also when the pass ends in an error. New
// seats are bound to the configured capabilities before Dispatch returns.
// Keymap descriptors are closed unless Options.KeepKeymaps is set.
func (s *Session) Dispatch() ([]Event, error) {
	if s.resp == nil {
		return nil, fmt.Errorf("%w: dispatch before handshake", ErrHandshake)
	}
	pollErr := s.poll()

	var events []Event
	bound := false
	for {
		ev, ok := s.converter.NextEvent()
		if !ok {
			break
		}
		switch e := ev.(type) {
		case SeatAdded:
			if err := s.bind(e.Seat); err != nil {
				return events, err
			}
			bound = true
		case DeviceRemoved:
			delete(s.emitters, e.Device)
		case Keymap:
			if !s.opts.KeepKeymaps && e.FD >= 0 {
				_ = unix.Close(e.FD)
				e.FD = -1
				ev = e
			}
		}
		events = append(events, ev)
	}
	if pollErr != nil {
		return events, pollErr
	}
	if bound {
		if err := s.flush(); err != nil {
			return events, err
		}
	}
	return events, nil
}

func (s *Session) bind(seat *Seat) error {
	var caps []Capability
	for _, c := range s.opts.Capabilities {
		if seat.Has(c) {
			caps = append(caps, c)
		}
	}
	if len(caps) == 0 {
		logger.Warn("EIS seat offers none of the wanted capabilities", "seat", seat.Name, "offered", seat.Capabilities())
		return nil
	}
	return s.converter.BindCapabilities(seat, caps...)
}

// WaitForDevice polls until a resumed device satisfying match appears.
// A nil match selects the first device with absolute pointer motion.
func (s *Session) WaitForDevice(ctx context.Context, match func(*Device) bool) (*Device, error) {
	if match == nil {
		match = func(d *Device) bool { return d.Has(CapPointerAbsolute) }
	}
	deadline := s.opts.Clock.Now().Add(s.opts.DiscoveryTimeout)
	for {
		events, err := s.Dispatch()
		for _, ev := range events {
			switch ev := ev.(type) {
			case DeviceResumed:
				if match(ev.Device) {
					logger.Info("EIS device ready", "device", ev.Device.String(), "serial", ev.Serial)
					return ev.Device, nil
				}
			case Disconnected:
				return nil, fmt.Errorf("%w: %s (%s)", ErrDisconnected, ev.Reason, ev.Explanation)
			}
		}
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.opts.Clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w after %s", ErrDiscoveryTimeout, s.opts.DiscoveryTimeout)
		}
		s.opts.Clock.Sleep(s.opts.PollInterval)
	}
}

// Target picks the device that input needing caps goes to. Only devices
// exposing every capability with the seat binding in place qualify.
// Resumed devices win over paused ones, then the lowest id wins, so the
// choice is stable while the device set does not change.
func (s *Session) Target(caps ...Capability) (*Device, error) {
	if s.converter == nil {
		return nil, fmt.Errorf("%w: no devices before handshake", ErrCapabilityMissing)
	}
	var best *Device
	bestResumed := false
	for _, d := range s.converter.Devices() {
		if !d.drives(caps) {
			continue
		}
		_, resumed := d.Resumed()
		switch {
		case best == nil,
			resumed && !bestResumed,
			resumed == bestResumed && d.ID < best.ID:
			best, bestResumed = d, resumed
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no device with %v", ErrCapabilityMissing, caps)
	}
	return best, nil
}

// Devices lists the announced devices ordered by id.
func (s *Session) Devices() []*Device {
	if s.converter == nil {
		return nil
	}
	devs := s.converter.Devices()
	slices.SortFunc(devs, func(a, b *Device) int { return cmp.Compare(a.ID, b.ID) })
	return devs
}

// Emitter returns the emitter for dev. There is one per device for the
// life of the session, so its serial and sequence counters never restart.
func (s *Session) Emitter(dev *Device) (*Emitter, error) {
	if em, ok := s.emitters[dev]; ok {
		return em, nil
	}
	em, err := NewEmitter(s.conn, dev)
	if err != nil {
		return nil, err
	}
	s.emitters[dev] = em
	return em, nil
}

// Flush writes everything staged. A blocked socket is not an error here;
// the bytes stay queued for the next pass.
func (s *Session) Flush() error {
	return s.flush()
}

func (s *Session) flush() error {
	err := s.conn.Flush()
	if errors.Is(err, ErrWouldBlock) {
		logger.Debug("eis: write blocked, keeping bytes queued", "buffered", s.conn.Buffered())
		return nil
	}
	return err
}

// Close says goodbye to the server when possible and closes the
// connection.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.converter != nil && !s.converter.Disconnected() {
		if err := s.converter.Disconnect(); err == nil {
			_ = s.conn.Flush()
		}
	}
	return s.conn.Close()
}

// poll reads whatever is available, routes every complete message and
// flushes replies.
func (s *Session) poll() error {
	if s.closed {
		return ErrDisconnected
	}
	var readErr error
	for {
		_, err := s.conn.Read()
		if errors.Is(err, ErrWouldBlock) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
	}

	// Whatever arrived before a read failure is still routed, so a
	// disconnected event followed by EOF is not lost.
	for {
		pending, ok := s.conn.PendingEvent()
		if !ok {
			break
		}
		if err := s.route(pending); err != nil {
			return err
		}
	}
	if readErr != nil {
		return readErr
	}
	return s.flush()
}

func (s *Session) route(pending PendingEvent) error {
	switch p := pending.(type) {
	case *Request:
		if s.resp == nil {
			resp, err := s.handshake.Handle(p)
			if err != nil {
				return err
			}
			if resp != nil {
				s.resp = resp
				s.converter = NewConverter(s.conn, resp)
			}
			return nil
		}
		if err := s.converter.HandleEvent(p); err != nil {
			var cerr *ConverterError
			if !errors.As(err, &cerr) {
				return err
			}
			return s.protocolError(err)
		}
		return nil

	case *ParseError:
		if p.Fatal {
			return &TransportError{Op: "decode", Err: p}
		}
		return s.protocolError(p)

	case *InvalidObject:
		// Events for objects we already released are expected; the
		// server has not processed our release yet.
		logger.Debug("eis: message for unknown object", "id", fmt.Sprintf("%#x", uint64(p.ID)), "opcode", p.Opcode,
			"interface", p.Interface, "discarded_fds", p.Discarded)
		return s.protocolError(fmt.Errorf("invalid object %#x", uint64(p.ID)))
	}
	return fmt.Errorf("eis: unexpected pending event %T", pending)
}

func (s *Session) protocolError(err error) error {
	s.protocolErrors++
	logger.Warn("EIS protocol error", "error", err, "count", s.protocolErrors)
	if s.protocolErrors > s.opts.MaxProtocolErrors {
		return fmt.Errorf("%w: %d errors, last: %v", ErrTooManyProtocolErrors, s.protocolErrors, err)
	}
	return nil
}

