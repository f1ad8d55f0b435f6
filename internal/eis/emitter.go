package eis

import (
	"errors"
	"fmt"

	"github.com/bnema/portal-input/internal/logger"
)

// EmissionState tracks whether a start/stop bracket is open.
type EmissionState int

const (
	Idle EmissionState = iota
	Emulating
)

func (s EmissionState) String() string {
	if s == Emulating {
		return "emulating"
	}
	return "idle"
}

// emitCapabilities are the interfaces a sender can drive.
var emitCapabilities = []Capability{
	CapPointer, CapPointerAbsolute, CapScroll, CapButton, CapKeyboard,
}

// Emitter stages input for one device. It owns the serial and sequence
// counters of that device; nothing else may send emulation requests for
// it. All calls only buffer, so the caller flushes the connection after
// each frame.
type Emitter struct {
	conn   *Connection
	device *Device

	state        EmissionState
	lastSerial   uint32
	lastSequence uint32
	started      bool
	staged       int
	frames       int
}

// NewEmitter prepares emission on device. The device must expose at least
// one emission interface whose capability has been bound on its seat.
func NewEmitter(conn *Connection, device *Device) (*Emitter, error) {
	if device == nil || device.Seat == nil {
		return nil, errors.New("eis: emitter needs a device on a seat")
	}
	usable := false
	for _, c := range emitCapabilities {
		if device.Has(c) && device.Seat.Bound(c) {
			usable = true
			break
		}
	}
	if !usable {
		return nil, fmt.Errorf("%w: device %q has no bound emission interface", ErrCapabilityMissing, device.Name)
	}
	return &Emitter{conn: conn, device: device}, nil
}

// Device returns the target device.
func (e *Emitter) Device() *Device { return e.device }

// State returns the bracket state.
func (e *Emitter) State() EmissionState { return e.state }

// LastSerial is the serial of the last start, frame or stop.
func (e *Emitter) LastSerial() uint32 { return e.lastSerial }

// Frames counts committed frames.
func (e *Emitter) Frames() int { return e.frames }

// NextSerial is the serial the next Commit will use.
func (e *Emitter) NextSerial() uint32 { return e.lastSerial + 1 }

func (e *Emitter) violation(op, format string, args ...any) error {
	return &OrderingError{Device: e.device.ID, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// StartEmulating opens a bracket. The sequence must increase across
// brackets and serial must not go backwards.
func (e *Emitter) StartEmulating(serial, sequence uint32) error {
	if e.state == Emulating {
		return e.violation("start_emulating", "bracket already open")
	}
	if !e.device.resumed {
		return e.violation("start_emulating", "device not resumed")
	}
	if e.started && sequence <= e.lastSequence {
		return e.violation("start_emulating", "sequence %d not greater than %d", sequence, e.lastSequence)
	}
	if serial < e.lastSerial {
		return e.violation("start_emulating", "serial %d lower than committed %d", serial, e.lastSerial)
	}
	if err := e.conn.Send(e.device.ID, opDeviceStartEmulating, "uu", serial, sequence); err != nil {
		return err
	}
	e.state = Emulating
	e.started = true
	e.lastSerial = serial
	e.lastSequence = sequence
	e.staged = 0
	logger.Debug("eis: start emulating", "device", e.device.Name, "serial", serial, "sequence", sequence)
	return nil
}

// stage checks the bracket and the seat binding, then sends one input
// request on the capability's sub-object.
func (e *Emitter) stage(op string, c Capability, opcode uint32, sig string, args ...any) error {
	if e.state != Emulating {
		return e.violation(op, "no open bracket")
	}
	if !e.device.resumed {
		return e.violation(op, "device paused")
	}
	id, ok := e.device.Interface(c)
	if !ok {
		return fmt.Errorf("%w: device %q has no %s", ErrCapabilityMissing, e.device.Name, c)
	}
	if !e.device.Seat.Bound(c) {
		return e.violation(op, "%s not bound on seat %q", c, e.device.Seat.Name)
	}
	if err := e.conn.Send(id, opcode, sig, args...); err != nil {
		return err
	}
	e.staged++
	return nil
}

// MotionAbsolute stages an absolute move in logical pixels. Whether the
// point lies inside a region is the caller's concern; see Device.RegionAt.
func (e *Emitter) MotionAbsolute(x, y float32) error {
	return e.stage("motion_absolute", CapPointerAbsolute, opPointerMotionAbsolute, "ff", x, y)
}

// MotionRelative stages a relative move.
func (e *Emitter) MotionRelative(dx, dy float32) error {
	return e.stage("motion_relative", CapPointer, opPointerMotionRelative, "ff", dx, dy)
}

// Button stages a button press or release. Codes are evdev codes.
func (e *Emitter) Button(code uint32, state ButtonState) error {
	return e.stage("button", CapButton, opButton, "uu", code, uint32(state))
}

// Key stages a key press or release. Codes are evdev codes.
func (e *Emitter) Key(code uint32, state ButtonState) error {
	return e.stage("key", CapKeyboard, opKey, "uu", code, uint32(state))
}

// Scroll stages a smooth scroll in logical pixels.
func (e *Emitter) Scroll(dx, dy float32) error {
	return e.stage("scroll", CapScroll, opScroll, "ff", dx, dy)
}

// ScrollDiscrete stages wheel clicks in fractions of 120.
func (e *Emitter) ScrollDiscrete(dx, dy int32) error {
	return e.stage("scroll_discrete", CapScroll, opScrollDiscrete, "ii", dx, dy)
}

// ScrollStop ends a smooth scroll sequence on the given axes.
func (e *Emitter) ScrollStop(x, y bool) error {
	return e.stage("scroll_stop", CapScroll, opScrollStop, "uuu", boolArg(x), boolArg(y), uint32(0))
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Frame commits the staged events. The serial must be greater than the
// last committed one.
func (e *Emitter) Frame(serial uint32, timestampMicros uint64) error {
	if e.state != Emulating {
		return e.violation("frame", "no open bracket")
	}
	if serial <= e.lastSerial {
		return e.violation("frame", "serial %d not greater than %d", serial, e.lastSerial)
	}
	if e.staged == 0 {
		logger.Debug("eis: committing empty frame", "device", e.device.Name, "serial", serial)
	}
	if err := e.conn.Send(e.device.ID, opDeviceFrame, "ut", serial, timestampMicros); err != nil {
		return err
	}
	e.lastSerial = serial
	e.staged = 0
	e.frames++
	return nil
}

// StopEmulating closes the bracket. Events staged since the last frame
// are discarded by the server.
func (e *Emitter) StopEmulating(serial uint32) error {
	if e.state != Emulating {
		return e.violation("stop_emulating", "no open bracket")
	}
	if serial < e.lastSerial {
		return e.violation("stop_emulating", "serial %d lower than committed %d", serial, e.lastSerial)
	}
	if e.staged > 0 {
		logger.Warn("Stopping emulation with uncommitted events", "device", e.device.Name, "events", e.staged)
	}
	if err := e.conn.Send(e.device.ID, opDeviceStopEmulating, "u", serial); err != nil {
		return err
	}
	e.state = Idle
	e.lastSerial = serial
	e.staged = 0
	logger.Debug("eis: stop emulating", "device", e.device.Name, "serial", serial)
	return nil
}

// Begin opens a bracket at the device's resume serial (or the last
// committed one, whichever is later) with the next sequence number.
func (e *Emitter) Begin() error {
	serial, _ := e.device.Resumed()
	return e.StartEmulating(max(serial, e.lastSerial), e.lastSequence+1)
}

// Commit frames the staged events with NextSerial.
func (e *Emitter) Commit(timestampMicros uint64) error {
	return e.Frame(e.NextSerial(), timestampMicros)
}

// End closes the bracket at the last committed serial.
func (e *Emitter) End() error {
	return e.StopEmulating(e.lastSerial)
}

