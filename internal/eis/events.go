package eis

import (
	"fmt"

	"github.com/bnema/portal-input/internal/eis/wire"
)

// Event is a lifecycle or input notification produced by the Converter.
// The set of event types is closed; every server message maps to exactly
// one of them or to nothing at all.
type Event interface {
	event()
}

// SeatAdded is queued once a seat has announced all its capabilities.
type SeatAdded struct{ Seat *Seat }

// SeatRemoved is queued when the server destroys a seat.
type SeatRemoved struct{ Seat *Seat }

// DeviceAdded is queued once a device description is complete.
type DeviceAdded struct{ Device *Device }

// DeviceRemoved is queued when the server destroys an announced device.
type DeviceRemoved struct{ Device *Device }

// DeviceResumed means the device may now emulate input.
type DeviceResumed struct {
	Device *Device
	Serial uint32
}

// DevicePaused means emulation must stop until the next resume.
type DevicePaused struct {
	Device *Device
	Serial uint32
}

// DisconnectReason is the reason code of ei_connection.disconnected.
type DisconnectReason uint32

const (
	DisconnectNormal    DisconnectReason = 0
	DisconnectError     DisconnectReason = 1
	DisconnectMode      DisconnectReason = 2
	DisconnectProtocol  DisconnectReason = 3
	DisconnectValue     DisconnectReason = 4
	DisconnectTransport DisconnectReason = 5
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectNormal:
		return "disconnected"
	case DisconnectError:
		return "error"
	case DisconnectMode:
		return "mode"
	case DisconnectProtocol:
		return "protocol"
	case DisconnectValue:
		return "value"
	case DisconnectTransport:
		return "transport"
	}
	return fmt.Sprintf("reason(%d)", uint32(r))
}

// Disconnected is the server's last word on the connection.
type Disconnected struct {
	LastSerial  uint32
	Reason      DisconnectReason
	Explanation string
}

// SyncDone answers a Converter.Sync round trip.
type SyncDone struct {
	Callback wire.ObjectID
	Data     uint64
}

// The events below are only sent to receiver contexts. A sender never
// sees them from a conforming server, but they are decoded and surfaced
// rather than dropped.

type StartEmulating struct {
	Device   *Device
	Serial   uint32
	Sequence uint32
}

type StopEmulating struct {
	Device *Device
	Serial uint32
}

type Frame struct {
	Device    *Device
	Serial    uint32
	Timestamp uint64
}

type PointerMotion struct {
	Device *Device
	DX, DY float32
}

type PointerMotionAbsolute struct {
	Device *Device
	X, Y   float32
}

type Button struct {
	Device *Device
	Button uint32
	State  ButtonState
}

type Scroll struct {
	Device *Device
	DX, DY float32
}

type ScrollDiscrete struct {
	Device *Device
	DX, DY int32
}

type ScrollStop struct {
	Device *Device
	X, Y   bool
	Cancel bool
}

type Key struct {
	Device *Device
	Key    uint32
	State  ButtonState
}

type Modifiers struct {
	Device                            *Device
	Serial                            uint32
	Depressed, Locked, Latched, Group uint32
}

// Keymap hands over a keymap descriptor. The consumer owns FD and must
// close it.
type Keymap struct {
	Device *Device
	Type   uint32
	Size   uint32
	FD     int
}

type TouchDown struct {
	Device  *Device
	TouchID uint32
	X, Y    float32
}

type TouchMotion struct {
	Device  *Device
	TouchID uint32
	X, Y    float32
}

type TouchUp struct {
	Device  *Device
	TouchID uint32
}

func (SeatAdded) event()             {}
func (SeatRemoved) event()           {}
func (DeviceAdded) event()           {}
func (DeviceRemoved) event()         {}
func (DeviceResumed) event()         {}
func (DevicePaused) event()          {}
func (Disconnected) event()          {}
func (SyncDone) event()              {}
func (StartEmulating) event()        {}
func (StopEmulating) event()         {}
func (Frame) event()                 {}
func (PointerMotion) event()         {}
func (PointerMotionAbsolute) event() {}
func (Button) event()                {}
func (Scroll) event()                {}
func (ScrollDiscrete) event()        {}
func (ScrollStop) event()            {}
func (Key) event()                   {}
func (Modifiers) event()             {}
func (Keymap) event()                {}
func (TouchDown) event()             {}
func (TouchMotion) event()           {}
func (TouchUp) event()               {}
