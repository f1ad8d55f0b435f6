package eis

// Interface names as they appear on the wire.
const (
	InterfaceHandshake       = "ei_handshake"
	InterfaceConnection      = "ei_connection"
	InterfaceCallback        = "ei_callback"
	InterfacePingpong        = "ei_pingpong"
	InterfaceSeat            = "ei_seat"
	InterfaceDevice          = "ei_device"
	InterfacePointer         = "ei_pointer"
	InterfacePointerAbsolute = "ei_pointer_absolute"
	InterfaceScroll          = "ei_scroll"
	InterfaceButton          = "ei_button"
	InterfaceKeyboard        = "ei_keyboard"
	InterfaceTouchscreen     = "ei_touchscreen"
)

// ContextType is the role announced during the handshake.
type ContextType uint32

const (
	ContextReceiver ContextType = 1
	ContextSender   ContextType = 2
)

func (c ContextType) String() string {
	switch c {
	case ContextReceiver:
		return "receiver"
	case ContextSender:
		return "sender"
	}
	return "unknown"
}

// DeviceType as announced by ei_device.device_type.
type DeviceType uint32

const (
	DeviceTypeVirtual  DeviceType = 1
	DeviceTypePhysical DeviceType = 2
)

func (d DeviceType) String() string {
	switch d {
	case DeviceTypeVirtual:
		return "virtual"
	case DeviceTypePhysical:
		return "physical"
	}
	return "unknown"
}

// ButtonState for ei_button.button and ei_keyboard.key.
type ButtonState uint32

const (
	Release ButtonState = 0
	Press   ButtonState = 1
)

func (s ButtonState) String() string {
	if s == Press {
		return "press"
	}
	return "release"
}

// Linux input event codes used by the CLI.
const (
	ButtonLeft   uint32 = 272
	ButtonRight  uint32 = 273
	ButtonMiddle uint32 = 274
)

// Opcodes for requests sent by the client.
const (
	opHandshakeVersion          = 0
	opHandshakeFinish           = 1
	opHandshakeContextType      = 2
	opHandshakeName             = 3
	opHandshakeInterfaceVersion = 4

	opConnectionSync       = 0
	opConnectionDisconnect = 1

	opPingpongDone = 0

	opSeatRelease = 0
	opSeatBind    = 1

	opDeviceRelease        = 0
	opDeviceStartEmulating = 1
	opDeviceStopEmulating  = 2
	opDeviceFrame          = 3

	opPointerMotionRelative = 1
	opPointerMotionAbsolute = 1
	opScroll                = 1
	opScrollDiscrete        = 2
	opScrollStop            = 3
	opButton                = 1
	opKey                   = 1
)

// Opcodes for events sent by the server.
const (
	evHandshakeVersion          = 0
	evHandshakeInterfaceVersion = 1
	evHandshakeConnection       = 2

	evConnectionDisconnected  = 0
	evConnectionSeat          = 1
	evConnectionInvalidObject = 2
	evConnectionPing          = 3

	evCallbackDone = 0

	evSeatDestroyed  = 0
	evSeatName       = 1
	evSeatCapability = 2
	evSeatDone       = 3
	evSeatDevice     = 4

	evDeviceDestroyed       = 0
	evDeviceName            = 1
	evDeviceType            = 2
	evDeviceDimensions      = 3
	evDeviceRegion          = 4
	evDeviceInterface       = 5
	evDeviceDone            = 6
	evDeviceResumed         = 7
	evDevicePaused          = 8
	evDeviceStartEmulating  = 9
	evDeviceStopEmulating   = 10
	evDeviceFrame           = 11
	evDeviceRegionMappingID = 12

	// Every interface below ei_device uses opcode 0 for destroyed.
	evDestroyed = 0

	evPointerMotionRelative = 1
	evPointerMotionAbsolute = 1
	evScroll                = 1
	evScrollDiscrete        = 2
	evScrollStop            = 3
	evButton                = 1
	evKeyboardKeymap        = 1
	evKeyboardKey           = 2
	evKeyboardModifiers     = 3
	evTouchDown             = 1
	evTouchMotion           = 2
	evTouchUp               = 3
)

// eventSpec describes one server event.
type eventSpec struct {
	name string
	sig  string
}

// eventSpecs maps interface name to its events, indexed by opcode.
var eventSpecs = map[string][]eventSpec{
	InterfaceHandshake: {
		{"handshake_version", "u"},
		{"interface_version", "su"},
		{"connection", "unu"},
	},
	InterfaceConnection: {
		{"disconnected", "uus"},
		{"seat", "nu"},
		{"invalid_object", "ut"},
		{"ping", "nu"},
	},
	InterfaceCallback: {
		{"done", "t"},
	},
	InterfacePingpong: {},
	InterfaceSeat: {
		{"destroyed", "u"},
		{"name", "s"},
		{"capability", "ts"},
		{"done", ""},
		{"device", "nu"},
	},
	InterfaceDevice: {
		{"destroyed", "u"},
		{"name", "s"},
		{"device_type", "u"},
		{"dimensions", "uu"},
		{"region", "uuuuf"},
		{"interface", "nsu"},
		{"done", ""},
		{"resumed", "u"},
		{"paused", "u"},
		{"start_emulating", "uu"},
		{"stop_emulating", "u"},
		{"frame", "ut"},
		{"region_mapping_id", "s"},
	},
	InterfacePointer: {
		{"destroyed", "u"},
		{"motion_relative", "ff"},
	},
	InterfacePointerAbsolute: {
		{"destroyed", "u"},
		{"motion_absolute", "ff"},
	},
	InterfaceScroll: {
		{"destroyed", "u"},
		{"scroll", "ff"},
		{"scroll_discrete", "ii"},
		{"scroll_stop", "uuu"},
	},
	InterfaceButton: {
		{"destroyed", "u"},
		{"button", "uu"},
	},
	InterfaceKeyboard: {
		{"destroyed", "u"},
		{"keymap", "uuh"},
		{"key", "uu"},
		{"modifiers", "uuuuu"},
	},
	InterfaceTouchscreen: {
		{"destroyed", "u"},
		{"down", "uff"},
		{"motion", "uff"},
		{"up", "u"},
	},
}

func lookupEvent(iface string, opcode uint32) (eventSpec, bool) {
	specs, ok := eventSpecs[iface]
	if !ok || opcode >= uint32(len(specs)) {
		return eventSpec{}, false
	}
	return specs[opcode], true
}

// clientInterfaces lists the interfaces and versions this client speaks.
// ei_handshake is implicit and not announced.
var clientInterfaces = []InterfaceVersion{
	{InterfaceConnection, 1},
	{InterfaceCallback, 1},
	{InterfacePingpong, 1},
	{InterfaceSeat, 1},
	{InterfaceDevice, 2},
	{InterfacePointer, 1},
	{InterfacePointerAbsolute, 1},
	{InterfaceScroll, 1},
	{InterfaceButton, 1},
	{InterfaceKeyboard, 1},
	{InterfaceTouchscreen, 1},
}

// ClientInterfaces returns a copy of the interfaces this client announces.
func ClientInterfaces() []InterfaceVersion {
	return append([]InterfaceVersion(nil), clientInterfaces...)
}

// requiredInterfaces must survive negotiation for a sender to be useful.
var requiredInterfaces = []string{
	InterfaceConnection,
	InterfaceSeat,
	InterfaceDevice,
}

// InterfaceVersion pairs an interface name with a version.
type InterfaceVersion struct {
	Name    string
	Version uint32
}

// Capability is one bindable seat capability, named after its interface.
type Capability string

const (
	CapPointer         Capability = InterfacePointer
	CapPointerAbsolute Capability = InterfacePointerAbsolute
	CapScroll          Capability = InterfaceScroll
	CapButton          Capability = InterfaceButton
	CapKeyboard        Capability = InterfaceKeyboard
	CapTouchscreen     Capability = InterfaceTouchscreen
)

func isCapabilityInterface(name string) bool {
	switch Capability(name) {
	case CapPointer, CapPointerAbsolute, CapScroll, CapButton, CapKeyboard, CapTouchscreen:
		return true
	}
	return false
}
