package eis

import (
	"fmt"

	"github.com/bnema/portal-input/internal/eis/wire"
	"github.com/bnema/portal-input/internal/logger"
)

// Converter turns post-handshake requests into an ordered queue of
// lifecycle events and keeps the seat and device registry.
type Converter struct {
	conn       *Connection
	connection wire.ObjectID
	interfaces map[string]uint32

	seats   map[wire.ObjectID]*Seat
	devices map[wire.ObjectID]*Device
	owners  map[wire.ObjectID]*Device

	queue        []Event
	disconnected bool
}

// NewConverter starts the event phase for a finished handshake.
func NewConverter(conn *Connection, resp *HandshakeResponse) *Converter {
	return &Converter{
		conn:       conn,
		connection: resp.Connection,
		interfaces: resp.Interfaces,
		seats:      make(map[wire.ObjectID]*Seat),
		devices:    make(map[wire.ObjectID]*Device),
		owners:     make(map[wire.ObjectID]*Device),
	}
}

// NextEvent pops the oldest queued event.
func (c *Converter) NextEvent() (Event, bool) {
	if len(c.queue) == 0 {
		return nil, false
	}
	ev := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return ev, true
}

// Disconnected reports whether the server sent ei_connection.disconnected.
func (c *Converter) Disconnected() bool {
	return c.disconnected
}

// Seat returns a known seat by id.
func (c *Converter) Seat(id wire.ObjectID) (*Seat, bool) {
	s, ok := c.seats[id]
	return s, ok
}

// Device returns a known device by id.
func (c *Converter) Device(id wire.ObjectID) (*Device, bool) {
	d, ok := c.devices[id]
	return d, ok
}

// Devices returns every announced device.
func (c *Converter) Devices() []*Device {
	out := make([]*Device, 0, len(c.devices))
	for _, d := range c.devices {
		if d.done {
			out = append(out, d)
		}
	}
	return out
}

// BindCapabilities stages an ei_seat.bind for caps. The request only
// reaches the server after Connection.Flush. Binding the mask that is
// already bound is a no-op.
func (c *Converter) BindCapabilities(seat *Seat, caps ...Capability) error {
	if _, ok := c.seats[seat.ID]; !ok {
		return fmt.Errorf("eis: unknown seat %#x", uint64(seat.ID))
	}
	if !seat.done {
		return fmt.Errorf("eis: seat %#x not announced yet", uint64(seat.ID))
	}
	mask, err := seat.mask(caps)
	if err != nil {
		return err
	}
	if mask == seat.bound {
		logger.Debug("eis: capabilities already bound", "seat", seat.Name, "mask", mask)
		return nil
	}
	if err := c.conn.Send(seat.ID, opSeatBind, "t", mask); err != nil {
		return err
	}
	seat.bound = mask
	logger.Info("Binding seat capabilities", "seat", seat.Name, "capabilities", caps)
	return nil
}

// Sync stages an ei_connection.sync round trip. A SyncDone event with the
// returned callback id is queued when the server has processed every
// request sent before it.
func (c *Converter) Sync() (wire.ObjectID, error) {
	id := c.conn.NewID()
	if err := c.conn.register(id, InterfaceCallback, 1); err != nil {
		return 0, err
	}
	if err := c.conn.Send(c.connection, opConnectionSync, "nu", id, uint32(1)); err != nil {
		c.conn.unregister(id)
		return 0, err
	}
	return id, nil
}

// Disconnect stages ei_connection.disconnect.
func (c *Converter) Disconnect() error {
	if c.disconnected {
		return nil
	}
	c.disconnected = true
	return c.conn.Send(c.connection, opConnectionDisconnect, "")
}

// ReleaseDevice stages ei_device.release. The server answers with
// destroyed.
func (c *Converter) ReleaseDevice(d *Device) error {
	return c.conn.Send(d.ID, opDeviceRelease, "")
}

// HandleEvent applies one post-handshake request.
func (c *Converter) HandleEvent(req *Request) error {
	switch req.Interface {
	case InterfaceConnection:
		return c.handleConnection(req)
	case InterfaceCallback:
		return c.handleCallback(req)
	case InterfaceSeat:
		return c.handleSeat(req)
	case InterfaceDevice:
		return c.handleDevice(req)
	case InterfacePointer, InterfacePointerAbsolute, InterfaceScroll,
		InterfaceButton, InterfaceKeyboard, InterfaceTouchscreen:
		return c.handleCapability(req)
	}
	return c.unexpected(req, "no handler for interface")
}

func (c *Converter) push(ev Event) {
	c.queue = append(c.queue, ev)
}

func (c *Converter) unexpected(req *Request, reason string) error {
	return &ConverterError{Object: req.Object, Event: req.Interface + "." + req.Name, Reason: reason}
}

func (c *Converter) handleConnection(req *Request) error {
	switch req.Opcode {
	case evConnectionDisconnected:
		c.conn.observeSerial(req.Uint32(0))
		c.disconnected = true
		ev := Disconnected{
			LastSerial:  req.Uint32(0),
			Reason:      DisconnectReason(req.Uint32(1)),
			Explanation: req.Str(2),
		}
		logger.Warn("EIS server disconnected", "reason", ev.Reason, "explanation", ev.Explanation)
		c.push(ev)
		return nil

	case evConnectionSeat:
		id, version := req.ObjectID(0), req.Uint32(1)
		version = min(version, c.interfaces[InterfaceSeat])
		if err := c.conn.register(id, InterfaceSeat, version); err != nil {
			return c.unexpected(req, err.Error())
		}
		c.seats[id] = newSeat(id, version)
		return nil

	case evConnectionInvalidObject:
		c.conn.observeSerial(req.Uint32(0))
		logger.Warn("EIS server reported invalid object", "id", fmt.Sprintf("%#x", req.Uint64(1)))
		return nil

	case evConnectionPing:
		// The pingpong object lives only until we answer it.
		return c.conn.Send(req.ObjectID(0), opPingpongDone, "t", uint64(0))
	}
	return c.unexpected(req, "unhandled opcode")
}

func (c *Converter) handleCallback(req *Request) error {
	if req.Opcode != evCallbackDone {
		return c.unexpected(req, "unhandled opcode")
	}
	c.conn.unregister(req.Object)
	c.push(SyncDone{Callback: req.Object, Data: req.Uint64(0)})
	return nil
}

func (c *Converter) handleSeat(req *Request) error {
	seat, ok := c.seats[req.Object]
	if !ok {
		return c.unexpected(req, "seat not tracked")
	}

	switch req.Opcode {
	case evSeatDestroyed:
		c.conn.observeSerial(req.Uint32(0))
		c.conn.unregister(seat.ID)
		delete(c.seats, seat.ID)
		if seat.done {
			c.push(SeatRemoved{Seat: seat})
		}
		return nil

	case evSeatName:
		seat.Name = req.Str(0)
		return nil

	case evSeatCapability:
		mask, iface := req.Uint64(0), req.Str(1)
		if !isCapabilityInterface(iface) || c.interfaces[iface] == 0 {
			logger.Debug("eis: ignoring seat capability", "seat", seat.Name, "interface", iface)
			return nil
		}
		seat.masks[Capability(iface)] = mask
		return nil

	case evSeatDone:
		if seat.done {
			return nil
		}
		seat.done = true
		logger.Info("EIS seat added", "seat", seat.Name, "capabilities", seat.Capabilities())
		c.push(SeatAdded{Seat: seat})
		return nil

	case evSeatDevice:
		id, version := req.ObjectID(0), req.Uint32(1)
		version = min(version, c.interfaces[InterfaceDevice])
		if err := c.conn.register(id, InterfaceDevice, version); err != nil {
			return c.unexpected(req, err.Error())
		}
		c.devices[id] = newDevice(id, version, seat)
		return nil
	}
	return c.unexpected(req, "unhandled opcode")
}

func (c *Converter) handleDevice(req *Request) error {
	dev, ok := c.devices[req.Object]
	if !ok {
		return c.unexpected(req, "device not tracked")
	}

	switch req.Opcode {
	case evDeviceDestroyed:
		c.conn.observeSerial(req.Uint32(0))
		for _, id := range dev.interfaces {
			c.conn.unregister(id)
			delete(c.owners, id)
		}
		c.conn.unregister(dev.ID)
		delete(c.devices, dev.ID)
		dev.resumed = false
		if dev.done {
			logger.Info("EIS device removed", "device", dev.Name)
			c.push(DeviceRemoved{Device: dev})
		}
		return nil

	case evDeviceName:
		dev.Name = req.Str(0)
		return nil

	case evDeviceType:
		dev.Type = DeviceType(req.Uint32(0))
		return nil

	case evDeviceDimensions:
		dev.Width, dev.Height = req.Uint32(0), req.Uint32(1)
		dev.HasDimensions = true
		return nil

	case evDeviceRegion:
		dev.Regions = append(dev.Regions, Region{
			X:      req.Uint32(0),
			Y:      req.Uint32(1),
			Width:  req.Uint32(2),
			Height: req.Uint32(3),
			Scale:  req.Float(4),
		})
		return nil

	case evDeviceRegionMappingID:
		if len(dev.Regions) == 0 {
			return c.unexpected(req, "mapping id without region")
		}
		dev.Regions[len(dev.Regions)-1].MappingID = req.Str(0)
		return nil

	case evDeviceInterface:
		id, iface, version := req.ObjectID(0), req.Str(1), req.Uint32(2)
		negotiated := c.interfaces[iface]
		if !isCapabilityInterface(iface) || negotiated == 0 {
			logger.Warn("EIS device announced unsupported interface", "device", dev.Name, "interface", iface)
			return nil
		}
		if err := c.conn.register(id, iface, min(version, negotiated)); err != nil {
			return c.unexpected(req, err.Error())
		}
		dev.interfaces[Capability(iface)] = id
		c.owners[id] = dev
		return nil

	case evDeviceDone:
		if dev.done {
			return nil
		}
		dev.done = true
		logger.Info("EIS device added", "device", dev.String(), "regions", len(dev.Regions))
		c.push(DeviceAdded{Device: dev})
		return nil

	case evDeviceResumed:
		serial := req.Uint32(0)
		c.conn.observeSerial(serial)
		if !dev.done {
			return c.unexpected(req, "resumed before done")
		}
		dev.resumed = true
		dev.serial = serial
		logger.Debug("eis: device resumed", "device", dev.Name, "serial", serial)
		c.push(DeviceResumed{Device: dev, Serial: serial})
		return nil

	case evDevicePaused:
		serial := req.Uint32(0)
		c.conn.observeSerial(serial)
		dev.resumed = false
		dev.serial = serial
		c.push(DevicePaused{Device: dev, Serial: serial})
		return nil

	case evDeviceStartEmulating:
		c.conn.observeSerial(req.Uint32(0))
		c.push(StartEmulating{Device: dev, Serial: req.Uint32(0), Sequence: req.Uint32(1)})
		return nil

	case evDeviceStopEmulating:
		c.conn.observeSerial(req.Uint32(0))
		c.push(StopEmulating{Device: dev, Serial: req.Uint32(0)})
		return nil

	case evDeviceFrame:
		c.conn.observeSerial(req.Uint32(0))
		c.push(Frame{Device: dev, Serial: req.Uint32(0), Timestamp: req.Uint64(1)})
		return nil
	}
	return c.unexpected(req, "unhandled opcode")
}

func (c *Converter) handleCapability(req *Request) error {
	dev, ok := c.owners[req.Object]
	if !ok {
		return c.unexpected(req, "interface has no device")
	}

	if req.Opcode == evDestroyed {
		c.conn.observeSerial(req.Uint32(0))
		c.conn.unregister(req.Object)
		delete(c.owners, req.Object)
		delete(dev.interfaces, Capability(req.Interface))
		return nil
	}

	switch req.Interface {
	case InterfacePointer:
		if req.Opcode == evPointerMotionRelative {
			c.push(PointerMotion{Device: dev, DX: req.Float(0), DY: req.Float(1)})
			return nil
		}
	case InterfacePointerAbsolute:
		if req.Opcode == evPointerMotionAbsolute {
			c.push(PointerMotionAbsolute{Device: dev, X: req.Float(0), Y: req.Float(1)})
			return nil
		}
	case InterfaceButton:
		if req.Opcode == evButton {
			c.push(Button{Device: dev, Button: req.Uint32(0), State: ButtonState(req.Uint32(1))})
			return nil
		}
	case InterfaceScroll:
		switch req.Opcode {
		case evScroll:
			c.push(Scroll{Device: dev, DX: req.Float(0), DY: req.Float(1)})
			return nil
		case evScrollDiscrete:
			c.push(ScrollDiscrete{Device: dev, DX: req.Int32(0), DY: req.Int32(1)})
			return nil
		case evScrollStop:
			c.push(ScrollStop{Device: dev, X: req.Uint32(0) != 0, Y: req.Uint32(1) != 0, Cancel: req.Uint32(2) != 0})
			return nil
		}
	case InterfaceKeyboard:
		switch req.Opcode {
		case evKeyboardKeymap:
			c.push(Keymap{Device: dev, Type: req.Uint32(0), Size: req.Uint32(1), FD: req.FD(2)})
			return nil
		case evKeyboardKey:
			c.push(Key{Device: dev, Key: req.Uint32(0), State: ButtonState(req.Uint32(1))})
			return nil
		case evKeyboardModifiers:
			c.conn.observeSerial(req.Uint32(0))
			c.push(Modifiers{
				Device:    dev,
				Serial:    req.Uint32(0),
				Depressed: req.Uint32(1),
				Locked:    req.Uint32(2),
				Latched:   req.Uint32(3),
				Group:     req.Uint32(4),
			})
			return nil
		}
	case InterfaceTouchscreen:
		switch req.Opcode {
		case evTouchDown:
			c.push(TouchDown{Device: dev, TouchID: req.Uint32(0), X: req.Float(1), Y: req.Float(2)})
			return nil
		case evTouchMotion:
			c.push(TouchMotion{Device: dev, TouchID: req.Uint32(0), X: req.Float(1), Y: req.Float(2)})
			return nil
		case evTouchUp:
			c.push(TouchUp{Device: dev, TouchID: req.Uint32(0)})
			return nil
		}
	}
	return c.unexpected(req, "unhandled opcode")
}
