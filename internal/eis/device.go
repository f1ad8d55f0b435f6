package eis

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bnema/portal-input/internal/eis/wire"
)

// Region is a rectangle of a device's logical coordinate space. Absolute
// coordinates sent to the device are logical pixels; Scale converts them
// to the physical pixels of the output behind the region.
type Region struct {
	X, Y          uint32
	Width, Height uint32
	Scale         float32
	// MappingID ties the region to a portal stream when the server
	// supports it.
	MappingID string
}

// Contains reports whether the logical point lies inside the region.
func (r Region) Contains(x, y float64) bool {
	return x >= float64(r.X) && x < float64(r.X)+float64(r.Width) &&
		y >= float64(r.Y) && y < float64(r.Y)+float64(r.Height)
}

// Physical converts a logical point in the region to physical pixels
// relative to the region origin.
func (r Region) Physical(x, y float64) (float64, float64) {
	scale := float64(r.Scale)
	if scale <= 0 {
		scale = 1
	}
	return (x - float64(r.X)) * scale, (y - float64(r.Y)) * scale
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d@%.2f", r.Width, r.Height, r.X, r.Y, r.Scale)
}

// Seat is a compositor-side grouping of capabilities. Devices appear under
// a seat only after the client binds some of its capabilities.
type Seat struct {
	ID      wire.ObjectID
	Name    string
	Version uint32

	masks map[Capability]uint64
	bound uint64
	done  bool
}

func newSeat(id wire.ObjectID, version uint32) *Seat {
	return &Seat{ID: id, Version: version, masks: make(map[Capability]uint64)}
}

// Capabilities lists the capabilities the seat offers, sorted by name.
func (s *Seat) Capabilities() []Capability {
	caps := make([]Capability, 0, len(s.masks))
	for c := range s.masks {
		caps = append(caps, c)
	}
	slices.Sort(caps)
	return caps
}

// Has reports whether the seat offers c.
func (s *Seat) Has(c Capability) bool {
	_, ok := s.masks[c]
	return ok
}

// Bound reports whether a bind request covering c has been sent.
func (s *Seat) Bound(c Capability) bool {
	mask, ok := s.masks[c]
	return ok && s.bound&mask != 0
}

func (s *Seat) mask(caps []Capability) (uint64, error) {
	var mask uint64
	for _, c := range caps {
		m, ok := s.masks[c]
		if !ok {
			return 0, fmt.Errorf("%w: seat %q does not offer %s", ErrCapabilityMissing, s.Name, c)
		}
		mask |= m
	}
	return mask, nil
}

// Device is an input device announced by the server under a seat.
type Device struct {
	ID      wire.ObjectID
	Name    string
	Type    DeviceType
	Version uint32
	Seat    *Seat

	// Width and Height are set when the server sent dimensions, which it
	// does for physical devices only.
	Width, Height uint32
	HasDimensions bool

	Regions []Region

	interfaces map[Capability]wire.ObjectID
	done       bool
	resumed    bool
	serial     uint32
}

func newDevice(id wire.ObjectID, version uint32, seat *Seat) *Device {
	return &Device{
		ID:         id,
		Version:    version,
		Seat:       seat,
		interfaces: make(map[Capability]wire.ObjectID),
	}
}

// Has reports whether the device exposes c.
func (d *Device) Has(c Capability) bool {
	_, ok := d.interfaces[c]
	return ok
}

// drives reports whether every cap is exposed and bound on the seat.
func (d *Device) drives(caps []Capability) bool {
	for _, c := range caps {
		if !d.Has(c) || d.Seat == nil || !d.Seat.Bound(c) {
			return false
		}
	}
	return true
}

// Capabilities lists the device capabilities, sorted by name.
func (d *Device) Capabilities() []Capability {
	caps := make([]Capability, 0, len(d.interfaces))
	for c := range d.interfaces {
		caps = append(caps, c)
	}
	slices.Sort(caps)
	return caps
}

// Interface returns the object id of the capability interface c.
func (d *Device) Interface(c Capability) (wire.ObjectID, bool) {
	id, ok := d.interfaces[c]
	return id, ok
}

// Resumed returns the serial of the last resumed event and whether the
// device is currently resumed.
func (d *Device) Resumed() (uint32, bool) {
	return d.serial, d.resumed
}

// RegionAt returns the first region containing the logical point.
// Absolute motion outside every region is the caller's responsibility;
// the emitter does not check.
func (d *Device) RegionAt(x, y float64) (Region, bool) {
	for _, r := range d.Regions {
		if r.Contains(x, y) {
			return r, true
		}
	}
	return Region{}, false
}

func (d *Device) String() string {
	caps := make([]string, 0, len(d.interfaces))
	for _, c := range d.Capabilities() {
		caps = append(caps, strings.TrimPrefix(string(c), "ei_"))
	}
	return fmt.Sprintf("%q (%s, %s)", d.Name, d.Type, strings.Join(caps, ","))
}
