package eis

import (
	"testing"
	"time"

	"github.com/bnema/portal-input/internal/eis/wire"
	"github.com/stretchr/testify/require"
)

// Server side object ids used across the tests.
const (
	testConnectionID wire.ObjectID = wire.ServerIDBase + 1
	testSeatID       wire.ObjectID = wire.ServerIDBase + 2
	testDeviceID     wire.ObjectID = wire.ServerIDBase + 3
	testPointerID    wire.ObjectID = wire.ServerIDBase + 4
	testAbsoluteID   wire.ObjectID = wire.ServerIDBase + 5
	testButtonID     wire.ObjectID = wire.ServerIDBase + 6
	testKeyboardID   wire.ObjectID = wire.ServerIDBase + 7
	testPingID       wire.ObjectID = wire.ServerIDBase + 8
)

// Ids for a compositor that splits relative pointer, keyboard and
// absolute pointer into separate devices.
const (
	testRelDeviceID   wire.ObjectID = wire.ServerIDBase + 9
	testRelPointerID  wire.ObjectID = wire.ServerIDBase + 10
	testRelButtonID   wire.ObjectID = wire.ServerIDBase + 11
	testKbdDeviceID   wire.ObjectID = wire.ServerIDBase + 12
	testKbdKeyboardID wire.ObjectID = wire.ServerIDBase + 13
	testAbsDeviceID   wire.ObjectID = wire.ServerIDBase + 14
	testAbsPointerID  wire.ObjectID = wire.ServerIDBase + 15
	testAbsButtonID   wire.ObjectID = wire.ServerIDBase + 16
)

// Seat capability masks as a compositor would announce them.
const (
	maskPointer  uint64 = 1 << 0
	maskAbsolute uint64 = 1 << 1
	maskButton   uint64 = 1 << 2
	maskKeyboard uint64 = 1 << 3
	maskScroll   uint64 = 1 << 4
)

type chunk struct {
	data []byte
	fds  []int
}

// memTransport is an in-memory Transport. Reads return queued chunks and
// then ErrWouldBlock; writes are collected.
type memTransport struct {
	in      []chunk
	out     []byte
	readErr error

	// blockWrites makes the next n writes return ErrWouldBlock.
	blockWrites int
	// maxWrite limits the bytes taken per write when positive.
	maxWrite int
	writes   int
	closed   bool
}

func (m *memTransport) Read(p []byte) (int, []int, error) {
	if len(m.in) == 0 {
		if m.readErr != nil {
			return 0, nil, m.readErr
		}
		return 0, nil, ErrWouldBlock
	}
	c := m.in[0]
	n := copy(p, c.data)
	if n < len(c.data) {
		m.in[0].data = c.data[n:]
		m.in[0].fds = nil
	} else {
		m.in = m.in[1:]
	}
	return n, c.fds, nil
}

func (m *memTransport) Write(p []byte) (int, error) {
	m.writes++
	if m.blockWrites > 0 {
		m.blockWrites--
		return 0, ErrWouldBlock
	}
	n := len(p)
	if m.maxWrite > 0 && n > m.maxWrite {
		n = m.maxWrite
	}
	m.out = append(m.out, p[:n]...)
	return n, nil
}

func (m *memTransport) Close() error {
	m.closed = true
	return nil
}

func (m *memTransport) push(b []byte, fds ...int) {
	m.in = append(m.in, chunk{data: b, fds: fds})
}

// sentMessage is one request the client wrote.
type sentMessage struct {
	Object wire.ObjectID
	Opcode uint32
	Body   []byte
}

// args decodes the body with sig.
func (s sentMessage) args(t *testing.T, sig string) []any {
	t.Helper()
	args, err := wire.Decode(s.Body, sig, nil)
	require.NoError(t, err)
	return args
}

// drain splits everything the client wrote into messages and resets the
// output buffer.
func (m *memTransport) drain(t *testing.T) []sentMessage {
	t.Helper()
	var msgs []sentMessage
	buf := m.out
	for len(buf) > 0 {
		h, ok := wire.ParseHeader(buf)
		require.True(t, ok, "truncated header in client output")
		require.NoError(t, h.Validate())
		require.GreaterOrEqual(t, len(buf), int(h.Length))
		msgs = append(msgs, sentMessage{
			Object: h.Object,
			Opcode: h.Opcode,
			Body:   append([]byte(nil), buf[wire.HeaderSize:h.Length]...),
		})
		buf = buf[h.Length:]
	}
	m.out = nil
	return msgs
}

// server builds server to client messages.
type server struct {
	t   *testing.T
	buf []byte
}

func newServer(t *testing.T) *server {
	return &server{t: t}
}

func (s *server) send(object wire.ObjectID, opcode uint32, sig string, args ...any) *server {
	s.t.Helper()
	buf, err := wire.Append(s.buf, object, opcode, sig, args...)
	require.NoError(s.t, err)
	s.buf = buf
	return s
}

// bytes returns and clears everything built so far.
func (s *server) bytes() []byte {
	b := s.buf
	s.buf = nil
	return b
}

func (s *server) handshakeVersion(v uint32) *server {
	return s.send(handshakeID, evHandshakeVersion, "u", v)
}

func (s *server) interfaceVersion(name string, v uint32) *server {
	return s.send(handshakeID, evHandshakeInterfaceVersion, "su", name, v)
}

func (s *server) connection(serial uint32) *server {
	return s.send(handshakeID, evHandshakeConnection, "unu", serial, testConnectionID, uint32(1))
}

// handshake is a complete, well formed negotiation.
func (s *server) handshake() *server {
	s.handshakeVersion(1)
	for _, iv := range clientInterfaces {
		s.interfaceVersion(iv.Name, iv.Version)
	}
	return s.connection(0)
}

// seat announces a seat with pointer, absolute pointer, button and
// keyboard capabilities.
func (s *server) seat() *server {
	return s.send(testConnectionID, evConnectionSeat, "nu", testSeatID, uint32(1)).
		send(testSeatID, evSeatName, "s", "seat0").
		send(testSeatID, evSeatCapability, "ts", maskPointer, InterfacePointer).
		send(testSeatID, evSeatCapability, "ts", maskAbsolute, InterfacePointerAbsolute).
		send(testSeatID, evSeatCapability, "ts", maskButton, InterfaceButton).
		send(testSeatID, evSeatCapability, "ts", maskKeyboard, InterfaceKeyboard).
		send(testSeatID, evSeatDone, "")
}

// device announces a virtual pointer with one 1920x1080 region, without
// resuming it.
func (s *server) device() *server {
	return s.send(testSeatID, evSeatDevice, "nu", testDeviceID, uint32(2)).
		send(testDeviceID, evDeviceName, "s", "virtual pointer").
		send(testDeviceID, evDeviceType, "u", uint32(DeviceTypeVirtual)).
		send(testDeviceID, evDeviceRegion, "uuuuf", uint32(0), uint32(0), uint32(1920), uint32(1080), float32(1)).
		send(testDeviceID, evDeviceInterface, "nsu", testPointerID, InterfacePointer, uint32(1)).
		send(testDeviceID, evDeviceInterface, "nsu", testAbsoluteID, InterfacePointerAbsolute, uint32(1)).
		send(testDeviceID, evDeviceInterface, "nsu", testButtonID, InterfaceButton, uint32(1)).
		send(testDeviceID, evDeviceDone, "")
}

func (s *server) resumed(serial uint32) *server {
	return s.send(testDeviceID, evDeviceResumed, "u", serial)
}

// splitDevices announces and resumes three devices the way mutter does:
// "rel" with pointer and button, "kbd" with keyboard and "abs" with
// absolute pointer, button and one region.
func (s *server) splitDevices() *server {
	s.send(testSeatID, evSeatDevice, "nu", testRelDeviceID, uint32(2)).
		send(testRelDeviceID, evDeviceName, "s", "rel").
		send(testRelDeviceID, evDeviceType, "u", uint32(DeviceTypeVirtual)).
		send(testRelDeviceID, evDeviceInterface, "nsu", testRelPointerID, InterfacePointer, uint32(1)).
		send(testRelDeviceID, evDeviceInterface, "nsu", testRelButtonID, InterfaceButton, uint32(1)).
		send(testRelDeviceID, evDeviceDone, "")
	s.send(testSeatID, evSeatDevice, "nu", testKbdDeviceID, uint32(2)).
		send(testKbdDeviceID, evDeviceName, "s", "kbd").
		send(testKbdDeviceID, evDeviceType, "u", uint32(DeviceTypeVirtual)).
		send(testKbdDeviceID, evDeviceInterface, "nsu", testKbdKeyboardID, InterfaceKeyboard, uint32(1)).
		send(testKbdDeviceID, evDeviceDone, "")
	s.send(testSeatID, evSeatDevice, "nu", testAbsDeviceID, uint32(2)).
		send(testAbsDeviceID, evDeviceName, "s", "abs").
		send(testAbsDeviceID, evDeviceType, "u", uint32(DeviceTypeVirtual)).
		send(testAbsDeviceID, evDeviceRegion, "uuuuf", uint32(0), uint32(0), uint32(1920), uint32(1080), float32(1)).
		send(testAbsDeviceID, evDeviceInterface, "nsu", testAbsPointerID, InterfacePointerAbsolute, uint32(1)).
		send(testAbsDeviceID, evDeviceInterface, "nsu", testAbsButtonID, InterfaceButton, uint32(1)).
		send(testAbsDeviceID, evDeviceDone, "")
	return s.send(testRelDeviceID, evDeviceResumed, "u", uint32(1)).
		send(testKbdDeviceID, evDeviceResumed, "u", uint32(2)).
		send(testAbsDeviceID, evDeviceResumed, "u", uint32(3))
}

// keymap sends a keymap for the split keyboard. The descriptor travels
// out of band, so the body only holds type and size.
func (s *server) keymap(size uint32) *server {
	return s.send(testKbdKeyboardID, evKeyboardKeymap, "uu", uint32(1), size)
}

// fakeClock advances only when slept on.
type fakeClock struct {
	start  time.Time
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeClock{start: t0, now: t0}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps++
	c.now = c.now.Add(d)
}

func (c *fakeClock) Micros() uint64 { return uint64(c.now.Sub(c.start).Microseconds()) }

// connected returns a connection past the handshake with a converter.
func connected(t *testing.T) (*memTransport, *Connection, *Converter) {
	t.Helper()
	tr := &memTransport{}
	conn := NewConnection(tr)
	hs := NewHandshake(conn, "test", ContextSender)

	conn.Feed(newServer(t).handshake().bytes())
	var resp *HandshakeResponse
	for {
		p, ok := conn.PendingEvent()
		if !ok {
			break
		}
		req, isReq := p.(*Request)
		require.True(t, isReq, "unexpected %T during handshake", p)
		r, err := hs.Handle(req)
		require.NoError(t, err)
		if r != nil {
			resp = r
		}
	}
	require.NotNil(t, resp)
	require.NoError(t, conn.Flush())
	tr.drain(t)
	return tr, conn, NewConverter(conn, resp)
}

// feed routes server bytes through the converter.
func feed(t *testing.T, conn *Connection, conv *Converter, b []byte) {
	t.Helper()
	conn.Feed(b)
	for {
		p, ok := conn.PendingEvent()
		if !ok {
			return
		}
		req, isReq := p.(*Request)
		require.True(t, isReq, "unexpected %T", p)
		require.NoError(t, conv.HandleEvent(req))
	}
}

// events drains the converter queue.
func events(conv *Converter) []Event {
	var out []Event
	for {
		ev, ok := conv.NextEvent()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}
