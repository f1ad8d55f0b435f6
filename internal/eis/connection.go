package eis

import (
	"errors"
	"fmt"
	"time"

	"github.com/bnema/portal-input/internal/eis/wire"
	"github.com/bnema/portal-input/internal/logger"
	"golang.org/x/sys/unix"
)

const readChunk = 4096

// handshakeID is the fixed id of the ei_handshake object.
const handshakeID wire.ObjectID = 0

// Message is a decoded protocol message addressed to a known object.
type Message struct {
	Object    wire.ObjectID
	Interface string
	Version   uint32
	Opcode    uint32
	Name      string
	Args      []any
}

// Argument accessors. Decoding guarantees the types match the signature,
// so these only panic on a programming error in the protocol table.

func (m *Message) Uint32(i int) uint32          { return m.Args[i].(uint32) }
func (m *Message) Int32(i int) int32            { return m.Args[i].(int32) }
func (m *Message) Uint64(i int) uint64          { return m.Args[i].(uint64) }
func (m *Message) Float(i int) float32          { return m.Args[i].(float32) }
func (m *Message) Str(i int) string             { return m.Args[i].(string) }
func (m *Message) ObjectID(i int) wire.ObjectID { return m.Args[i].(wire.ObjectID) }
func (m *Message) FD(i int) int                 { return m.Args[i].(int) }

// PendingEvent is a decoded but not yet routed message. It is one of
// *Request, *ParseError or *InvalidObject.
type PendingEvent interface {
	pendingEvent()
}

// Request carries a successfully decoded message.
type Request struct {
	Message
}

// ParseError reports a message that could not be decoded. Fatal parse
// errors mean the stream framing is lost and the session must end.
type ParseError struct {
	Object wire.ObjectID
	Opcode uint32
	Err    error
	Fatal  bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("eis: parse error on object %#x opcode %d: %v", uint64(e.Object), e.Opcode, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InvalidObject reports a message addressed to an unknown object id.
// Interface is set when the id belonged to an object this connection
// already released; the descriptors such a message carried are closed.
// A message for an id that was never registered has no known signature,
// so any descriptor it carried stays queued and shifts onto later
// messages.
type InvalidObject struct {
	ID        wire.ObjectID
	Opcode    uint32
	Interface string
	Discarded int
}

func (*Request) pendingEvent()       {}
func (*ParseError) pendingEvent()    {}
func (*InvalidObject) pendingEvent() {}

type objectInfo struct {
	iface   string
	version uint32
}

// Connection owns the transport and all buffering on it. It is the only
// component that touches the raw stream. A Connection is not safe for
// concurrent use.
type Connection struct {
	transport Transport

	rbuf []byte
	wbuf []byte
	fds  []int

	objects  map[wire.ObjectID]objectInfo
	released map[wire.ObjectID]string
	nextID   wire.ObjectID

	lastSerial uint32
	broken     bool

	flushRetries int
	retryDelay   time.Duration
	sleep        func(time.Duration)
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithFlushRetries bounds how many times Flush retries a blocked write
// and how long it waits between attempts.
func WithFlushRetries(retries int, delay time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.flushRetries = retries
		c.retryDelay = delay
	}
}

// WithSleep replaces time.Sleep, for tests.
func WithSleep(sleep func(time.Duration)) ConnectionOption {
	return func(c *Connection) {
		c.sleep = sleep
	}
}

// NewConnection creates a connection over t with the handshake object
// registered.
func NewConnection(t Transport, opts ...ConnectionOption) *Connection {
	c := &Connection{
		transport:    t,
		objects:      map[wire.ObjectID]objectInfo{handshakeID: {iface: InterfaceHandshake, version: 1}},
		released:     make(map[wire.ObjectID]string),
		nextID:       1,
		flushRetries: 50,
		retryDelay:   2 * time.Millisecond,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read performs one non-blocking read and appends the bytes to the read
// buffer. It returns ErrWouldBlock when nothing is available and a
// *TransportError for anything fatal, including end of stream.
func (c *Connection) Read() (int, error) {
	var buf [readChunk]byte
	n, fds, err := c.transport.Read(buf[:])
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return 0, ErrWouldBlock
		}
		return 0, &TransportError{Op: "read", Err: err}
	}
	c.Feed(buf[:n], fds...)
	return n, nil
}

// Feed appends raw bytes and descriptors to the read buffer as if they had
// been read from the transport.
func (c *Connection) Feed(b []byte, fds ...int) {
	c.rbuf = append(c.rbuf, b...)
	c.fds = append(c.fds, fds...)
}

// NextFD implements wire.FDSource over the received descriptors.
func (c *Connection) NextFD() (int, bool) {
	if len(c.fds) == 0 {
		return -1, false
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

// PendingEvent decodes and removes one complete message from the read
// buffer. It returns false when no complete message is buffered.
func (c *Connection) PendingEvent() (PendingEvent, bool) {
	if c.broken {
		return nil, false
	}

	h, ok := wire.ParseHeader(c.rbuf)
	if !ok {
		return nil, false
	}
	if err := h.Validate(); err != nil {
		c.broken = true
		c.rbuf = nil
		return &ParseError{Object: h.Object, Opcode: h.Opcode, Err: err, Fatal: true}, true
	}
	if uint32(len(c.rbuf)) < h.Length {
		return nil, false
	}

	body := c.rbuf[wire.HeaderSize:h.Length]
	defer c.consume(int(h.Length))

	info, ok := c.objects[h.Object]
	if !ok {
		inv := &InvalidObject{ID: h.Object, Opcode: h.Opcode, Interface: c.released[h.Object]}
		if spec, ok := lookupEvent(inv.Interface, h.Opcode); ok {
			inv.Discarded = c.discardFDs(spec.sig)
		}
		return inv, true
	}

	spec, ok := lookupEvent(info.iface, h.Opcode)
	if !ok {
		return &ParseError{
			Object: h.Object,
			Opcode: h.Opcode,
			Err:    fmt.Errorf("unknown event opcode for %s", info.iface),
		}, true
	}

	args, err := wire.Decode(body, spec.sig, c)
	if err != nil {
		return &ParseError{Object: h.Object, Opcode: h.Opcode, Err: err}, true
	}

	return &Request{Message: Message{
		Object:    h.Object,
		Interface: info.iface,
		Version:   info.version,
		Opcode:    h.Opcode,
		Name:      spec.name,
		Args:      args,
	}}, true
}

// discardFDs closes one queued descriptor per fd argument in sig.
func (c *Connection) discardFDs(sig string) int {
	n := 0
	for _, ch := range sig {
		if ch != 'h' {
			continue
		}
		fd, ok := c.NextFD()
		if !ok {
			break
		}
		_ = unix.Close(fd)
		n++
	}
	return n
}

func (c *Connection) consume(n int) {
	rest := copy(c.rbuf, c.rbuf[n:])
	c.rbuf = c.rbuf[:rest]
}

// Send encodes a request into the write buffer. Nothing reaches the
// server until Flush.
func (c *Connection) Send(object wire.ObjectID, opcode uint32, sig string, args ...any) error {
	buf, err := wire.Append(c.wbuf, object, opcode, sig, args...)
	if err != nil {
		return err
	}
	c.wbuf = buf
	logger.Debug("eis: queued request", "object", fmt.Sprintf("%#x", uint64(object)), "opcode", opcode)
	return nil
}

// Buffered returns the number of bytes waiting to be flushed.
func (c *Connection) Buffered() int {
	return len(c.wbuf)
}

// Flush writes all queued bytes. Partial writes are continued and blocked
// writes retried; bytes are never dropped. When the retry budget runs out
// the remaining bytes stay queued and ErrWouldBlock is returned.
func (c *Connection) Flush() error {
	retries := 0
	for len(c.wbuf) > 0 {
		n, err := c.transport.Write(c.wbuf)
		if n > 0 {
			rest := copy(c.wbuf, c.wbuf[n:])
			c.wbuf = c.wbuf[:rest]
		}
		if err == nil && n > 0 {
			continue
		}
		if err != nil && !errors.Is(err, ErrWouldBlock) {
			return &TransportError{Op: "write", Err: err}
		}
		if retries >= c.flushRetries {
			return ErrWouldBlock
		}
		retries++
		c.sleep(c.retryDelay)
	}
	return nil
}

// NewID allocates a client side object id.
func (c *Connection) NewID() wire.ObjectID {
	id := c.nextID
	c.nextID++
	return id
}

// register records a new object. Ids are never reused within a connection.
func (c *Connection) register(id wire.ObjectID, iface string, version uint32) error {
	if _, exists := c.objects[id]; exists {
		return fmt.Errorf("eis: object id %#x already in use", uint64(id))
	}
	c.objects[id] = objectInfo{iface: iface, version: version}
	return nil
}

// unregister forgets id. The interface is remembered so late events for
// the object can still be skipped cleanly.
func (c *Connection) unregister(id wire.ObjectID) {
	if info, ok := c.objects[id]; ok {
		c.released[id] = info.iface
	}
	delete(c.objects, id)
}

// Interface returns the interface name registered for id.
func (c *Connection) Interface(id wire.ObjectID) (string, bool) {
	info, ok := c.objects[id]
	return info.iface, ok
}

// LastSerial is the most recent serial seen from the server.
func (c *Connection) LastSerial() uint32 {
	return c.lastSerial
}

func (c *Connection) observeSerial(serial uint32) {
	c.lastSerial = serial
}

// Close closes the transport and any received descriptors nobody claimed.
func (c *Connection) Close() error {
	for _, fd := range c.fds {
		_ = unix.Close(fd)
	}
	c.fds = nil
	return c.transport.Close()
}
