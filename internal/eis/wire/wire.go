// Package wire encodes and decodes messages of the libei (EIS) wire protocol.
//
// A message is a 16 byte header (object id, total length, opcode) followed by
// the arguments. All integers are in host byte order. Strings carry a u32
// length that includes the NUL terminator and are padded to a multiple of
// four bytes; a zero length denotes a null string. File descriptors travel
// out of band and are matched to "h" arguments in order.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the size of a message header in bytes.
const HeaderSize = 16

// MaxMessageSize bounds a single message, header included.
const MaxMessageSize = 4096

// ByteOrder is the host byte order used on the wire.
var ByteOrder = binary.NativeEndian

// ObjectID identifies a protocol object. Client allocated ids start at 1,
// server allocated ids have the top byte set to 0xff.
type ObjectID uint64

// ServerIDBase is the first id in the server allocated range.
const ServerIDBase ObjectID = 0xff00000000000000

// IsServerID reports whether the id was allocated by the server.
func (id ObjectID) IsServerID() bool {
	return id >= ServerIDBase
}

// Argument type codes used in signatures.
const (
	TypeUint32 = 'u'
	TypeInt32  = 'i'
	TypeUint64 = 't'
	TypeInt64  = 'x'
	TypeFloat  = 'f'
	TypeString = 's'
	TypeNewID  = 'n'
	TypeObject = 'o'
	TypeFD     = 'h'
)

var (
	// ErrShortBuffer means a message body ended before its signature did.
	ErrShortBuffer = errors.New("wire: message body too short")
	// ErrTrailingData means bytes remained after decoding every argument.
	ErrTrailingData = errors.New("wire: trailing bytes after arguments")
	// ErrBadString means a string was not NUL terminated.
	ErrBadString = errors.New("wire: string not NUL terminated")
	// ErrMissingFD means an "h" argument had no matching descriptor.
	ErrMissingFD = errors.New("wire: no file descriptor for argument")
)

// Header is the fixed prefix of every message.
type Header struct {
	Object ObjectID
	Length uint32
	Opcode uint32
}

// ParseHeader reads a header from the start of b. It returns false when b
// holds fewer than HeaderSize bytes.
func ParseHeader(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Object: ObjectID(ByteOrder.Uint64(b[0:8])),
		Length: ByteOrder.Uint32(b[8:12]),
		Opcode: ByteOrder.Uint32(b[12:16]),
	}, true
}

// Validate checks the declared length against the protocol limits.
func (h Header) Validate() error {
	if h.Length < HeaderSize {
		return fmt.Errorf("wire: message length %d smaller than header", h.Length)
	}
	if h.Length > MaxMessageSize {
		return fmt.Errorf("wire: message length %d exceeds %d", h.Length, MaxMessageSize)
	}
	if h.Length%4 != 0 {
		return fmt.Errorf("wire: message length %d not 4-byte aligned", h.Length)
	}
	return nil
}

// Append encodes a message for object with the given opcode and signature
// and appends it to buf. Values must match the signature:
// u=uint32, i=int32, t=uint64, x=int64, f=float32, s=string, n/o=ObjectID.
// Descriptors ("h") are not supported on the sending side.
func Append(buf []byte, object ObjectID, opcode uint32, sig string, args ...any) ([]byte, error) {
	if len(args) != len(sig) {
		return buf, fmt.Errorf("wire: signature %q wants %d args, got %d", sig, len(sig), len(args))
	}

	start := len(buf)
	buf = append(buf, make([]byte, HeaderSize)...)

	var err error
	for i := 0; i < len(sig); i++ {
		buf, err = appendArg(buf, sig[i], args[i])
		if err != nil {
			return buf[:start], fmt.Errorf("wire: arg %d: %w", i, err)
		}
	}

	length := len(buf) - start
	if length > MaxMessageSize {
		return buf[:start], fmt.Errorf("wire: message length %d exceeds %d", length, MaxMessageSize)
	}
	ByteOrder.PutUint64(buf[start:], uint64(object))
	ByteOrder.PutUint32(buf[start+8:], uint32(length))
	ByteOrder.PutUint32(buf[start+12:], opcode)
	return buf, nil
}

func appendArg(buf []byte, t byte, v any) ([]byte, error) {
	switch t {
	case TypeUint32:
		u, ok := v.(uint32)
		if !ok {
			return buf, fmt.Errorf("want uint32, got %T", v)
		}
		return ByteOrder.AppendUint32(buf, u), nil
	case TypeInt32:
		n, ok := v.(int32)
		if !ok {
			return buf, fmt.Errorf("want int32, got %T", v)
		}
		return ByteOrder.AppendUint32(buf, uint32(n)), nil
	case TypeUint64:
		u, ok := v.(uint64)
		if !ok {
			return buf, fmt.Errorf("want uint64, got %T", v)
		}
		return ByteOrder.AppendUint64(buf, u), nil
	case TypeInt64:
		n, ok := v.(int64)
		if !ok {
			return buf, fmt.Errorf("want int64, got %T", v)
		}
		return ByteOrder.AppendUint64(buf, uint64(n)), nil
	case TypeFloat:
		f, ok := v.(float32)
		if !ok {
			return buf, fmt.Errorf("want float32, got %T", v)
		}
		return ByteOrder.AppendUint32(buf, math.Float32bits(f)), nil
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return buf, fmt.Errorf("want string, got %T", v)
		}
		return appendString(buf, s), nil
	case TypeNewID, TypeObject:
		id, ok := v.(ObjectID)
		if !ok {
			return buf, fmt.Errorf("want ObjectID, got %T", v)
		}
		return ByteOrder.AppendUint64(buf, uint64(id)), nil
	default:
		return buf, fmt.Errorf("unsupported type %q", t)
	}
}

// appendString always encodes a non-null string; the protocol never requires
// the client to send a null one.
func appendString(buf []byte, s string) []byte {
	n := len(s) + 1
	buf = ByteOrder.AppendUint32(buf, uint32(n))
	buf = append(buf, s...)
	buf = append(buf, 0)
	for pad := padding(n); pad > 0; pad-- {
		buf = append(buf, 0)
	}
	return buf
}

func padding(n int) int {
	return (4 - n%4) % 4
}

// FDSource hands out received descriptors in arrival order.
type FDSource interface {
	NextFD() (int, bool)
}

// Decode decodes body according to sig. Values use the same Go types as
// Append; "h" arguments decode to int descriptors taken from fds.
func Decode(body []byte, sig string, fds FDSource) ([]any, error) {
	args := make([]any, 0, len(sig))
	off := 0
	for i := 0; i < len(sig); i++ {
		v, n, err := decodeArg(body[off:], sig[i], fds)
		if err != nil {
			return nil, fmt.Errorf("wire: arg %d (%c): %w", i, sig[i], err)
		}
		args = append(args, v)
		off += n
	}
	if off != len(body) {
		return nil, ErrTrailingData
	}
	return args, nil
}

func decodeArg(b []byte, t byte, fds FDSource) (any, int, error) {
	switch t {
	case TypeUint32, TypeInt32, TypeFloat:
		if len(b) < 4 {
			return nil, 0, ErrShortBuffer
		}
		u := ByteOrder.Uint32(b)
		switch t {
		case TypeInt32:
			return int32(u), 4, nil
		case TypeFloat:
			return math.Float32frombits(u), 4, nil
		}
		return u, 4, nil
	case TypeUint64, TypeInt64, TypeNewID, TypeObject:
		if len(b) < 8 {
			return nil, 0, ErrShortBuffer
		}
		u := ByteOrder.Uint64(b)
		switch t {
		case TypeInt64:
			return int64(u), 8, nil
		case TypeNewID, TypeObject:
			return ObjectID(u), 8, nil
		}
		return u, 8, nil
	case TypeString:
		return decodeString(b)
	case TypeFD:
		if fds == nil {
			return nil, 0, ErrMissingFD
		}
		fd, ok := fds.NextFD()
		if !ok {
			return nil, 0, ErrMissingFD
		}
		return fd, 0, nil
	default:
		return nil, 0, fmt.Errorf("unsupported type %q", t)
	}
}

func decodeString(b []byte) (any, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrShortBuffer
	}
	n := int(ByteOrder.Uint32(b))
	if n == 0 {
		return "", 4, nil
	}
	total := 4 + n + padding(n)
	if len(b) < total {
		return nil, 0, ErrShortBuffer
	}
	raw := b[4 : 4+n]
	if raw[n-1] != 0 {
		return nil, 0, ErrBadString
	}
	return string(raw[:n-1]), total, nil
}
