package eis

import (
	"errors"
	"fmt"

	"github.com/bnema/portal-input/internal/eis/wire"
)

var (
	// ErrWouldBlock is returned by non-blocking reads and writes that have
	// nothing to do right now. It is never fatal.
	ErrWouldBlock = errors.New("eis: operation would block")

	// ErrHandshake is wrapped by every HandshakeError.
	ErrHandshake = errors.New("eis: handshake failed")

	// ErrHandshakeTimeout means the server did not finish negotiation in time.
	ErrHandshakeTimeout = errors.New("eis: handshake timed out")

	// ErrDiscoveryTimeout means no qualifying device was resumed in time.
	ErrDiscoveryTimeout = errors.New("eis: no usable device found before timeout")

	// ErrOrderingViolation is wrapped by every OrderingError.
	ErrOrderingViolation = errors.New("eis: emission ordering violation")

	// ErrTooManyProtocolErrors means parse errors or invalid object
	// references piled up past the configured threshold.
	ErrTooManyProtocolErrors = errors.New("eis: too many protocol errors")

	// ErrDisconnected means the server closed the connection.
	ErrDisconnected = errors.New("eis: disconnected by server")

	// ErrCapabilityMissing means a device or seat lacks the interface needed
	// for a request.
	ErrCapabilityMissing = errors.New("eis: capability not available")
)

// TransportError is a fatal I/O failure on the EIS stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("eis: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HandshakeError reports a malformed negotiation, an unsupported version or
// a rejected role.
type HandshakeError struct {
	State  HandshakeState
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("eis: handshake failed in state %s: %s", e.State, e.Reason)
}

func (e *HandshakeError) Unwrap() error { return ErrHandshake }

// OrderingError is a broken emission contract. It indicates a bug in the
// caller, not a runtime condition to recover from.
type OrderingError struct {
	Device wire.ObjectID
	Op     string
	Reason string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("eis: device %#x: %s: %s", uint64(e.Device), e.Op, e.Reason)
}

func (e *OrderingError) Unwrap() error { return ErrOrderingViolation }

// ConverterError reports a post-handshake message the registry could not
// apply, such as an event for an object of the wrong kind.
type ConverterError struct {
	Object wire.ObjectID
	Event  string
	Reason string
}

func (e *ConverterError) Error() string {
	return fmt.Sprintf("eis: object %#x %s: %s", uint64(e.Object), e.Event, e.Reason)
}
