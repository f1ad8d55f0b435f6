package eis

import (
	"fmt"
	"slices"

	"github.com/bnema/portal-input/internal/eis/wire"
	"github.com/bnema/portal-input/internal/logger"
)

// handshakeVersion is the highest ei_handshake version this client speaks.
const handshakeVersion uint32 = 1

// HandshakeState is the negotiation progress.
type HandshakeState int

const (
	AwaitingVersion HandshakeState = iota
	NegotiatingInterfaces
	Complete
	Failed
)

func (s HandshakeState) String() string {
	switch s {
	case AwaitingVersion:
		return "awaiting-version"
	case NegotiatingInterfaces:
		return "negotiating-interfaces"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("HandshakeState(%d)", int(s))
}

// HandshakeResponse is the outcome of a finished negotiation.
type HandshakeResponse struct {
	// Serial is the initial server serial from ei_handshake.connection.
	Serial uint32
	// Connection is the server allocated ei_connection object.
	Connection wire.ObjectID
	// Interfaces maps every negotiated interface to its agreed version.
	Interfaces map[string]uint32
}

// Supports reports whether iface was negotiated.
func (r *HandshakeResponse) Supports(iface string) bool {
	v, ok := r.Interfaces[iface]
	return ok && v > 0
}

// Handshake drives ei_handshake until the server hands out the connection
// object. It does not track time; the caller bounds the negotiation.
type Handshake struct {
	conn        *Connection
	name        string
	contextType ContextType
	state       HandshakeState

	// offered is what we announced, interfaces what the server confirmed.
	offered    map[string]uint32
	interfaces map[string]uint32
}

// NewHandshake prepares a negotiation for a client called name.
func NewHandshake(conn *Connection, name string, contextType ContextType) *Handshake {
	ifaces := make(map[string]uint32, len(clientInterfaces))
	for _, iv := range clientInterfaces {
		ifaces[iv.Name] = iv.Version
	}
	return &Handshake{
		conn:        conn,
		name:        name,
		contextType: contextType,
		state:       AwaitingVersion,
		offered:     ifaces,
		interfaces:  make(map[string]uint32, len(ifaces)),
	}
}

// State returns the current negotiation state.
func (h *Handshake) State() HandshakeState {
	return h.state
}

// Handle consumes one decoded request. It returns (nil, nil) while more
// negotiation is needed, the response once the connection object arrives,
// or a *HandshakeError that ends the session.
func (h *Handshake) Handle(req *Request) (*HandshakeResponse, error) {
	if h.state == Complete || h.state == Failed {
		return nil, h.fail("negotiation already finished")
	}
	if req.Interface != InterfaceHandshake {
		logger.Debug("eis: ignoring message during handshake", "interface", req.Interface, "event", req.Name)
		return nil, nil
	}

	switch req.Opcode {
	case evHandshakeVersion:
		return nil, h.handleVersion(req.Uint32(0))
	case evHandshakeInterfaceVersion:
		return nil, h.handleInterfaceVersion(req.Str(0), req.Uint32(1))
	case evHandshakeConnection:
		return h.handleConnection(req.Uint32(0), req.ObjectID(1), req.Uint32(2))
	}
	return nil, nil
}

func (h *Handshake) handleVersion(server uint32) error {
	if h.state != AwaitingVersion {
		return h.fail("duplicate handshake_version")
	}
	if server == 0 {
		return h.fail("server offered handshake version 0")
	}
	version := min(server, handshakeVersion)

	if err := h.send(opHandshakeVersion, "u", version); err != nil {
		return err
	}
	if err := h.send(opHandshakeContextType, "u", uint32(h.contextType)); err != nil {
		return err
	}
	if err := h.send(opHandshakeName, "s", h.name); err != nil {
		return err
	}
	for _, iv := range clientInterfaces {
		if err := h.send(opHandshakeInterfaceVersion, "su", iv.Name, iv.Version); err != nil {
			return err
		}
	}
	if err := h.send(opHandshakeFinish, ""); err != nil {
		return err
	}

	logger.Debug("eis: handshake version agreed", "version", version, "context", h.contextType)
	h.state = NegotiatingInterfaces
	return nil
}

func (h *Handshake) handleInterfaceVersion(name string, version uint32) error {
	if h.state != NegotiatingInterfaces {
		return h.fail("interface_version before handshake_version")
	}
	ours, known := h.offered[name]
	if !known {
		logger.Debug("eis: server announced unknown interface", "interface", name, "version", version)
		return nil
	}
	if version == 0 && slices.Contains(requiredInterfaces, name) {
		return h.fail(fmt.Sprintf("server rejected required interface %s", name))
	}
	h.interfaces[name] = min(ours, version)
	return nil
}

func (h *Handshake) handleConnection(serial uint32, id wire.ObjectID, version uint32) (*HandshakeResponse, error) {
	if h.state != NegotiatingInterfaces {
		return nil, h.fail("connection before handshake_version")
	}
	if version == 0 {
		return nil, h.fail("server offered ei_connection version 0")
	}
	for _, name := range requiredInterfaces {
		if name != InterfaceConnection && h.interfaces[name] == 0 {
			return nil, h.fail(fmt.Sprintf("%s role rejected: %s not negotiated", h.contextType, name))
		}
	}

	version = min(version, h.offered[InterfaceConnection])
	if err := h.conn.register(id, InterfaceConnection, version); err != nil {
		return nil, h.fail(err.Error())
	}
	h.interfaces[InterfaceConnection] = version
	// The handshake object is gone once the connection exists.
	h.conn.unregister(handshakeID)
	h.conn.observeSerial(serial)

	negotiated := make(map[string]uint32, len(h.interfaces))
	for name, v := range h.interfaces {
		if v > 0 {
			negotiated[name] = v
		}
	}

	h.state = Complete
	logger.Info("EIS handshake complete", "serial", serial, "interfaces", len(negotiated))
	return &HandshakeResponse{
		Serial:     serial,
		Connection: id,
		Interfaces: negotiated,
	}, nil
}

func (h *Handshake) send(opcode uint32, sig string, args ...any) error {
	if err := h.conn.Send(handshakeID, opcode, sig, args...); err != nil {
		return h.fail(err.Error())
	}
	return nil
}

func (h *Handshake) fail(reason string) error {
	err := &HandshakeError{State: h.state, Reason: reason}
	h.state = Failed
	return err
}
