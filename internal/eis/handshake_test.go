package eis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runHandshake feeds b and hands every request to hs. It returns the
// responses and the first error.
func runHandshake(t *testing.T, conn *Connection, hs *Handshake, b []byte) ([]*HandshakeResponse, error) {
	t.Helper()
	conn.Feed(b)
	var out []*HandshakeResponse
	for {
		p, ok := conn.PendingEvent()
		if !ok {
			return out, nil
		}
		req, isReq := p.(*Request)
		require.True(t, isReq, "unexpected %T", p)
		resp, err := hs.Handle(req)
		if err != nil {
			return out, err
		}
		if resp != nil {
			out = append(out, resp)
		}
	}
}

func TestHandshakeWellFormed(t *testing.T) {
	tr := &memTransport{}
	conn := NewConnection(tr)
	hs := NewHandshake(conn, "portal-input", ContextSender)
	srv := newServer(t)

	_, err := runHandshake(t, conn, hs, srv.handshakeVersion(1).bytes())
	require.NoError(t, err)
	assert.Equal(t, NegotiatingInterfaces, hs.State())

	// The client answers handshake_version with its whole setup at once.
	require.NoError(t, conn.Flush())
	msgs := tr.drain(t)
	require.Len(t, msgs, 4+len(clientInterfaces))
	for _, m := range msgs {
		assert.Equal(t, handshakeID, m.Object)
	}
	assert.Equal(t, uint32(opHandshakeVersion), msgs[0].Opcode)
	assert.Equal(t, uint32(1), msgs[0].args(t, "u")[0])
	assert.Equal(t, uint32(opHandshakeContextType), msgs[1].Opcode)
	assert.Equal(t, uint32(ContextSender), msgs[1].args(t, "u")[0])
	assert.Equal(t, uint32(opHandshakeName), msgs[2].Opcode)
	assert.Equal(t, "portal-input", msgs[2].args(t, "s")[0])
	for i, iv := range clientInterfaces {
		m := msgs[3+i]
		assert.Equal(t, uint32(opHandshakeInterfaceVersion), m.Opcode)
		args := m.args(t, "su")
		assert.Equal(t, iv.Name, args[0])
		assert.Equal(t, iv.Version, args[1])
	}
	assert.Equal(t, uint32(opHandshakeFinish), msgs[len(msgs)-1].Opcode)

	for _, iv := range clientInterfaces {
		srv.interfaceVersion(iv.Name, iv.Version)
	}
	srv.interfaceVersion(InterfaceDevice, 1)
	resps, err := runHandshake(t, conn, hs, srv.connection(7).bytes())
	require.NoError(t, err)
	require.Len(t, resps, 1)

	resp := resps[0]
	assert.Equal(t, Complete, hs.State())
	assert.Equal(t, uint32(7), resp.Serial)
	assert.Equal(t, testConnectionID, resp.Connection)
	assert.Equal(t, uint32(1), resp.Interfaces[InterfaceDevice], "server version lowers ours")
	assert.True(t, resp.Supports(InterfacePointerAbsolute))
	assert.Equal(t, uint32(7), conn.LastSerial())

	_, ok := conn.Interface(handshakeID)
	assert.False(t, ok, "handshake object is released")
	iface, ok := conn.Interface(testConnectionID)
	require.True(t, ok)
	assert.Equal(t, InterfaceConnection, iface)
}

func TestHandshakeIgnoresUnknownInterfaces(t *testing.T) {
	conn := NewConnection(&memTransport{})
	hs := NewHandshake(conn, "test", ContextSender)

	srv := newServer(t).handshakeVersion(1).interfaceVersion("ei_text", 1)
	for _, iv := range clientInterfaces {
		srv.interfaceVersion(iv.Name, iv.Version)
	}
	resps, err := runHandshake(t, conn, hs, srv.connection(0).bytes())
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.NotContains(t, resps[0].Interfaces, "ei_text")
}

func TestHandshakeUnsupportedInterfaceDropped(t *testing.T) {
	conn := NewConnection(&memTransport{})
	hs := NewHandshake(conn, "test", ContextSender)

	srv := newServer(t).handshakeVersion(1)
	for _, iv := range clientInterfaces {
		v := iv.Version
		if iv.Name == InterfaceTouchscreen {
			v = 0
		}
		srv.interfaceVersion(iv.Name, v)
	}
	resps, err := runHandshake(t, conn, hs, srv.connection(0).bytes())
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.False(t, resps[0].Supports(InterfaceTouchscreen))
}

func TestHandshakeFailures(t *testing.T) {
	tests := []struct {
		name   string
		script func(s *server) *server
		state  HandshakeState
	}{
		{
			name:   "version zero",
			script: func(s *server) *server { return s.handshakeVersion(0) },
			state:  AwaitingVersion,
		},
		{
			name:   "duplicate version",
			script: func(s *server) *server { return s.handshakeVersion(1).handshakeVersion(1) },
			state:  NegotiatingInterfaces,
		},
		{
			name:   "interface before version",
			script: func(s *server) *server { return s.interfaceVersion(InterfaceSeat, 1) },
			state:  AwaitingVersion,
		},
		{
			name:   "connection before version",
			script: func(s *server) *server { return s.connection(0) },
			state:  AwaitingVersion,
		},
		{
			name: "required interface rejected",
			script: func(s *server) *server {
				return s.handshakeVersion(1).interfaceVersion(InterfaceDevice, 0)
			},
			state: NegotiatingInterfaces,
		},
		{
			name: "sender role rejected",
			script: func(s *server) *server {
				// The server never confirms ei_seat, so there is nothing to send to.
				return s.handshakeVersion(1).
					interfaceVersion(InterfaceConnection, 1).
					interfaceVersion(InterfaceDevice, 2).
					connection(0)
			},
			state: NegotiatingInterfaces,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := NewConnection(&memTransport{})
			hs := NewHandshake(conn, "test", ContextSender)

			resps, err := runHandshake(t, conn, hs, tt.script(newServer(t)).bytes())
			assert.Empty(t, resps)

			var herr *HandshakeError
			require.ErrorAs(t, err, &herr)
			assert.ErrorIs(t, err, ErrHandshake)
			assert.Equal(t, tt.state, herr.State)
			assert.Equal(t, Failed, hs.State())
		})
	}
}

func TestHandshakeSkipsUnrelatedObjects(t *testing.T) {
	conn := NewConnection(&memTransport{})
	hs := NewHandshake(conn, "test", ContextSender)
	require.NoError(t, conn.register(testSeatID, InterfaceSeat, 1))

	_, err := runHandshake(t, conn, hs, newServer(t).send(testSeatID, evSeatDone, "").bytes())
	require.NoError(t, err)
	assert.Equal(t, AwaitingVersion, hs.State())
}

func TestHandshakeAfterCompleteFails(t *testing.T) {
	conn := NewConnection(&memTransport{})
	hs := NewHandshake(conn, "test", ContextSender)

	resps, err := runHandshake(t, conn, hs, newServer(t).handshake().bytes())
	require.NoError(t, err)
	require.Len(t, resps, 1)

	// A second connection event is a protocol violation, never a second
	// response.
	require.NoError(t, conn.register(handshakeID, InterfaceHandshake, 1))
	resps, err = runHandshake(t, conn, hs, newServer(t).connection(1).bytes())
	assert.Empty(t, resps)
	assert.ErrorIs(t, err, ErrHandshake)
}
