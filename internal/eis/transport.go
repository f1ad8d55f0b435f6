package eis

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Transport is the duplex byte stream to the EIS server. Reads and writes
// never block: when there is nothing to read or the socket buffer is full
// they return ErrWouldBlock.
type Transport interface {
	// Read reads available bytes into p and returns any file descriptors
	// that arrived with them.
	Read(p []byte) (n int, fds []int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// maxFDsPerRead bounds the ancillary buffer. libei sends at most one
// descriptor per message (the keymap).
const maxFDsPerRead = 8

type fdTransport struct {
	fd     int
	oob    []byte
	closed bool
}

// NewFDTransport wraps a connected unix stream socket, such as the one
// returned by the portal's ConnectToEIS, and switches it to non-blocking
// mode. The transport takes ownership of fd.
func NewFDTransport(fd int) (Transport, error) {
	if fd < 0 {
		return nil, fmt.Errorf("eis: invalid file descriptor %d", fd)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("eis: set non-blocking: %w", err)
	}
	return &fdTransport{
		fd:  fd,
		oob: make([]byte, unix.CmsgSpace(maxFDsPerRead*4)),
	}, nil
}

func (t *fdTransport) Read(p []byte) (int, []int, error) {
	n, oobn, _, _, err := unix.Recvmsg(t.fd, p, t.oob, unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		if isTransient(err) {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}

	var fds []int
	if oobn > 0 {
		msgs, err := unix.ParseSocketControlMessage(t.oob[:oobn])
		if err != nil {
			return n, nil, fmt.Errorf("parse control message: %w", err)
		}
		for i := range msgs {
			rights, err := unix.ParseUnixRights(&msgs[i])
			if err != nil {
				continue
			}
			fds = append(fds, rights...)
		}
	}

	if n == 0 && len(fds) == 0 {
		return 0, nil, io.EOF
	}
	return n, fds, nil
}

func (t *fdTransport) Write(p []byte) (int, error) {
	n, err := unix.SendmsgN(t.fd, p, nil, nil, unix.MSG_NOSIGNAL)
	if n < 0 {
		n = 0
	}
	if err != nil {
		if isTransient(err) {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (t *fdTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return unix.Close(t.fd)
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
