//go:build linux

package vmci

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
)

// VSockTransport is the production transport: a stream socket on the
// host-guest VM communication interface. Each connection carries one
// request and one reply, both length-prefixed (big-endian uint32). The
// token is the peer's context id, which the monitor assigns per VM and the
// guest cannot forge.
type VSockTransport struct {
	fd      int
	maxSize int

	mu     sync.Mutex
	closed bool
}

// NewVSockTransport binds and listens on the given vsock port.
func NewVSockTransport(port, maxSize int) (*VSockTransport, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errdefs.Infrastructure("failed to create vsock socket: %v", err)
	}
	sa := &unix.SockaddrVM{CID: unix.VMADDR_CID_ANY, Port: uint32(port)}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errdefs.Infrastructure("failed to bind vsock port %d: %v", port, err)
	}
	if err := unix.Listen(fd, 32); err != nil {
		unix.Close(fd)
		return nil, errdefs.Infrastructure("failed to listen on vsock port %d: %v", port, err)
	}
	return &VSockTransport{fd: fd, maxSize: maxSize}, nil
}

// Receive accepts the next connection and reads its request frame.
func (t *VSockTransport) Receive(_ context.Context) (*Message, error) {
	nfd, sa, err := unix.Accept(t.fd)
	if err != nil {
		if t.isClosed() {
			return nil, errdefs.Infrastructure("transport closed")
		}
		return nil, errdefs.Infrastructure("vsock accept failed: %v", err)
	}

	peer, ok := sa.(*unix.SockaddrVM)
	if !ok {
		unix.Close(nfd)
		return nil, errdefs.Protocol("unexpected peer address family on vsock socket")
	}

	conn := os.NewFile(uintptr(nfd), "vsock-conn")
	payload, err := readFrame(conn, t.maxSize)
	if err != nil {
		conn.Close()
		return nil, err
	}

	var once sync.Once
	reply := func(p []byte) error {
		var werr error
		once.Do(func() {
			werr = writeFrame(conn, p)
			conn.Close()
		})
		return werr
	}

	return &Message{
		Payload: payload,
		Token:   strconv.FormatUint(uint64(peer.CID), 10),
		Reply:   reply,
	}, nil
}

// Close shuts the listening socket down, unblocking a pending Receive.
func (t *VSockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return unix.Close(t.fd)
}

func (t *VSockTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, errdefs.Protocol("failed to read request header: %v", err)
	}
	if int(length) > maxSize {
		return nil, errdefs.Protocol("request of %d bytes exceeds the %d byte limit", length, maxSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errdefs.Protocol("failed to read request body: %v", err)
	}
	return payload, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
