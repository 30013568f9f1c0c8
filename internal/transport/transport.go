// Package transport carries length-delimited frame bodies between relay peers
// over TCP or WebSocket.
package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one bidirectional, frame-oriented peer connection. ReadFrame must be
// called from a single goroutine and WriteFrame must be serialized by the
// caller; Close may be called concurrently with both and unblocks them.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(body []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	// CloseWrite signals the peer that no more frames will be sent while
	// leaving the read side open. It is best effort.
	CloseWrite() error
	Close() error
	RemoteAddr() string
}

// Listener yields accepted Conns. Accept returns net.ErrClosed once the
// listener has been closed.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// IsClosed reports whether err means the connection went away, as opposed to
// a protocol or I/O fault worth reporting.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived)
}
