package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/luciancaetano/relaynet/internal/protocol"
)

type tcpConn struct {
	conn    net.Conn
	r       *bufio.Reader
	maxSize int
}

// NewConn frames an existing stream connection. maxSize bounds a single frame
// body; zero disables the bound.
func NewConn(conn net.Conn, maxSize int) Conn {
	return &tcpConn{
		conn:    conn,
		r:       bufio.NewReader(conn),
		maxSize: maxSize,
	}
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(c.r, c.maxSize)
}

func (c *tcpConn) WriteFrame(body []byte) error {
	return protocol.WriteFrame(c.conn, body, c.maxSize)
}

func (c *tcpConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) CloseWrite() error {
	if hc, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type tcpListener struct {
	ln      net.Listener
	maxSize int
}

// Listen binds a TCP listener. Bind errors are returned immediately.
func Listen(addr string, maxSize int) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &tcpListener{ln: ln, maxSize: maxSize}, nil
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(conn, l.maxSize), nil
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

func (l *tcpListener) Addr() string {
	return l.ln.Addr().String()
}

// Dial connects to a TCP relay server.
func Dial(ctx context.Context, addr string, maxSize int) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(conn, maxSize), nil
}
