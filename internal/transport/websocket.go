package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/relaynet/internal/protocol"
)

// CheckOriginFn validates the Origin of a WebSocket upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// AllOrigins accepts upgrades from any origin.
func AllOrigins(*http.Request) bool { return true }

// ErrNotBinary is returned when a WebSocket peer sends a text message.
var ErrNotBinary = errors.New("websocket: expected binary message")

// WebSocketOptions configures the WebSocket gateway and its connections.
type WebSocketOptions struct {
	// Path the upgrade handler is mounted on. Defaults to "/ws".
	Path         string
	CheckOrigin  CheckOriginFn
	MaxFrameSize int
	// PingInterval enables keepalive pings; the read side then expires after
	// PongWait without a pong or frame. Zero disables keepalive.
	PingInterval time.Duration
	PongWait     time.Duration
}

func (o *WebSocketOptions) setDefaults() {
	if o.Path == "" {
		o.Path = "/ws"
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = AllOrigins
	}
	if o.PingInterval > 0 && o.PongWait <= o.PingInterval {
		o.PongWait = o.PingInterval * 10 / 9
	}
}

type wsConn struct {
	conn       *websocket.Conn
	remoteAddr string
	opts       WebSocketOptions

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(conn *websocket.Conn, remoteAddr string, opts WebSocketOptions) *wsConn {
	c := &wsConn{
		conn:       conn,
		remoteAddr: remoteAddr,
		opts:       opts,
		done:       make(chan struct{}),
	}
	if opts.MaxFrameSize > 0 {
		conn.SetReadLimit(int64(opts.MaxFrameSize))
	}
	if opts.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		})
		go c.pingLoop()
	}
	return c
}

// pingLoop uses WriteControl, which gorilla allows concurrently with
// WriteMessage, so it does not contend with frame writers.
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.PingInterval)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			return nil, ErrNotBinary
		}
		if c.opts.PingInterval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		}
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteFrame(body []byte) error {
	if len(body) == 0 {
		return protocol.ErrEmptyFrame
	}
	if c.opts.MaxFrameSize > 0 && len(body) > c.opts.MaxFrameSize {
		return fmt.Errorf("%w: %d > %d bytes", protocol.ErrFrameTooLarge, len(body), c.opts.MaxFrameSize)
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, body)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// CloseWrite starts the WebSocket closing handshake. The peer's read loop sees
// a normal closure; our read side stays open until the peer answers.
func (c *wsConn) CloseWrite() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.remoteAddr
}

// WebSocketListener is an HTTP server whose upgraded connections are handed
// out through Accept.
type WebSocketListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	opts     WebSocketOptions

	conns     chan Conn
	closed    chan struct{}
	closeOnce sync.Once
	serveErr  chan error
}

// ListenWebSocket binds addr and starts serving upgrades on opts.Path. Bind
// errors are returned immediately.
func ListenWebSocket(addr string, opts WebSocketOptions) (*WebSocketListener, error) {
	opts.setDefaults()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	l := &WebSocketListener{
		ln:   ln,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		conns:    make(chan Conn),
		closed:   make(chan struct{}),
		serveErr: make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.serveErr <- err
		}
	}()

	return l, nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.closed:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		return
	}

	c := newWSConn(conn, r.RemoteAddr, l.opts)
	select {
	case l.conns <- c:
	case <-l.closed:
		_ = c.Close()
	}
}

// Accept waits for the next upgraded connection.
func (l *WebSocketListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case err := <-l.serveErr:
		return nil, err
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

// Close stops the HTTP server. Connections already handed out through Accept
// are owned by the caller and stay open.
func (l *WebSocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = l.server.Shutdown(ctx)
	})
	return err
}

// Addr returns the bound address.
func (l *WebSocketListener) Addr() string {
	return l.ln.Addr().String()
}

// URL returns the ws:// URL clients dial to reach this listener.
func (l *WebSocketListener) URL() string {
	return "ws://" + l.Addr() + l.opts.Path
}

// DialWebSocket connects to a relay server's WebSocket gateway.
func DialWebSocket(ctx context.Context, url string, opts WebSocketOptions) (Conn, error) {
	opts.setDefaults()
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return newWSConn(conn, conn.RemoteAddr().String(), opts), nil
}
