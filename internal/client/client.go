// Package client implements the client side of the relay: it dials a server,
// announces a display name, and buffers everything the server relays until a
// presentation layer polls for it.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/lifecycle"
	"github.com/luciancaetano/relaynet/internal/logging"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/queue"
	"github.com/luciancaetano/relaynet/internal/transport"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"

	DefaultName        = "John Doe"
	DefaultDialTimeout = 5 * time.Second
	quitTimeout        = time.Second
)

// Config configures a Client.
type Config struct {
	// Addr is "host:port" for TCP or a ws:// URL for the WebSocket transport.
	Addr         string
	Transport    string
	Name         string
	DialTimeout  time.Duration
	MaxFrameSize int
	Logger       zerolog.Logger
}

// Client implements the relaynet.Client interface
type Client struct {
	cfg     Config
	conn    transport.Conn
	dialErr error
	log     zerolog.Logger

	life  lifecycle.Lifecycle
	inbox *queue.Inbox[protocol.Message]

	writeMu sync.Mutex

	// terminal is the notice owed to the presentation layer once the session
	// ends; reported guards that it is delivered once.
	mu       sync.Mutex
	terminal error
	reported bool
}

// New dials the server. A dial failure marks the client failed; Activate
// then reports the cause.
func New(ctx context.Context, cfg Config) *Client {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportTCP
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxBodySize
	}

	c := &Client{
		cfg:   cfg,
		inbox: queue.New[protocol.Message](queue.Options{}),
		log: logging.Component(cfg.Logger, "client").With().
			Str(logging.FieldName, cfg.Name).
			Logger(),
	}

	conn, err := dial(ctx, cfg)
	if err != nil {
		c.dialErr = err
		c.life.Fail()
		c.log.Error().Err(err).Str(logging.FieldRemoteAddr, cfg.Addr).Msg("could not connect")
		return c
	}
	c.conn = conn
	c.log.Debug().Str(logging.FieldRemoteAddr, conn.RemoteAddr()).Msg("connected")
	return c
}

func dial(ctx context.Context, cfg Config) (transport.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	switch cfg.Transport {
	case TransportTCP:
		return transport.Dial(ctx, cfg.Addr, cfg.MaxFrameSize)
	case TransportWebSocket:
		return transport.DialWebSocket(ctx, cfg.Addr, transport.WebSocketOptions{MaxFrameSize: cfg.MaxFrameSize})
	default:
		return nil, fmt.Errorf("%w: %q", relaynet.ErrUnknownTransport, cfg.Transport)
	}
}

func (c *Client) Name() string          { return c.cfg.Name }
func (c *Client) State() relaynet.State { return c.life.Current() }

// Done is closed once the client has terminated.
func (c *Client) Done() <-chan struct{} { return c.life.Done() }

// Err returns the dial error, if construction failed.
func (c *Client) Err() error { return c.dialErr }

// Activate announces the client's name and starts the receive loop.
func (c *Client) Activate() error {
	if c.life.Current() == lifecycle.Failed {
		c.log.Error().Msg("failed to activate")
		return fmt.Errorf("%w: %w", relaynet.ErrConstructionFailed, c.dialErr)
	}
	if !c.life.Activate() {
		c.log.Error().Stringer(logging.FieldState, c.life.Current()).Msg("already activated")
		return relaynet.ErrAlreadyActive
	}

	if err := c.write(protocol.NewCommand(c.cfg.Name, protocol.CmdJoin)); err != nil {
		c.Shutdown()
		return fmt.Errorf("join: %w", err)
	}

	go c.receive()
	c.log.Info().Msg("activated")
	return nil
}

func (c *Client) receive() {
	c.log.Debug().Msg("receive loop started")
	for {
		body, err := c.conn.ReadFrame()
		if err != nil {
			c.lost(err)
			return
		}
		msg, err := protocol.Decode(body)
		if err != nil {
			c.lost(err)
			return
		}
		if msg.IsShutdown() {
			c.setTerminal(relaynet.ErrServerShutdown)
		}
		if err := c.inbox.Push(msg); err != nil {
			return
		}
	}
}

// lost tears the client down after the connection failed underneath it.
func (c *Client) lost(err error) {
	if !c.life.IsActive() {
		return
	}
	if transport.IsClosed(err) {
		c.log.Info().Err(err).Msg("server closed the connection")
	} else {
		c.log.Error().Err(err).Msg("receive failed")
	}
	c.setTerminal(relaynet.ErrConnectionLost)
	c.Shutdown()
}

func (c *Client) setTerminal(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal == nil {
		c.terminal = err
	}
}

// Send relays text to every peer on the server.
func (c *Client) Send(text string) error {
	if !c.life.IsActive() {
		return relaynet.ErrNotActive
	}
	return c.write(protocol.NewChat(c.cfg.Name, text))
}

func (c *Client) write(msg protocol.Message) error {
	body, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", relaynet.ErrMsgFailedToEncode, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteFrame(body)
}

// Poll hands every buffered message to p in arrival order. On the shutdown
// sentinel it reports ErrServerShutdown, tears the client down and discards
// anything after it.
func (c *Client) Poll(p relaynet.Presenter) bool {
	for _, msg := range c.inbox.Drain() {
		if msg.IsShutdown() {
			c.Shutdown()
			break
		}
		p.Present(msg)
	}

	if c.life.IsActive() {
		return true
	}

	c.mu.Lock()
	notice := c.terminal
	first := !c.reported
	c.reported = true
	c.mu.Unlock()

	if notice != nil && first {
		p.Fatal(notice)
	}
	return false
}

// Shutdown announces quit, half-closes, then closes the connection.
func (c *Client) Shutdown() {
	if c.life.Transition(lifecycle.Created, lifecycle.Terminated) {
		// never activated: nothing was announced
		_ = c.conn.Close()
		c.inbox.Close()
		return
	}
	if !c.life.BeginShutdown() {
		c.log.Debug().Stringer(logging.FieldState, c.life.Current()).Msg("already shut down")
		return
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(quitTimeout)); err == nil {
		if err := c.write(protocol.NewCommand(c.cfg.Name, protocol.CmdQuit)); err != nil && !transport.IsClosed(err) {
			c.log.Debug().Err(err).Msg("quit announcement not sent")
		}
	}
	if err := c.conn.CloseWrite(); err != nil && !transport.IsClosed(err) {
		c.log.Debug().Err(err).Msg("half-close failed")
	}
	_ = c.conn.Close()
	c.inbox.Close()

	c.life.Finish()
	c.log.Info().Msg("shut down")
}
