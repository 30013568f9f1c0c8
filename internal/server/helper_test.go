package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/transport"
)

const readTimeout = 3 * time.Second

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()

	cfg := Config{
		Addr:        "127.0.0.1:0",
		JoinTimeout: 2 * time.Second,
		Logger:      zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s := New(cfg)
	require.NoError(t, s.Activate(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

// peer is a raw protocol client used to observe exactly what the server writes.
type peer struct {
	t    *testing.T
	name string
	conn transport.Conn
}

func dialPeer(t *testing.T, s *Server, name string) *peer {
	t.Helper()

	conn, err := transport.Dial(context.Background(), s.Addr(), protocol.DefaultMaxBodySize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &peer{t: t, name: name, conn: conn}
}

// joinPeer dials, announces name and waits for the server's own join notice.
func joinPeer(t *testing.T, s *Server, name string) *peer {
	t.Helper()

	p := dialPeer(t, s, name)
	p.sendMessage(protocol.NewCommand(name, protocol.CmdJoin))
	p.readUntil(fmt.Sprintf(relaynet.JoinedFormat, name))
	return p
}

func (p *peer) send(text string) {
	p.t.Helper()
	p.sendMessage(protocol.NewChat(p.name, text))
}

func (p *peer) sendMessage(msg protocol.Message) {
	p.t.Helper()
	body, err := protocol.Encode(msg)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteFrame(body))
}

func (p *peer) next() (protocol.Message, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return protocol.Message{}, err
	}
	body, err := p.conn.ReadFrame()
	if err != nil {
		return protocol.Message{}, err
	}
	return protocol.Decode(body)
}

func (p *peer) mustNext() protocol.Message {
	p.t.Helper()
	msg, err := p.next()
	require.NoError(p.t, err, "%s: read", p.name)
	return msg
}

// readUntil reads until a message with the given payload arrives and returns
// everything received before it.
func (p *peer) readUntil(payload string) []protocol.Message {
	p.t.Helper()

	var before []protocol.Message
	for {
		msg := p.mustNext()
		if msg.Payload == payload {
			return before
		}
		before = append(before, msg)
	}
}

// drainTo broadcasts a unique marker notice and returns everything p received before it.
func (p *peer) drainTo(s *Server, marker string) []protocol.Message {
	p.t.Helper()
	require.NoError(p.t, s.Announce(marker))
	return p.readUntil(marker)
}

func countPayload(msgs []protocol.Message, payload string) int {
	n := 0
	for _, m := range msgs {
		if m.Payload == payload {
			n++
		}
	}
	return n
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server, client net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	server, ok := <-accepted
	require.True(t, ok)

	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

// countingConn counts Close calls on the wrapped connection.
type countingConn struct {
	transport.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// logBuffer collects log output written from many goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
