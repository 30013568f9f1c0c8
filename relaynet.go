package relaynet

import (
	"context"

	"github.com/luciancaetano/relaynet/internal/lifecycle"
	"github.com/luciancaetano/relaynet/internal/protocol"
)

// Message is the record relayed between peers.
type Message = protocol.Message

// State is the lifecycle stage of a server, peer or client.
type State = lifecycle.State

// Server accepts connections, tracks the active peers and relays every chat
// message to all of them, interleaved with join, quit and shutdown notices.
//
// Example usage:
//
//	import "github.com/luciancaetano/relaynet/relay"
//
//	srv := relay.NewServer(relay.ServerConfig{Addr: "127.0.0.1:50000"})
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
type Server interface {
	// Activate starts the accept and dispatch loops and returns immediately.
	// It fails with ErrConstructionFailed when the listener could not bind
	// and with ErrAlreadyActive when called twice. Cancelling ctx shuts the
	// server down.
	Activate(ctx context.Context) error

	// Serve activates the server and blocks until it has terminated.
	Serve(ctx context.Context) error

	// Shutdown broadcasts the shutdown sentinel, disconnects every peer,
	// closes the listeners and waits, bounded by ctx, for all loops to
	// exit. Calling it again is a no-op.
	Shutdown(ctx context.Context) error

	// Announce queues a system notice for broadcast to every active peer.
	Announce(text string) error

	// SendTo delivers msg to a single peer by ID.
	SendTo(id string, msg Message) error

	// Peers returns a snapshot of the active peers.
	Peers() []Peer

	// Count returns the number of active peers.
	Count() int

	// Addr returns the bound TCP address.
	Addr() string

	State() State
}

// Peer is one joined connection as seen by the server.
type Peer interface {
	// ID returns a unique identifier assigned when the connection was accepted.
	ID() string

	// Name returns the display name announced during the join handshake.
	Name() string

	// RemoteAddr returns the peer's network address, "IP:port" for TCP.
	RemoteAddr() string

	// Send encodes and writes msg to this peer. A failed write shuts the
	// peer down.
	Send(msg Message) error

	// Shutdown disconnects the peer and announces that it quit. Calling it
	// again is a no-op.
	Shutdown()

	State() State
}

// PeerHookFn is called synchronously when a peer joins or leaves. It must
// not block.
type PeerHookFn = func(peer Peer)

// Presenter renders what a client receives.
type Presenter interface {
	// Present renders one chat or system message.
	Present(msg Message)

	// Fatal reports that the session is over: ErrServerShutdown or
	// ErrConnectionLost.
	Fatal(err error)
}

// Client is the client-side mirror of a server connection.
//
// Example usage:
//
//	c := relay.NewClient(ctx, relay.ClientConfig{Addr: "127.0.0.1:50000", Name: "Alice"})
//	if err := c.Activate(); err != nil {
//	    return err
//	}
//	defer c.Shutdown()
//	c.Send("hello")
//	for c.Poll(presenter) {
//	    time.Sleep(50 * time.Millisecond)
//	}
type Client interface {
	// Activate announces the client's name and starts the receive loop.
	Activate() error

	// Send relays text to every peer on the server.
	Send(text string) error

	// Poll hands every received message to p. The shutdown sentinel and a
	// lost connection are reported through p.Fatal once, and the client is
	// torn down. Poll returns whether the client is still active.
	Poll(p Presenter) bool

	// Shutdown announces quit, closes the connection and marks the client
	// inactive. Calling it again is a no-op.
	Shutdown()

	Name() string
	State() State
}
