// Package relay exposes constructors for relaynet servers and clients.
package relay

import (
	"context"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/client"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/queue"
	"github.com/luciancaetano/relaynet/internal/server"
	"github.com/luciancaetano/relaynet/internal/transport"
)

type ServerConfig = server.Config
type WebSocketConfig = server.WebSocketConfig
type RateLimitConfig = server.RateLimitConfig
type CheckOriginFn = transport.CheckOriginFn
type ClientConfig = client.Config

// InboxOptions bounds the server's shared inbox. The zero value is unbounded.
type InboxOptions = queue.Options
type OverflowPolicy = queue.OverflowPolicy

const (
	DropOldest = queue.DropOldest
	Reject     = queue.Reject
	Block      = queue.Block
)

const (
	TransportTCP       = client.TransportTCP
	TransportWebSocket = client.TransportWebSocket
)

var (
	_ relaynet.Server = (*server.Server)(nil)
	_ relaynet.Peer   = (*server.Handler)(nil)
	_ relaynet.Client = (*client.Client)(nil)
)

// NewServer creates a server and binds its listeners. A bind failure is
// reported by Activate or Serve.
//
// Example:
//
//	srv := relay.NewServer(relay.ServerConfig{
//	    Addr:      "127.0.0.1:50000",
//	    RateLimit: relay.DefaultRateLimitConfig(),
//	    OnJoin: func(p relaynet.Peer) {
//	        log.Printf("%s joined from %s", p.Name(), p.RemoteAddr())
//	    },
//	})
func NewServer(cfg ServerConfig) relaynet.Server {
	return server.New(cfg)
}

// NewClient dials a server. A dial failure is reported by Activate.
func NewClient(ctx context.Context, cfg ClientConfig) relaynet.Client {
	return client.New(ctx, cfg)
}

// Format renders msg as a timestamped display line.
func Format(msg relaynet.Message) string {
	return client.Format(msg)
}

// NewChat builds a chat message stamped with the current time.
func NewChat(sender, text string) relaynet.Message {
	return protocol.NewChat(sender, text)
}

// NewSystem builds a system notice stamped with the current time.
func NewSystem(text string) relaynet.Message {
	return protocol.NewSystem(text)
}

// AllOrigins returns the checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return transport.AllOrigins
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return server.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return server.NoRateLimit()
}
