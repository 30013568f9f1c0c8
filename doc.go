// Package relaynet provides a multi-client text relay: a server that accepts TCP (and optionally
// WebSocket) connections and broadcasts every chat message to all connected peers, interleaved
// with join, quit and shutdown notices, plus the matching client.
//
// # Architecture
//
// Each accepted connection is owned by a handler that runs its own receive loop. Receive loops
// feed one shared inbox; a single dispatch loop drains it in FIFO order and decides whether a
// message is a command to interpret, a chat line to broadcast, or a notice for one peer.
//
//	listener ──accept──▶ handler ──receive──▶ inbox ──dispatch──▶ every active handler
//
// Servers, handlers and clients move through an explicit lifecycle:
//
//	created ─▶ active ─▶ shutting-down ─▶ terminated
//	   └──────▶ failed (bind or dial error)
//
// # Quick Start
//
//	import "github.com/luciancaetano/relaynet/relay"
//
//	srv := relay.NewServer(relay.ServerConfig{
//	    Addr:      "127.0.0.1:50000",
//	    RateLimit: relay.DefaultRateLimitConfig(),
//	})
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Protocol Format
//
// Every frame on a TCP stream is length-prefixed:
//
//	[4 bytes: body length N (uint32, big-endian)][N bytes: body]
//	body = [1 byte: schema version][1 byte: kind][JSON record]
//
// Kinds are 1 (chat) and 2 (system). Over WebSocket one binary message carries one body with no
// length prefix. The maximum body size defaults to 64KB.
//
// # Control Vocabulary
//
//   - /join is sent by the client on connect and carries its display name
//   - /quit is sent by the client on graceful disconnect
//   - /shutdown is a system message broadcast once before the server tears down
//
// Any other payload starting with "/" is answered with an "unknown command" notice to the sender
// only.
//
// # Rate Limiting
//
// Each peer has an independent token bucket. Messages over the limit are dropped and logged; the
// connection stays open.
//
//	rateLimitConfig := &relay.RateLimitConfig{
//	    MessagesPerSecond: 5,
//	    Burst:             10,
//	    Enabled:           true,
//	}
//
// # Important
//
//   - The shared inbox is unbounded by default. Set a capacity and an overflow policy to bound memory
//   - Ordering is per connection; messages from different peers interleave in arrival order
//   - Delivery is best effort; a peer whose write fails is disconnected, never retried
package relaynet
