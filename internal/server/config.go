package server

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/queue"
	"github.com/luciancaetano/relaynet/internal/transport"
)

const (
	DefaultJoinTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	// Addr is the TCP listen address, e.g. "127.0.0.1:50000".
	Addr string

	// WebSocket enables the WebSocket gateway when non-nil.
	WebSocket *WebSocketConfig

	// NoEcho keeps a chat message from being relayed back to its sender.
	// The zero value echoes.
	NoEcho bool

	// JoinTimeout bounds the wait for a new connection's join announcement.
	JoinTimeout time.Duration

	// WriteTimeout bounds every frame write to a peer.
	WriteTimeout time.Duration

	// MaxFrameSize bounds a single frame body in bytes.
	MaxFrameSize int

	// Inbox bounds the shared inbox. The zero value is unbounded.
	Inbox queue.Options

	// RateLimit throttles inbound chat per peer. Nil disables it.
	RateLimit *RateLimitConfig

	OnJoin  relaynet.PeerHookFn
	OnLeave relaynet.PeerHookFn

	Logger zerolog.Logger
}

// WebSocketConfig configures the WebSocket gateway listener.
type WebSocketConfig struct {
	Addr         string
	Path         string
	CheckOrigin  transport.CheckOriginFn
	PingInterval time.Duration
}

// RateLimitConfig defines rate limiting configuration for peers
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a peer can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 20 messages per second with burst of 40
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 20,
		Burst:             40,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

func (r *RateLimitConfig) newLimiter() *rate.Limiter {
	if r == nil || !r.Enabled {
		return nil
	}
	return rate.NewLimiter(r.MessagesPerSecond, r.Burst)
}

func (c *Config) setDefaults() {
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = protocol.DefaultMaxBodySize
	}
}
