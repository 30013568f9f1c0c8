// Package config loads relaynet settings from an optional YAML file and
// RELAYNET_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/luciancaetano/relaynet/internal/logging"
	"github.com/luciancaetano/relaynet/internal/queue"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 50000
	EnvPrefix   = "RELAYNET"
)

type Config struct {
	Server ServerConfig   `mapstructure:"server"`
	Client ClientConfig   `mapstructure:"client"`
	Log    logging.Config `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string          `mapstructure:"host"`
	Port         int             `mapstructure:"port"`
	Echo         bool            `mapstructure:"echo"`
	JoinTimeout  time.Duration   `mapstructure:"join_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	MaxFrameSize int             `mapstructure:"max_frame_size"`
	Inbox        InboxConfig     `mapstructure:"inbox"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	WebSocket    WebSocketConfig `mapstructure:"websocket"`
}

// InboxConfig bounds the shared inbox. Capacity 0 means unbounded.
type InboxConfig struct {
	Capacity     int           `mapstructure:"capacity"`
	Overflow     string        `mapstructure:"overflow"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type WebSocketConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type ClientConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Name         string        `mapstructure:"name"`
	Transport    string        `mapstructure:"transport"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the TCP listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Addr returns the WebSocket gateway listen address.
func (w WebSocketConfig) Addr() string {
	return net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}

// Addr returns the address the client dials.
func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Policy parses the configured inbox overflow policy.
func (i InboxConfig) Policy() (queue.OverflowPolicy, error) {
	return queue.ParseOverflowPolicy(i.Overflow)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.echo", true)
	v.SetDefault("server.join_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.max_frame_size", 64*1024)
	v.SetDefault("server.inbox.capacity", 0)
	v.SetDefault("server.inbox.overflow", "drop-oldest")
	v.SetDefault("server.inbox.block_timeout", "1s")
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.messages_per_second", 20)
	v.SetDefault("server.rate_limit.burst", 40)
	v.SetDefault("server.websocket.enabled", false)
	v.SetDefault("server.websocket.host", DefaultHost)
	v.SetDefault("server.websocket.port", DefaultPort+1)
	v.SetDefault("server.websocket.path", "/ws")
	v.SetDefault("client.host", DefaultHost)
	v.SetDefault("client.port", DefaultPort)
	v.SetDefault("client.name", "John Doe")
	v.SetDefault("client.transport", "tcp")
	v.SetDefault("client.poll_interval", "50ms")
	v.SetDefault("client.dial_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configuration. When path is empty, relaynet.yaml is looked up in
// the working directory and ./config; a missing file is not an error.
// Environment variables override the file, e.g. RELAYNET_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("relaynet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without consulting files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validPort("client.port", c.Client.Port); err != nil {
		return err
	}
	if c.Server.WebSocket.Enabled {
		if err := validPort("server.websocket.port", c.Server.WebSocket.Port); err != nil {
			return err
		}
		if !strings.HasPrefix(c.Server.WebSocket.Path, "/") {
			return fmt.Errorf("server.websocket.path must start with '/': %q", c.Server.WebSocket.Path)
		}
	}
	if c.Server.MaxFrameSize <= 0 {
		return fmt.Errorf("server.max_frame_size must be positive: %d", c.Server.MaxFrameSize)
	}
	if c.Server.Inbox.Capacity < 0 {
		return fmt.Errorf("server.inbox.capacity must not be negative: %d", c.Server.Inbox.Capacity)
	}
	if _, err := c.Server.Inbox.Policy(); err != nil {
		return fmt.Errorf("server.inbox.overflow: %w", err)
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.MessagesPerSecond <= 0 || c.Server.RateLimit.Burst <= 0) {
		return errors.New("server.rate_limit needs positive messages_per_second and burst when enabled")
	}
	switch c.Client.Transport {
	case "tcp", "websocket":
	default:
		return fmt.Errorf("client.transport must be tcp or websocket: %q", c.Client.Transport)
	}
	if strings.TrimSpace(c.Client.Name) == "" {
		return errors.New("client.name must not be empty")
	}
	return nil
}

func validPort(key string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", key, port)
	}
	return nil
}
