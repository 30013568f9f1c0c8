package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/relaynet/internal/config"
	"github.com/luciancaetano/relaynet/internal/queue"
	"github.com/luciancaetano/relaynet/internal/server"
	"github.com/luciancaetano/relaynet/internal/transport"
)

type ServeCmd struct {
	flags *Flags

	host          string
	port          int
	echo          bool
	inboxCapacity int
	overflow      string
	websocket     bool
	wsPort        int
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run a relay server",
		UsageText: "relaynet serve [--host HOST] [--port PORT]",
		Description: `Accepts connections and relays every chat message to all connected clients,
along with join and quit notices.

Stop the server with ctrl-c; connected clients receive the shutdown notice
before their connections close.

Example:
  relaynet serve --port 50000
  relaynet serve --echo=false --inbox-capacity 1024 --overflow reject`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "host",
				Usage:       "address to bind",
				Destination: &cmd.host,
			},
			&cli.IntFlag{
				Name:        "port",
				Aliases:     []string{"p"},
				Usage:       "TCP port to bind",
				Destination: &cmd.port,
			},
			&cli.BoolFlag{
				Name:        "echo",
				Usage:       "relay chat messages back to their sender (--echo=false to disable)",
				Destination: &cmd.echo,
			},
			&cli.IntFlag{
				Name:        "inbox-capacity",
				Usage:       "bound the shared inbox (0 = unbounded)",
				Destination: &cmd.inboxCapacity,
			},
			&cli.StringFlag{
				Name:        "overflow",
				Usage:       "policy when the inbox is full (drop-oldest, reject, block)",
				Destination: &cmd.overflow,
			},
			&cli.BoolFlag{
				Name:        "websocket",
				Usage:       "also accept WebSocket clients",
				Destination: &cmd.websocket,
			},
			&cli.IntFlag{
				Name:        "ws-port",
				Usage:       "WebSocket gateway port",
				Destination: &cmd.wsPort,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	sc := cmd.flags.Config.Server
	if c.IsSet("host") {
		sc.Host = cmd.host
	}
	if c.IsSet("port") {
		sc.Port = cmd.port
	}
	if c.IsSet("echo") {
		sc.Echo = cmd.echo
	}
	if c.IsSet("inbox-capacity") {
		sc.Inbox.Capacity = cmd.inboxCapacity
	}
	if c.IsSet("overflow") {
		sc.Inbox.Overflow = cmd.overflow
	}
	if c.IsSet("websocket") {
		sc.WebSocket.Enabled = cmd.websocket
	}
	if c.IsSet("ws-port") {
		sc.WebSocket.Port = cmd.wsPort
	}

	cfg, err := serverConfig(sc, cmd.flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.flags.Logger.Info().Msg("type ctrl-c to shut down")
	return server.New(cfg).Serve(ctx)
}

// serverConfig maps file and flag settings onto the server's runtime config.
func serverConfig(sc config.ServerConfig, flags *Flags) (server.Config, error) {
	policy, err := sc.Inbox.Policy()
	if err != nil {
		return server.Config{}, err
	}

	cfg := server.Config{
		Addr:         sc.Addr(),
		NoEcho:       !sc.Echo,
		JoinTimeout:  sc.JoinTimeout,
		WriteTimeout: sc.WriteTimeout,
		MaxFrameSize: sc.MaxFrameSize,
		Inbox: queue.Options{
			Capacity:     sc.Inbox.Capacity,
			Policy:       policy,
			BlockTimeout: sc.Inbox.BlockTimeout,
		},
		RateLimit: &server.RateLimitConfig{
			MessagesPerSecond: rate.Limit(sc.RateLimit.MessagesPerSecond),
			Burst:             sc.RateLimit.Burst,
			Enabled:           sc.RateLimit.Enabled,
		},
		Logger: flags.Logger,
	}

	if sc.WebSocket.Enabled {
		cfg.WebSocket = &server.WebSocketConfig{
			Addr:        sc.WebSocket.Addr(),
			Path:        sc.WebSocket.Path,
			CheckOrigin: transport.AllOrigins,
		}
	}
	return cfg, nil
}
