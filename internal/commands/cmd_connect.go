package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/client"
	"github.com/luciancaetano/relaynet/internal/config"
	"github.com/luciancaetano/relaynet/internal/protocol"
)

type ConnectCmd struct {
	flags *Flags

	host      string
	port      int
	name      string
	transport string
}

// NewConnectCmd creates a new connect command
func NewConnectCmd(flags *Flags) *ConnectCmd {
	return &ConnectCmd{flags: flags}
}

// Register adds the connect command to the application
func (cmd *ConnectCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "connect",
		Usage:     "Join a relay server from the terminal",
		UsageText: "relaynet connect [--name NAME] [--host HOST] [--port PORT]",
		Description: `Connects to a relay server and announces NAME. Every line typed on stdin is
sent as a chat message; everything the server relays is printed to stdout.

The session ends on ctrl-c, at end of input, or when the server shuts down.

Example:
  relaynet connect --name Alice
  relaynet connect --name Bob --transport websocket --port 50001`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "name",
				Aliases:     []string{"n"},
				Usage:       "display name announced to the server",
				Destination: &cmd.name,
			},
			&cli.StringFlag{
				Name:        "host",
				Usage:       "server address",
				Destination: &cmd.host,
			},
			&cli.IntFlag{
				Name:        "port",
				Aliases:     []string{"p"},
				Usage:       "server port",
				Destination: &cmd.port,
			},
			&cli.StringFlag{
				Name:        "transport",
				Aliases:     []string{"t"},
				Usage:       "tcp or websocket",
				Destination: &cmd.transport,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ConnectCmd) run(ctx context.Context, c *cli.Command) error {
	cc := cmd.flags.Config.Client
	if c.IsSet("name") {
		cc.Name = cmd.name
	}
	if c.IsSet("host") {
		cc.Host = cmd.host
	}
	if c.IsSet("port") {
		cc.Port = cmd.port
	}
	if c.IsSet("transport") {
		cc.Transport = cmd.transport
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cl := client.New(ctx, clientConfig(cc, cmd.flags))
	if err := cl.Activate(); err != nil {
		return err
	}
	defer cl.Shutdown()

	go readInput(os.Stdin, cl, cmd.flags)

	out := &printer{w: os.Stdout}
	return pollLoop(ctx, cl, out, cc.PollInterval)
}

// clientConfig maps file and flag settings onto the client's runtime config.
func clientConfig(cc config.ClientConfig, flags *Flags) client.Config {
	addr := cc.Addr()
	if cc.Transport == client.TransportWebSocket {
		addr = "ws://" + addr + flags.Config.Server.WebSocket.Path
	}
	return client.Config{
		Addr:         addr,
		Transport:    cc.Transport,
		Name:         cc.Name,
		DialTimeout:  cc.DialTimeout,
		MaxFrameSize: flags.Config.Server.MaxFrameSize,
		Logger:       flags.Logger,
	}
}

// readInput sends each non-empty line; end of input ends the session.
func readInput(r io.Reader, cl *client.Client, flags *Flags) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), protocol.DefaultMaxBodySize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := cl.Send(line); err != nil {
			if !errors.Is(err, relaynet.ErrNotActive) {
				flags.Logger.Error().Err(err).Msg("send")
			}
			return
		}
	}
	cl.Shutdown()
}

// pollLoop drives Poll on a fixed cadence until the session ends.
func pollLoop(ctx context.Context, cl *client.Client, out *printer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !cl.Poll(out) {
			return out.result()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// printer writes display lines to the terminal.
type printer struct {
	w     io.Writer
	fatal error
}

func (p *printer) Present(msg relaynet.Message) {
	fmt.Fprintln(p.w, client.Format(msg))
}

func (p *printer) Fatal(err error) {
	p.fatal = err
	fmt.Fprintln(p.w, client.Format(protocol.NewSystem("*"+err.Error()+"*")))
}

// result maps the terminal notice to the command's exit error. A server
// shutdown is an orderly end of session.
func (p *printer) result() error {
	if p.fatal == nil || errors.Is(p.fatal, relaynet.ErrServerShutdown) {
		return nil
	}
	return p.fatal
}
