package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/luciancaetano/relaynet/internal/commands"
	"github.com/luciancaetano/relaynet/internal/config"
	"github.com/luciancaetano/relaynet/internal/logging"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "relaynet",
		Usage:     "Relay text messages between connected clients",
		UsageText: "relaynet [global options] command [command options]",
		Description: `relaynet runs a small multi-client relay: every chat message a client sends
is delivered to all connected clients, along with join and quit notices.

Run 'relaynet serve' to start a server.
Run 'relaynet connect --name NAME' to join one from the terminal.

Settings are read from relaynet.yaml (or --config) and RELAYNET_* environment
variables; command flags override both.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error, disabled)",
				Sources:     cli.EnvVars("RELAYNET_LOG_LEVEL"),
				Destination: &flags.LogLevel,
			},
			&cli.BoolFlag{
				Name:        "log-pretty",
				Usage:       "human readable log output",
				Sources:     cli.EnvVars("RELAYNET_LOG_PRETTY"),
				Destination: &flags.LogPretty,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("RELAYNET_CONFIG"),
				Destination: &flags.ConfigPath,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if c.IsSet("log-level") {
				cfg.Log.Level = flags.LogLevel
			}
			if c.IsSet("log-pretty") {
				cfg.Log.Pretty = flags.LogPretty
			}

			flags.Config = cfg
			flags.Logger = logging.New(cfg.Log)
			log.Logger = flags.Logger
			return ctx, nil
		},
	}

	app = commands.NewServeCmd(flags).Register(app)
	app = commands.NewConnectCmd(flags).Register(app)

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("relaynet")
		os.Exit(1)
	}
}
