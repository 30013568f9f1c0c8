package commands

import (
	"github.com/rs/zerolog"

	"github.com/luciancaetano/relaynet/internal/config"
)

// Flags holds global flags and the state built from them before any
// subcommand runs.
type Flags struct {
	LogLevel   string
	LogPretty  bool
	ConfigPath string

	Config *config.Config
	Logger zerolog.Logger
}
