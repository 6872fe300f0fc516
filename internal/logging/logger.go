package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevelEnv names the environment variable read by Init.
const LogLevelEnv = "SPLIT_HD_LOG_LEVEL"

// Init initializes the global logger with configuration from environment variables.
// SPLIT_HD_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
func Init() {
	InitWithOutput(os.Getenv(LogLevelEnv), os.Stderr)
}

// InitWithOutput sets the global level and writes human-readable output to w.
// The MCP server passes stderr explicitly since stdout carries its protocol.
func InitWithOutput(level string, w io.Writer) {
	SetLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// SetLevel applies a level name; unknown names mean info.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
