// README: Process logger setup (zerolog).
package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"foodcourt/internal/config"
)

// NewLogger builds the process-wide zerolog logger from log config.
// Console output is for development; anything else writes JSON lines.
func NewLogger(cfg config.LogConfig) zerolog.Logger {
	level := parseLevel(cfg.Level)

	var logger zerolog.Logger
	if cfg.Format == "console" {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
