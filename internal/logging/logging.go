package logging

import (
	"log/slog"
	"os"

	"github.com/pion/logging"
)

// ParseLevel maps a LOG_LEVEL style name onto a slog level
func ParseLevel(name string) slog.Level {
	switch name {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs a text handler on stderr as the default slog logger
func Init(level string) *slog.Logger {
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: ParseLevel(level),
		}),
	)
	slog.SetDefault(logger)
	return logger
}

// PionFactory returns a pion logger factory at the matching level, so pion's
// own ICE and DTLS chatter follows LOG_LEVEL.
func PionFactory(level string) logging.LoggerFactory {
	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = pionLevel(ParseLevel(level))
	return factory
}

func pionLevel(level slog.Level) logging.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return logging.LogLevelDebug
	case level <= slog.LevelInfo:
		return logging.LogLevelInfo
	case level <= slog.LevelWarn:
		return logging.LogLevelWarn
	default:
		return logging.LogLevelError
	}
}
