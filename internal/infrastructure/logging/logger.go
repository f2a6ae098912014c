package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "autohome"

// Logger is a slog.Logger scoped to one relay node.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds the logger for a relay node from the logging config section.
// Every entry carries service, version and node; node is omitted when empty
// so the logger can be used before the node ID is known.
func New(cfg config.LoggingConfig, version, node string) *Logger {
	return newLogger(outputFor(cfg.Output), cfg, version, node)
}

func newLogger(w io.Writer, cfg config.LoggingConfig, version, node string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	attrs := []slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	}
	if node != "" {
		attrs = append(attrs, slog.String("node", node))
	}
	return &Logger{Logger: slog.New(handler.WithAttrs(attrs))}
}

func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps debug, info, warn(ing) and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged component=name, e.g. "broker",
// "supervisor" or "bridge".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// StdLogger returns a *log.Logger that writes through this logger at level.
// The ZeroMQ transport only accepts *log.Logger; this keeps its output
// structured.
func (l *Logger) StdLogger(level slog.Level) *log.Logger {
	return slog.NewLogLogger(l.Handler(), level)
}

// Default is the startup logger used until the config file is loaded:
// JSON on stdout at info level, without a node.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev", "")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
