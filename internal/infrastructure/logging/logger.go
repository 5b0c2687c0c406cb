package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pbrresearch/datalogger/internal/infrastructure/config"
)

// Logger is the structured logger used throughout the Datalogger. It
// embeds slog.Logger, so the usual Debug/Info/Warn/Error methods are
// available directly; every line carries the service name and build
// version as default fields.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of config.yaml.
//
// Format selects the handler (JSON by default, "text" for development),
// Level the minimum severity, and Output the destination ("stderr" or
// the default stdout).
func New(cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		h = slog.NewTextHandler(destination(cfg.Output), opts)
	} else {
		h = slog.NewJSONHandler(destination(cfg.Output), opts)
	}

	h = h.WithAttrs([]slog.Attr{
		slog.String("service", "datalogger"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(h)}
}

// destination maps a configured output name to its writer.
func destination(name string) io.Writer {
	if strings.ToLower(name) == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel converts a configured level name to a slog.Level.
// Unrecognised names fall back to info rather than failing startup.
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

// Component returns a child logger tagged with the pipeline stage it
// logs for, so lines from the coordinator, the MQTT client, and the
// status API can be told apart in aggregated output.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", name))}
}

// Default is the bootstrap logger used before configuration is loaded:
// info level, JSON, stdout, matching the config defaults so early
// output interleaves cleanly with configured output.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
