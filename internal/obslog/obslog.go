// Package obslog wires log/slog the way pkg/observability wires
// OpenTelemetry: a small Config and a constructor for component-scoped
// loggers.
package obslog

import (
	"log/slog"
	"os"
)

// Config controls the shape of the process-wide logger.
type Config struct {
	Level     slog.Level
	AddSource bool
	JSON      bool
}

// New builds a component-scoped logger. cmd/openagentsd builds its logger
// with this function and passes it to the constructors that take a
// *slog.Logger (otelinit.New, archival.NewMirror, liquidity.NewNostrMirror);
// those fall back to slog.Default() when given nil.
func New(cfg Config, component string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler).With("component", component)
}

// Discard returns a logger that drops everything, for use in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
