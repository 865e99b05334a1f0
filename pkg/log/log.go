// Package log configures the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
)

// Setup installs a text handler writing to stderr on the default logger.
// Unknown level names fall back to info.
func Setup(level string) {
	parsed := slog.LevelInfo
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		parsed = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parsed,
	})))
}

// WithModule tags the default logger with the owning module so log lines
// can be traced back to the component that wrote them.
func WithModule(name string) *slog.Logger {
	return slog.With("module", name)
}
