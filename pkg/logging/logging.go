// Package logging provides the default structured logger for VeilDB
// binaries and tests. Library code takes a *slog.Logger and never assumes
// this handler.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a tinted stderr logger at the given level.
func New(level slog.Level) *slog.Logger {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		AddSource:  true,
	})

	return slog.New(handler)
}

// Default returns an Info-level tinted stderr logger.
func Default() *slog.Logger {
	return New(slog.LevelInfo)
}
