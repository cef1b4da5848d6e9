package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. Batch runs log through
// this; swap in a handler with sampling if volume ever warrants it.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
