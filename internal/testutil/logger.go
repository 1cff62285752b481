package testutil

import (
	"io"
	"log/slog"
)

// NopLogger returns a logger that discards all output. Suite tests pass
// it to every component constructor so logs never interleave with test
// output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
