package testdb

import (
	"io"
	"log/slog"
)

// testLogger returns a logger that discards output, keeping migration
// noise out of test logs.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
