// Package observability provides the service logger and Prometheus metrics.
package observability

import (
	"log/slog"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// NewLogger builds the process logger and installs it as the slog default.
// format is "json" or "text"; level is one of debug, info, warn, error and
// falls back to info.
func NewLogger(level, format string) *slog.Logger {
	logger := sharedobs.NewLogger(level, format).With("service", "accident-risk")
	slog.SetDefault(logger)
	return logger
}
