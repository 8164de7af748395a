// Package logging configures the process-wide slog handler and hands out
// component-scoped loggers. Library packages accept *slog.Logger values;
// only the CLI entry points call Init.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the global slog default. Format is "text" or "json";
// anything else falls back to text. A nil writer means os.Stderr.
func Init(level slog.Level, format string, w ...io.Writer) {
	var writer io.Writer = os.Stderr
	if len(w) > 0 && w[0] != nil {
		writer = w[0]
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// New returns a logger tagged with a "component" attribute so log lines can
// be traced back to the pipeline stage that emitted them.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// Discard returns a logger that drops everything. Libraries use it as the
// default when the caller did not supply one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
