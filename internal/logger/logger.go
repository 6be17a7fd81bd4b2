// Package logger builds the process logger on top of log/slog so every
// component logs with the same format and level handling.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Options selects the handler and level.
type Options struct {
	// Level is a slog level name (debug, info, warn, error). Defaults to info.
	Level string
	// Format is "json" or "text". Anything else falls back to json.
	Format string
	// Service and Version are attached to every record when set.
	Service string
	Version string
}

// New returns a logger writing to stdout.
func New(opts Options) *slog.Logger {
	return NewWithWriter(opts, os.Stdout)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(opts Options, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	switch opts.Format {
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With(slog.String("service", opts.Service))
	}
	if opts.Version != "" {
		log = log.With(slog.String("version", opts.Version))
	}
	return log
}

// ParseLevel converts a level name to slog.Level. Defaults to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
