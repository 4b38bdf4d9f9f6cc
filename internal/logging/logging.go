// Package logging builds the structured logger shared by all components.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// New creates a logger writing to w (stderr when nil) in the given format
// ("text" or "json") at the given level ("debug", "info", "warn", "error")
func New(level, format string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return slog.New(handler), nil
}

// ParseLevel maps a level name to a slog.Level
func ParseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// Discard returns a logger that drops everything
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns l, or a discarding logger when l is nil
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// LogFrame logs the outcome of one recognition pass
func LogFrame(ctx context.Context, l *slog.Logger, ordinal uint64, faces int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recognition failed",
			"ordinal", ordinal,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "recognition completed",
		"ordinal", ordinal,
		"faces", faces,
		"duration", elapsed,
	)
}

// LogEnroll logs the outcome of an enrollment batch
func LogEnroll(ctx context.Context, l *slog.Logger, label, embedded, skipped int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "enrollment failed",
			"label", label,
			"error", err,
		)
		return
	}
	if skipped > 0 {
		l.WarnContext(ctx, "enrollment completed with skipped images",
			"label", label,
			"embedded", embedded,
			"skipped", skipped,
		)
		return
	}
	l.InfoContext(ctx, "enrollment completed",
		"label", label,
		"embedded", embedded,
	)
}
