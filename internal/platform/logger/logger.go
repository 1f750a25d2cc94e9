package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a structured JSON logger on stdout.
func New(level slog.Leveler) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter returns a structured JSON logger on w.
func NewWithWriter(w io.Writer, level slog.Leveler) *slog.Logger {
	if level == nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// NewSelfLog returns the sink's diagnostics logger. It writes to w with a
// component attribute so its lines are distinguishable from application
// logs; write failures are ignored by slog and never reach the sink.
func NewSelfLog(w io.Writer, level slog.Leveler) *slog.Logger {
	return NewWithWriter(w, level).With("component", "issuesink")
}
