package logger

import (
	"context"
	"io"
	"log/slog"
)

const ansiReset = "\033[0m"

// ANSI tint per level for the tag prepended to the message.
var levelTints = map[slog.Level]string{
	slog.LevelDebug: "\033[36m",
	slog.LevelInfo:  "\033[32m",
	slog.LevelWarn:  "\033[33m",
	slog.LevelError: "\033[31m",
}

// TintHandler prefixes each record's message with a colored level tag and
// delegates the rest to a text handler. Meant for interactive daemon output;
// file and pipe output should use the plain text handler.
type TintHandler struct {
	inner slog.Handler
}

func NewTintHandler(w io.Writer, opts *slog.HandlerOptions) *TintHandler {
	return &TintHandler{inner: slog.NewTextHandler(w, opts)}
}

func (h *TintHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TintHandler) Handle(ctx context.Context, r slog.Record) error {
	tint, ok := levelTints[r.Level]
	if !ok {
		tint = ansiReset
	}
	r.Message = tint + r.Level.String() + ansiReset + "  " + r.Message
	return h.inner.Handle(ctx, r)
}

func (h *TintHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TintHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *TintHandler) WithGroup(name string) slog.Handler {
	return &TintHandler{inner: h.inner.WithGroup(name)}
}
