// Package logcontext carries slog attributes through a context.Context so
// correlation ids survive across goroutine and handler boundaries.
package logcontext

import (
	"context"
	"log/slog"
)

type ctxKey string

const slogFields ctxKey = "slog_fields"

// ContextHandler decorates a slog.Handler with attributes stored in the
// record's context via AppendCtx.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// AppendCtx returns a context carrying the given attribute in addition to
// any attributes already present.
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if existing, ok := parent.Value(slogFields).([]slog.Attr); ok {
		attrs := make([]slog.Attr, 0, len(existing)+1)
		attrs = append(attrs, existing...)
		attrs = append(attrs, attr)
		return context.WithValue(parent, slogFields, attrs)
	}

	return context.WithValue(parent, slogFields, []slog.Attr{attr})
}

// FromCtx returns the attributes stored in ctx, if any.
func FromCtx(ctx context.Context) []slog.Attr {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		return attrs
	}
	return nil
}
