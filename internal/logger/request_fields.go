package logger

import (
	"context"
	"log/slog"
	"sync"
)

// Access log field names recorded by the session and rate-limit layers.
const (
	FieldUserID          = "user_id"
	FieldEtablissementID = "etablissement_id"
	FieldPinSession      = "pin_session"
	FieldRejection       = "rejection"
	FieldRateLimitPreset = "ratelimit_preset"
)

type requestFieldsKey struct{}

// requestFields collects attributes that handlers deeper in the chain want
// on the request's access log line.
type requestFields struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

// WithRequestFields attaches an empty field collector to ctx.
func WithRequestFields(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestFieldsKey{}, &requestFields{})
}

// AddRequestFields records attrs for the access log. It is a no-op when ctx
// carries no collector, so handlers can call it unconditionally.
func AddRequestFields(ctx context.Context, attrs ...slog.Attr) {
	f, ok := ctx.Value(requestFieldsKey{}).(*requestFields)
	if !ok {
		return
	}
	f.mu.Lock()
	f.attrs = append(f.attrs, attrs...)
	f.mu.Unlock()
}

// RequestFields returns the attributes recorded so far.
func RequestFields(ctx context.Context) []slog.Attr {
	f, ok := ctx.Value(requestFieldsKey{}).(*requestFields)
	if !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]slog.Attr, len(f.attrs))
	copy(out, f.attrs)
	return out
}
