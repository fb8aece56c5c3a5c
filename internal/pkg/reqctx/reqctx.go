// Package reqctx carries per-request correlation ids through a context.
package reqctx

import "context"

type metaKey struct{}

type Meta struct {
	RequestID string
	TraceID   string
}

func With(ctx context.Context, m Meta) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, metaKey{}, m)
}

func From(ctx context.Context) (Meta, bool) {
	if ctx == nil {
		return Meta{}, false
	}
	m, ok := ctx.Value(metaKey{}).(Meta)
	return m, ok
}

// LogFields returns request_id/trace_id key-value pairs for structured logs,
// or nil outside a request.
func LogFields(ctx context.Context) []interface{} {
	m, ok := From(ctx)
	if !ok {
		return nil
	}
	var out []interface{}
	if m.RequestID != "" {
		out = append(out, "request_id", m.RequestID)
	}
	if m.TraceID != "" {
		out = append(out, "trace_id", m.TraceID)
	}
	return out
}
