package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/usd-asset-library/backend/internal/pkg/reqctx"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderTraceID   = "X-Trace-Id"
)

// RequestContext stamps every request with a request id (client-supplied or
// generated) and the active otel trace id, and echoes both as headers.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta := reqctx.Meta{RequestID: strings.TrimSpace(c.GetHeader(HeaderRequestID))}
		if meta.RequestID == "" {
			meta.RequestID = uuid.NewString()
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			meta.TraceID = sc.TraceID().String()
		}

		c.Request = c.Request.WithContext(reqctx.With(c.Request.Context(), meta))
		c.Header(HeaderRequestID, meta.RequestID)
		if meta.TraceID != "" {
			c.Header(HeaderTraceID, meta.TraceID)
		}
		c.Next()
	}
}
