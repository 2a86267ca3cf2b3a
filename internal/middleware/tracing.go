package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"tripbook/internal/monitor"
)

// Tracing opens a server span per request, continuing any trace context
// the caller propagated in the headers. The trace id goes back out in a
// response header so operators can look up a failed request.
func Tracing(tracer *monitor.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.StartHTTPSpan(c.Request.Context(), c.Request.Method, c.FullPath(), c.Request)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		if traceID := tracer.TraceID(ctx); traceID != "" {
			c.Header("X-Trace-ID", traceID)
		}

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if len(c.Errors) > 0 {
			tracer.RecordError(span, errors.New(c.Errors.String()))
		}
	}
}
