package middleware

import (
	"net/http"
	"time"

	"callnet/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens a server span per request. The span carries the
// authenticated user and the call id of /calls/:id routes.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.remote_addr", c.ClientIP()),
		)
		if id := c.Param("id"); id != "" {
			span.SetAttributes(tracing.CallIDKey.String(id))
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		// set by the auth middleware further down the chain
		if user, ok := UserID(c); ok {
			span.SetAttributes(tracing.UserIDKey.String(string(user)))
		}
		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("http.response_size", int64(c.Writer.Size())),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
		)
		for _, e := range c.Errors {
			span.RecordError(e.Err)
		}

		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
