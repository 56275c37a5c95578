package middleware

import (
	"time"

	"callnet/pkg/logger"
	"callnet/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

const RequestIDHeader = "X-Request-ID"

// RequestLoggingMiddleware logs every request with the trace, user and call it concerns.
func RequestLoggingMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		ctx := c.Request.Context()
		user, _ := UserID(c)
		ctx = logger.WithValues(ctx, string(user), c.Param("id"), "")
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		cl.LogRequest(ctx, requestID, c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
