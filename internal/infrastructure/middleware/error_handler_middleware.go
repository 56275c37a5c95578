package middleware

import (
	"net/http"

	"callnet/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last handler error as the JSON error body.
// Client errors are logged at warn level, everything else at error level.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := errors.GetAppError(err)
		if appErr == nil {
			logger.Errorw("unhandled error", append(requestFields(c), "error", err.Error())...)
			if !c.Writer.Written() {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
			return
		}

		fields := append(requestFields(c),
			"code", appErr.Code,
			"message", appErr.Message,
			"status", appErr.HTTPStatus,
			"context", appErr.Context,
		)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed", fields...)
		} else {
			logger.Warnw("request rejected", fields...)
		}

		if !c.Writer.Written() {
			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
		}
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered", append(requestFields(c), "error", err)...)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}

// requestFields names the request and, when known, the user and call it concerns.
func requestFields(c *gin.Context) []interface{} {
	fields := []interface{}{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	}
	if user, ok := UserID(c); ok {
		fields = append(fields, "user_id", string(user))
	}
	if id := c.Param("id"); id != "" {
		fields = append(fields, "call_id", id)
	}
	return fields
}
