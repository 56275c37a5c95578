package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callnet/internal/core/services"
	"callnet/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttrs(span tracesdk.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracingMiddleware(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService("secret", time.Hour)
	router := gin.New()
	router.Use(TracingMiddleware(), AuthMiddleware(auth))
	router.GET("/calls/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	router.POST("/engine/retry", func(c *gin.Context) {
		c.Status(http.StatusServiceUnavailable)
	})

	token, err := auth.GenerateToken("alice", "")
	require.NoError(t, err)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/calls/call-7", nil),
		httptest.NewRequest(http.MethodPost, "/engine/retry", nil),
	} {
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	spans := sr.Ended()
	require.Len(t, spans, 2)

	get := spanAttrs(spans[0])
	assert.Equal(t, "call-7", get[tracing.CallIDKey].AsString())
	assert.Equal(t, "alice", get[tracing.UserIDKey].AsString())
	assert.EqualValues(t, http.StatusNotFound, get["http.status_code"].AsInt64())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	retry := spanAttrs(spans[1])
	_, hasCall := retry[tracing.CallIDKey]
	assert.False(t, hasCall)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
