package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "callnet", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceCallOperation_RecordsAttributesAndErrors(t *testing.T) {
	sr := withRecorder(t)

	ctx, span := TraceCallOperation(context.Background(), "place", "call-1", "room-1")
	AddSpanAttributes(ctx, VideoKey.Bool(true))
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	s := ended[0]
	assert.Equal(t, "call.place", s.Name())
	assert.Equal(t, codes.Error, s.Status().Code)

	attrs := map[string]string{}
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "call-1", attrs["call.id"])
	assert.Equal(t, "room-1", attrs["call.room_id"])
	assert.Equal(t, "true", attrs["call.video"])
}

func TestTraceHelpers_SpanNames(t *testing.T) {
	sr := withRecorder(t)

	_, s1 := TraceSignal(context.Background(), "send", "offer", "room-1")
	s1.End()
	_, s2 := TraceStoreOperation(context.Background(), "create", "calls")
	s2.End()
	_, s3 := TraceHTTPRequest(context.Background(), "GET", "/api/v1/calls")
	s3.End()

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"signal.send", "store.create", "http.GET"}, names)
}
