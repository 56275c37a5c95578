package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	l := New("debug")
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l = New("not-a-level")
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))

	l = New("warn", "console")
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestContextLogger_AddsCallFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithValues(context.Background(), "alice", "call-1", "room-1")
	cl.LogInfo(ctx, "call placed")
	cl.LogError(ctx, errors.New("boom"), "call failed")

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, "call-1", fields["call_id"])
	assert.Equal(t, "room-1", fields["room_id"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestContextLogger_EmptyContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	cl.LogWarn(context.Background(), "no ids")
	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}
