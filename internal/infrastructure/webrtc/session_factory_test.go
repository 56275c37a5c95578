package webrtc

import (
	"errors"
	"testing"
	"time"

	"callnet/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitInit(t *testing.T, f *SessionFactory) error {
	t.Helper()
	done := make(chan error, 1)
	f.Initialize(func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("initialize did not report")
		return nil
	}
}

func TestSessionFactory_NotReady(t *testing.T) {
	f := NewSessionFactory(Config{}, func(Config) (Engine, error) {
		return nil, errors.New("no codecs")
	}, zap.NewNop().Sugar())

	_, err := f.NewSession("call-1")
	assert.ErrorIs(t, err, domain.ErrEngineNotReady)

	assert.EqualError(t, waitInit(t, f), "no codecs")
	assert.False(t, f.Ready())
	_, err = f.NewSession("call-1")
	assert.ErrorIs(t, err, domain.ErrEngineNotReady)
}

func TestSessionFactory_RetryAfterFailure(t *testing.T) {
	attempts := 0
	f := NewSessionFactory(Config{}, func(Config) (Engine, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return &fakeEngine{pc: newFakePeerConnection()}, nil
	}, zap.NewNop().Sugar())

	require.Error(t, waitInit(t, f))
	require.NoError(t, waitInit(t, f))
	assert.True(t, f.Ready())

	session, err := f.NewSession("call-1")
	require.NoError(t, err)
	require.NoError(t, session.Close())

	// already initialized: reported synchronously without rebuilding
	require.NoError(t, waitInit(t, f))
	assert.Equal(t, 2, attempts)
}
