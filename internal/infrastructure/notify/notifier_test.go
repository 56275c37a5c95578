package notify

import (
	"context"
	"errors"
	"testing"

	"callnet/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core).Sugar())

	require.NoError(t, n.Notify(context.Background(), domain.Notification{
		UserID: "bob",
		Kind:   domain.NotificationIncomingCall,
		Title:  "Incoming call",
		CallID: "c1",
	}))

	entries := logs.FilterMessage("Incoming call").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, "c1", entries[0].ContextMap()["call_id"])
}

func TestMultiNotifier_DeliversToAll(t *testing.T) {
	note := domain.Notification{UserID: "bob", Kind: domain.NotificationMissedCall}

	failing := new(MockNotifier)
	failing.On("Notify", mock.Anything, note).Return(errors.New("push gateway down"))
	ok := new(MockNotifier)
	ok.On("Notify", mock.Anything, note).Return(nil)

	err := NewMultiNotifier(failing, ok).Notify(context.Background(), note)
	assert.EqualError(t, err, "push gateway down")
	failing.AssertExpectations(t)
	ok.AssertExpectations(t)
}
