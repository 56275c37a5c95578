package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
	"callnet/internal/core/services"
	"callnet/internal/infrastructure/middleware"
	"callnet/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockCallController struct {
	mock.Mock
}

func (m *MockCallController) result(args mock.Arguments) (*services.CallUpdate, error) {
	call, _ := args.Get(0).(*services.CallUpdate)
	return call, args.Error(1)
}

func (m *MockCallController) PlaceCall(ctx context.Context, callee domain.UserID, room domain.RoomID, video bool) (*services.CallUpdate, error) {
	return m.result(m.Called(ctx, callee, room, video))
}

func (m *MockCallController) Accept(ctx context.Context, id domain.CallID) (*services.CallUpdate, error) {
	return m.result(m.Called(ctx, id))
}

func (m *MockCallController) EndCall(ctx context.Context, id domain.CallID) (*services.CallUpdate, error) {
	return m.result(m.Called(ctx, id))
}

func (m *MockCallController) Get(ctx context.Context, id domain.CallID) (*services.CallUpdate, error) {
	return m.result(m.Called(ctx, id))
}

func (m *MockCallController) Active(ctx context.Context) ([]services.CallUpdate, error) {
	args := m.Called(ctx)
	calls, _ := args.Get(0).([]services.CallUpdate)
	return calls, args.Error(1)
}

func (m *MockCallController) ToggleMute(ctx context.Context, id domain.CallID) (*services.CallUpdate, error) {
	return m.result(m.Called(ctx, id))
}

func (m *MockCallController) ToggleSpeaker(ctx context.Context, id domain.CallID) (*services.CallUpdate, error) {
	return m.result(m.Called(ctx, id))
}

func (m *MockCallController) ToggleVideo(ctx context.Context, id domain.CallID) (*services.CallUpdate, error) {
	return m.result(m.Called(ctx, id))
}

func (m *MockCallController) Subscribe() (<-chan services.CallUpdate, func()) {
	args := m.Called()
	return args.Get(0).(<-chan services.CallUpdate), args.Get(1).(func())
}

type testAPI struct {
	router *gin.Engine
	ctrl   *MockCallController
	calls  ports.CallRepository
	token  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop().Sugar()
	auth := services.NewAuthService("secret", time.Hour)
	token, err := auth.GenerateToken("alice", "Alice")
	require.NoError(t, err)

	calls := memory.NewMemoryCallRepository()
	favs := memory.NewMemoryFavoriteRepository()
	ctrl := new(MockCallController)

	handler := NewCallHandler(ctrl,
		services.NewHistoryService(calls, favs, 0, logger),
		services.NewFavoritesService(calls, favs, logger),
		auth, nil, logger)

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger), middleware.ErrorHandlerMiddleware(logger))
	api := router.Group("/api/v1", middleware.AuthMiddleware(auth), middleware.OwnerMiddleware("alice"))
	handler.SetupRoutes(api)

	return &testAPI{router: router, ctrl: ctrl, calls: calls, token: token}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func sampleUpdate(status domain.CallStatus) *services.CallUpdate {
	return &services.CallUpdate{
		Call: domain.Call{
			ID:       "call-1",
			CallerID: "alice",
			CalleeID: "bob",
			RoomID:   "room-1",
			Status:   status,
		},
		Name:    domain.DisplayNameOutgoing,
		Speaker: true,
	}
}

func TestCallHandler_PlaceCall(t *testing.T) {
	api := newTestAPI(t)
	api.ctrl.On("PlaceCall", mock.Anything, domain.UserID("bob"), domain.RoomID(""), true).
		Return(sampleUpdate(domain.CallStatusOngoing), nil)

	w := api.do(http.MethodPost, "/api/v1/calls", `{"callee":"bob","video":true}`)
	require.Equal(t, http.StatusCreated, w.Code)

	call := decode(t, w)["call"].(map[string]interface{})
	assert.Equal(t, "call-1", call["id"])
	assert.Equal(t, "ONGOING", call["status"])
	assert.Equal(t, "Outgoing Call", call["name"])
	assert.Equal(t, true, call["speaker"])
	api.ctrl.AssertExpectations(t)
}

func TestCallHandler_PlaceCallValidation(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/calls", `{"video":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])
	api.ctrl.AssertNotCalled(t, "PlaceCall", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCallHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrCallNotFound, http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("%w: call is ENDED", domain.ErrInvalidTransition), http.StatusConflict, "INVALID_CALL_STATE"},
		{fmt.Errorf("%w: not a video call", domain.ErrInvalidCall), http.StatusBadRequest, "INVALID_INPUT"},
		{domain.ErrEngineNotReady, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{fmt.Errorf("%w: dial tcp: refused", services.ErrSignalingUnavailable), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			api := newTestAPI(t)
			api.ctrl.On("Accept", mock.Anything, domain.CallID("call-1")).Return(nil, tt.err)

			w := api.do(http.MethodPost, "/api/v1/calls/call-1/accept", "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["error"])
		})
	}
}

func TestCallHandler_CallActions(t *testing.T) {
	api := newTestAPI(t)
	ended := sampleUpdate(domain.CallStatusEnded)
	muted := sampleUpdate(domain.CallStatusOngoing)
	muted.Muted = true

	api.ctrl.On("Get", mock.Anything, domain.CallID("call-1")).Return(sampleUpdate(domain.CallStatusOngoing), nil)
	api.ctrl.On("ToggleMute", mock.Anything, domain.CallID("call-1")).Return(muted, nil)
	api.ctrl.On("ToggleSpeaker", mock.Anything, domain.CallID("call-1")).Return(muted, nil)
	api.ctrl.On("ToggleVideo", mock.Anything, domain.CallID("call-1")).Return(muted, nil)
	api.ctrl.On("EndCall", mock.Anything, domain.CallID("call-1")).Return(ended, nil)
	api.ctrl.On("Active", mock.Anything).Return([]services.CallUpdate{*muted}, nil)

	w := api.do(http.MethodGet, "/api/v1/calls/call-1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	for _, action := range []string{"mute", "speaker", "video"} {
		w = api.do(http.MethodPost, "/api/v1/calls/call-1/"+action, "")
		require.Equal(t, http.StatusOK, w.Code, action)
		assert.Equal(t, true, decode(t, w)["call"].(map[string]interface{})["muted"])
	}

	w = api.do(http.MethodGet, "/api/v1/calls/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["calls"], 1)

	w = api.do(http.MethodPost, "/api/v1/calls/call-1/end", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ENDED", decode(t, w)["call"].(map[string]interface{})["status"])

	api.ctrl.AssertExpectations(t)
}

func TestCallHandler_HistoryAndFavorites(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, api.calls.Create(ctx, &domain.Call{
		ID: "c1", CallerID: "bob", CalleeID: "alice", RoomID: "room-1",
		Timestamp: base, Duration: 75, Status: domain.CallStatusEnded,
	}))
	require.NoError(t, api.calls.Create(ctx, &domain.Call{
		ID: "c2", CallerID: "alice", CalleeID: "carol", RoomID: "room-2",
		Timestamp: base.Add(time.Minute), Status: domain.CallStatusEnded,
	}))

	w := api.do(http.MethodPut, "/api/v1/favorites/c1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/api/v1/calls", "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["calls"].([]interface{})
	require.Len(t, entries, 2)

	newest := entries[0].(map[string]interface{})
	assert.Equal(t, "Outgoing Call", newest["displayName"])
	assert.Equal(t, false, newest["favorite"])
	oldest := entries[1].(map[string]interface{})
	assert.Equal(t, "Incoming Call", oldest["displayName"])
	assert.Equal(t, "1:15", oldest["durationText"])
	assert.Equal(t, true, oldest["favorite"])

	w = api.do(http.MethodGet, "/api/v1/calls?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["calls"], 1)

	w = api.do(http.MethodGet, "/api/v1/calls?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/api/v1/favorites", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["favorites"], 1)

	w = api.do(http.MethodDelete, "/api/v1/favorites/c1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodPut, "/api/v1/favorites/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallHandler_RequiresOwnerToken(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCallHandler_StreamUpdates(t *testing.T) {
	api := newTestAPI(t)

	updates := make(chan services.CallUpdate, 2)
	cancelled := make(chan struct{})
	api.ctrl.On("Subscribe").Return((<-chan services.CallUpdate)(updates), func() { close(cancelled) })

	srv := httptest.NewServer(api.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/calls/updates?token=" + api.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	updates <- *sampleUpdate(domain.CallStatusIncoming)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got services.CallUpdate
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, domain.CallID("call-1"), got.ID)
	assert.Equal(t, domain.CallStatusIncoming, got.Status)
	assert.Equal(t, domain.DisplayNameOutgoing, got.Name)

	require.NoError(t, conn.Close())
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not cancelled after client left")
	}
}
