package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
	"callnet/internal/core/services"
	apperrors "callnet/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	updatesPingInterval = 30 * time.Second
	updatesWriteTimeout = 10 * time.Second
)

// CallController is the part of the call lifecycle controller the API drives.
type CallController interface {
	PlaceCall(ctx context.Context, callee domain.UserID, room domain.RoomID, video bool) (*services.CallUpdate, error)
	Accept(ctx context.Context, id domain.CallID) (*services.CallUpdate, error)
	EndCall(ctx context.Context, id domain.CallID) (*services.CallUpdate, error)
	Get(ctx context.Context, id domain.CallID) (*services.CallUpdate, error)
	Active(ctx context.Context) ([]services.CallUpdate, error)
	ToggleMute(ctx context.Context, id domain.CallID) (*services.CallUpdate, error)
	ToggleSpeaker(ctx context.Context, id domain.CallID) (*services.CallUpdate, error)
	ToggleVideo(ctx context.Context, id domain.CallID) (*services.CallUpdate, error)
	Subscribe() (<-chan services.CallUpdate, func())
}

var _ ports.CallHTTPHandler = (*CallHandler)(nil)

type CallHandler struct {
	calls     CallController
	history   services.HistoryService
	favorites services.FavoritesService
	auth      services.AuthService
	upgrader  websocket.Upgrader
	logger    *zap.SugaredLogger
}

func NewCallHandler(
	calls CallController,
	history services.HistoryService,
	favorites services.FavoritesService,
	auth services.AuthService,
	allowedOrigins []string,
	logger *zap.SugaredLogger,
) *CallHandler {
	h := &CallHandler{
		calls:     calls,
		history:   history,
		favorites: favorites,
		auth:      auth,
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// SetupRoutes registers the API on group, which must already be authenticated.
func (h *CallHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/calls", h.PlaceCall)
	api.GET("/calls", h.ListRecent)
	api.GET("/calls/active", h.ListActive)
	api.GET("/calls/updates", h.StreamUpdates)
	api.GET("/calls/:id", h.GetCall)
	api.POST("/calls/:id/accept", h.AcceptCall)
	api.POST("/calls/:id/end", h.EndCall)
	api.POST("/calls/:id/mute", h.ToggleMute)
	api.POST("/calls/:id/speaker", h.ToggleSpeaker)
	api.POST("/calls/:id/video", h.ToggleVideo)

	api.GET("/favorites", h.ListFavorites)
	api.PUT("/favorites/:id", h.AddFavorite)
	api.DELETE("/favorites/:id", h.RemoveFavorite)
}

func (h *CallHandler) PlaceCall(c *gin.Context) {
	var req struct {
		Callee domain.UserID `json:"callee" binding:"required"`
		RoomID domain.RoomID `json:"roomId"`
		Video  bool          `json:"video"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	call, err := h.calls.PlaceCall(c.Request.Context(), req.Callee, req.RoomID, req.Video)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call": call})
}

func (h *CallHandler) GetCall(c *gin.Context) {
	call, err := h.calls.Get(c.Request.Context(), domain.CallID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (h *CallHandler) ListActive(c *gin.Context) {
	calls, err := h.calls.Active(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

// ListRecent returns the call history of the authenticated user.
func (h *CallHandler) ListRecent(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = c.Error(apperrors.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.history.Recent(c.Request.Context(), user, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": entries})
}

func (h *CallHandler) AcceptCall(c *gin.Context) {
	h.callAction(c, h.calls.Accept)
}

func (h *CallHandler) EndCall(c *gin.Context) {
	h.callAction(c, h.calls.EndCall)
}

func (h *CallHandler) ToggleMute(c *gin.Context) {
	h.callAction(c, h.calls.ToggleMute)
}

func (h *CallHandler) ToggleSpeaker(c *gin.Context) {
	h.callAction(c, h.calls.ToggleSpeaker)
}

func (h *CallHandler) ToggleVideo(c *gin.Context) {
	h.callAction(c, h.calls.ToggleVideo)
}

// StreamUpdates pushes every call update to a WebSocket client as JSON.
func (h *CallHandler) StreamUpdates(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("call update upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.calls.Subscribe()
	defer cancel()

	// the client only sends control frames; a read error means it left
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(updatesPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case update, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "agent stopping"),
					time.Now().Add(updatesWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(updatesWriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				h.logger.Debugw("call update client write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(updatesWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *CallHandler) ListFavorites(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	favs, err := h.favorites.List(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorites": favs})
}

func (h *CallHandler) AddFavorite(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	fav, err := h.favorites.Add(c.Request.Context(), user, domain.CallID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorite": fav})
}

func (h *CallHandler) RemoveFavorite(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if err := h.favorites.Remove(c.Request.Context(), user, domain.CallID(c.Param("id"))); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) callAction(c *gin.Context, action func(context.Context, domain.CallID) (*services.CallUpdate, error)) {
	call, err := action(c.Request.Context(), domain.CallID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (h *CallHandler) user(c *gin.Context) (domain.UserID, bool) {
	user, err := h.auth.GetUserFromContext(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
		return "", false
	}
	return user, true
}

// fail records err for ErrorHandlerMiddleware as an AppError.
func (h *CallHandler) fail(c *gin.Context, err error) {
	_ = c.Error(toAppError(err))
}

func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrCallNotFound):
		return apperrors.NewNotFoundError("call")
	case errors.Is(err, domain.ErrFavoriteNotFound):
		return apperrors.NewNotFoundError("favorite")
	case errors.Is(err, domain.ErrInvalidCall):
		return apperrors.NewInvalidInputError(err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperrors.NewInvalidStateError(err.Error())
	case errors.Is(err, domain.ErrCallExists):
		return apperrors.NewConflictError(err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return apperrors.NewUnauthorizedError(err.Error())
	case errors.Is(err, domain.ErrEngineNotReady),
		errors.Is(err, domain.ErrNotConnected),
		errors.Is(err, services.ErrControllerStopped),
		errors.Is(err, services.ErrSignalingUnavailable):
		return apperrors.NewServiceUnavailableError(err.Error())
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
}
