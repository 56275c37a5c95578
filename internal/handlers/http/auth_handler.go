package http

import (
	"net/http"
	"strings"
	"time"

	"callnet/internal/core/domain"
	"callnet/internal/core/services"
	"callnet/pkg/errors"
	"callnet/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues identity tokens for development deployments that have no
// external identity provider. Production signal servers leave it unmounted.
type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
		api.GET("/whoami", h.WhoAmI)
	}
}

type TokenRequest struct {
	UserID   string `json:"userId" binding:"required,max=128"`
	Username string `json:"username" binding:"max=50"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.Username = strings.TrimSpace(req.Username)
	if err := validation.ValidateUserID(req.UserID); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if req.Username == "" {
		req.Username = req.UserID
	}

	token, err := h.authService.GenerateToken(domain.UserID(req.UserID), req.Username)
	if err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id":      req.UserID,
		"username":     req.Username,
		"access_token": token,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}

// WhoAmI reports the claims of the bearer token.
func (h *AuthHandler) WhoAmI(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		_ = c.Error(errors.NewUnauthorizedError("authorization header required"))
		return
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		_ = c.Error(errors.NewUnauthorizedError(err.Error()))
		return
	}

	resp := gin.H{
		"user_id":  claims.UserID,
		"username": claims.Username,
	}
	if claims.ExpiresAt != nil {
		resp["expires_at"] = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, resp)
}
