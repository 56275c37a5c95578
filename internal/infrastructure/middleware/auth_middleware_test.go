package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callnet/internal/core/domain"
	"callnet/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(auth services.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(auth), OwnerMiddleware("alice"))
	router.GET("/me", func(c *gin.Context) {
		fromGin, _ := UserID(c)
		fromCtx, err := auth.GetUserFromContext(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"gin": fromGin, "ctx": fromCtx})
	})
	return router
}

func TestAuthMiddleware(t *testing.T) {
	auth := services.NewAuthService("secret", time.Hour)
	router := newAuthRouter(auth)

	alice, err := auth.GenerateToken("alice", "")
	require.NoError(t, err)
	bob, err := auth.GenerateToken("bob", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "malformed header", header: "Token " + alice, want: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "other user", header: "Bearer " + bob, want: http.StatusForbidden},
		{name: "owner header", header: "Bearer " + alice, want: http.StatusOK},
		{name: "owner query", query: "?token=" + alice, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"gin":"alice","ctx":"alice"}`, w.Body.String())
			}
		})
	}
}

func TestUserID_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := UserID(c)
	assert.False(t, ok)

	c.Set(ContextUserID, domain.UserID("carol"))
	user, ok := UserID(c)
	assert.True(t, ok)
	assert.Equal(t, domain.UserID("carol"), user)
}
