package ports

import "github.com/gin-gonic/gin"

// CallHTTPHandler is the agent's local control API.
type CallHTTPHandler interface {
	PlaceCall(c *gin.Context)
	GetCall(c *gin.Context)
	ListRecent(c *gin.Context)
	AcceptCall(c *gin.Context)
	EndCall(c *gin.Context)
	ToggleMute(c *gin.Context)
	ToggleSpeaker(c *gin.Context)
	ToggleVideo(c *gin.Context)
	StreamUpdates(c *gin.Context)
	ListFavorites(c *gin.Context)
	AddFavorite(c *gin.Context)
	RemoveFavorite(c *gin.Context)
}
