package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dm-service/internal/service"
)

type PresenceHandler struct {
	presenceService *service.PresenceService
}

func NewPresenceHandler(presenceService *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

type OnlineUsersResponse struct {
	UserIDs []uuid.UUID `json:"userIds"`
	Count   int         `json:"count"`
}

type UserStatusResponse struct {
	UserID uuid.UUID `json:"userId"`
	Online bool      `json:"online"`
}

// GetOnlineUsers returns the users currently shown online, including those
// inside their reconnect window.
func (h *PresenceHandler) GetOnlineUsers(c *gin.Context) {
	ids := h.presenceService.OnlineUsers()
	c.JSON(http.StatusOK, OnlineUsersResponse{UserIDs: ids, Count: len(ids)})
}

// GetUserStatus returns a user's online status
func (h *PresenceHandler) GetUserStatus(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "BAD_REQUEST", "message": "Invalid user ID"},
		})
		return
	}

	c.JSON(http.StatusOK, UserStatusResponse{
		UserID: userID,
		Online: h.presenceService.IsOnline(userID),
	})
}
