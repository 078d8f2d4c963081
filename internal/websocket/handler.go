package websocket

import (
	"net/http"

	"dm-service/internal/middleware"
	"dm-service/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades HTTP requests into dispatcher-backed connections.
type Handler struct {
	hub        *Hub
	dispatcher *Dispatcher
	validator  middleware.TokenValidator
	upgrader   websocket.Upgrader
	opts       Options
	logger     *zap.Logger
}

// NewHandler builds the upgrade handler. A nil validator trusts the
// identity each connection announces.
func NewHandler(hub *Hub, dispatcher *Dispatcher, validator middleware.TokenValidator, allowedOrigins []string, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		validator:  validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	authUserID := uuid.Nil
	if h.validator != nil {
		token, err := middleware.TokenFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
			return
		}
		authUserID, err = h.validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	session := NewSession(presence.ConnID(uuid.NewString()), c.ClientIP(), authUserID)
	client := newClient(conn, h.hub, h.dispatcher, session, h.opts, h.logger)
	h.hub.Register(client)

	h.logger.Info("WebSocket connected",
		zap.String("conn", string(session.Conn)),
		zap.String("remoteIp", session.RemoteIP))

	go client.writePump()
	go client.readPump()
}
