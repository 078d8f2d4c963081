package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"dm-service/internal/handler"
	"dm-service/internal/metrics"
	"dm-service/internal/middleware"
	"dm-service/internal/websocket"
)

// Config holds the dependencies the HTTP surface is built from.
type Config struct {
	BasePath       string
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	// Validator guards the REST routes. Nil disables authentication.
	Validator middleware.TokenValidator

	Health    *handler.HealthHandler
	Presence  *handler.PresenceHandler
	WebSocket *websocket.Handler
}

func Setup(cfg Config) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	// Health endpoints (no auth)
	r.GET("/health", cfg.Health.Health)
	r.GET("/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		r.GET("/metrics", middleware.MetricsHandler(cfg.Gatherer))
	}

	api := r.Group(cfg.BasePath)
	{
		api.GET("/health", cfg.Health.Health)
		api.GET("/ready", cfg.Health.Ready)

		// the upgrade checks its own token so browsers can pass ?token=
		api.GET("/ws", cfg.WebSocket.HandleWebSocket)

		authenticated := api.Group("")
		authenticated.Use(middleware.AuthMiddleware(cfg.Validator))
		{
			authenticated.GET("/presence/online", cfg.Presence.GetOnlineUsers)
			authenticated.GET("/presence/status/:userId", cfg.Presence.GetUserStatus)
		}
	}

	return r
}
