package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"dm-service/internal/database"
)

const (
	serviceName  = "dm-service"
	readyTimeout = 5 * time.Second
)

// Pinger is a dependency the readiness check waits on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name string
	ping func(ctx context.Context) error
}

// HealthHandler serves liveness and readiness. Readiness needs the database
// and, when configured, the presence mirror.
type HealthHandler struct {
	deps []dependency
}

// NewHealthHandler takes a nil mirror when the mirror is disabled.
func NewHealthHandler(db *gorm.DB, mirror Pinger) *HealthHandler {
	deps := []dependency{{
		name: "database",
		ping: func(ctx context.Context) error { return database.Ping(ctx, db) },
	}}
	if mirror != nil {
		deps = append(deps, dependency{name: "presence mirror", ping: mirror.Ping})
	}
	return &HealthHandler{deps: deps}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	for _, dep := range h.deps {
		if err := dep.ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  dep.name + " not reachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
