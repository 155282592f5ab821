package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/services"
	"github.com/stitts-dev/race-sim/internal/websocket"
	"github.com/stitts-dev/race-sim/pkg/cache"
	"github.com/stitts-dev/race-sim/pkg/database"
)

type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db        *database.DB
	cache     *cache.ResultCacheService
	hub       *websocket.Hub
	retention *services.RetentionService
	logger    *logrus.Logger
}

func NewHealthHandler(
	db *database.DB,
	resultCache *cache.ResultCacheService,
	hub *websocket.Hub,
	retention *services.RetentionService,
	logger *logrus.Logger,
) *HealthHandler {
	return &HealthHandler{db: db, cache: resultCache, hub: hub, retention: retention, logger: logger}
}

// GetHealth reports 503 when the database is down and 206 when only the
// cache is.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	response := HealthStatus{
		Status:    "ok",
		Service:   "race-sim",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	if h.db != nil {
		if err := h.db.HealthCheck(); err != nil {
			response.Status = "unhealthy"
			response.Checks["database"] = "failed: " + err.Error()
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = "not_configured"
	}

	if h.cache.Enabled() {
		if connected, _ := h.cache.GetStatus(c.Request.Context())["connected"].(bool); connected {
			response.Checks["redis"] = "ok"
		} else {
			response.Checks["redis"] = "unreachable"
			if response.Status == "ok" {
				response.Status = "degraded"
			}
		}
	} else {
		response.Checks["redis"] = "not_configured"
	}

	statusCode := http.StatusOK
	switch response.Status {
	case "unhealthy":
		statusCode = http.StatusServiceUnavailable
	case "degraded":
		statusCode = http.StatusPartialContent
	}
	c.JSON(statusCode, response)
}

// GetStatus returns cache, retention and websocket details.
func (h *HealthHandler) GetStatus(c *gin.Context) {
	status := gin.H{
		"cache":     h.cache.GetStatus(c.Request.Context()),
		"timestamp": time.Now(),
	}
	if h.retention != nil {
		status["retention"] = h.retention.GetStatus()
	}
	if h.hub != nil {
		status["websocket_connections"] = h.hub.GetConnectionCount()
	}
	c.JSON(http.StatusOK, status)
}
