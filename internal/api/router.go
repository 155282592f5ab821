package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/api/handlers"
	"github.com/stitts-dev/race-sim/internal/services"
	"github.com/stitts-dev/race-sim/internal/store"
	"github.com/stitts-dev/race-sim/internal/websocket"
	"github.com/stitts-dev/race-sim/pkg/cache"
	"github.com/stitts-dev/race-sim/pkg/database"
)

// Dependencies are the services the HTTP surface is built on. DB, Cache,
// Hub and Retention may be nil. Context bounds async simulations and
// defaults to context.Background().
type Dependencies struct {
	Context   context.Context
	DB        *database.DB
	Repo      *store.Repository
	Cache     *cache.ResultCacheService
	Hub       *websocket.Hub
	Service   *services.RaceService
	Retention *services.RetentionService
	Logger    *logrus.Logger
}

// SetupRoutes registers the API, websocket and health routes on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	runs := handlers.NewRunHandler(deps.Context, deps.Service, deps.Repo, deps.Logger)
	health := handlers.NewHealthHandler(deps.DB, deps.Cache, deps.Hub, deps.Retention, deps.Logger)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/runs", runs.ListRuns)
		apiV1.POST("/runs", runs.CreateRun)
		apiV1.GET("/runs/:id", runs.GetRun)
		apiV1.DELETE("/runs/:id", runs.DeleteRun)
		apiV1.POST("/runs/:id/cancel", runs.CancelRun)

		apiV1.POST("/runs/:id/gto", runs.EstimateGTO)
		apiV1.GET("/runs/:id/gto/:site", runs.GetGTO)

		apiV1.POST("/runs/:id/lineups", runs.BuildLineups)
		apiV1.GET("/runs/:id/lineups", runs.ListLineups)
		apiV1.POST("/runs/:id/cash", runs.CashLineups)
	}

	if deps.Hub != nil {
		router.GET("/ws/runs/:id", deps.Hub.HandleWebSocket)
	}

	router.GET("/health", health.GetHealth)
	router.GET("/status", health.GetStatus)
}
