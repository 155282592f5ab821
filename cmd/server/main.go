package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/api"
	"github.com/stitts-dev/race-sim/internal/api/middleware"
	"github.com/stitts-dev/race-sim/internal/optimizer"
	"github.com/stitts-dev/race-sim/internal/scoring"
	"github.com/stitts-dev/race-sim/internal/services"
	"github.com/stitts-dev/race-sim/internal/store"
	"github.com/stitts-dev/race-sim/internal/websocket"
	"github.com/stitts-dev/race-sim/pkg/cache"
	"github.com/stitts-dev/race-sim/pkg/config"
	"github.com/stitts-dev/race-sim/pkg/database"
	"github.com/stitts-dev/race-sim/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	structuredLogger := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	log := logger.WithService("race-sim")
	log.WithFields(logrus.Fields{
		"environment": cfg.Env,
		"port":        cfg.Port,
	}).Info("Starting race simulation service")

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewRaceSimConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := store.NewRepository(db, logger.WithComponent("store"))
	if err := repo.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Redis is optional: without it results are served from the database.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).Warn("Redis unavailable, result cache will stay degraded until it recovers")
		}
	}
	resultCache := cache.NewResultCacheService(redisClient, cfg.ResultCacheTTL, cfg.CircuitBreakerThreshold, structuredLogger)
	defer resultCache.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	wsHub := websocket.NewHub(structuredLogger, cfg.ProgressRate)
	go wsHub.Run(ctx)

	raceService := services.NewRaceService(
		repo,
		resultCache,
		wsHub,
		scoring.NewRegistry(),
		optimizer.NewBranchAndBound(logger.WithComponent("optimizer")),
		cfg,
		structuredLogger,
	)

	retention := services.NewRetentionService(repo, resultCache, structuredLogger, cfg.RetentionSchedule, cfg.RunRetention)
	if err := retention.Start(); err != nil {
		log.WithError(err).Error("Failed to start retention service")
	}
	defer retention.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CorsOrigins))

	api.SetupRoutes(router, api.Dependencies{
		Context:   ctx,
		DB:        db,
		Repo:      repo,
		Cache:     resultCache,
		Hub:       wsHub,
		Service:   raceService,
		Retention: retention,
		Logger:    structuredLogger,
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Race simulation service started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down race simulation service...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Info("Race simulation service exited")
}
