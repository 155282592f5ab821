package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/lineup"
	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/services"
	"github.com/stitts-dev/race-sim/internal/store"
)

// RunHandler serves simulation runs and the GTO and lineup steps built on
// them.
type RunHandler struct {
	service *services.RaceService
	repo    *store.Repository
	logger  *logrus.Logger

	// ctx bounds async runs; cancelling it stops every one of them.
	ctx     context.Context
	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

func NewRunHandler(ctx context.Context, service *services.RaceService, repo *store.Repository, logger *logrus.Logger) *RunHandler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RunHandler{
		service: service,
		repo:    repo,
		logger:  logger,
		ctx:     ctx,
		running: make(map[uuid.UUID]context.CancelFunc),
	}
}

func (h *RunHandler) startAsync(req services.SimulateRequest) {
	ctx, cancel := context.WithCancel(h.ctx)
	h.mu.Lock()
	h.running[req.RunID] = cancel
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.running, req.RunID)
			h.mu.Unlock()
			cancel()
		}()
		if _, _, err := h.service.Simulate(ctx, req); err != nil {
			h.logger.WithError(err).WithField("run_id", req.RunID).Error("Async simulation failed")
		}
	}()
}

type SimulateRequest struct {
	Input      *profile.RaceInput `json:"input" binding:"required"`
	Iterations int                `json:"iterations"`
	Seed       uint64             `json:"seed"`
	ExtraSites []string           `json:"extra_sites"`
	// Async returns 202 immediately; progress is streamed on /ws/runs/:id.
	Async bool `json:"async"`
}

// CreateRun handles POST /api/v1/runs.
func (h *RunHandler) CreateRun(c *gin.Context) {
	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err)
		return
	}
	sreq := services.SimulateRequest{
		Input:      req.Input,
		Iterations: req.Iterations,
		Seed:       req.Seed,
		ExtraSites: req.ExtraSites,
		RunID:      uuid.New(),
	}

	if req.Async {
		// Reject bad input synchronously so the caller never waits on a
		// run that cannot start.
		if _, err := profile.NewStore(req.Input); err != nil {
			respondError(c, h.logger, err)
			return
		}
		h.startAsync(sreq)
		c.JSON(http.StatusAccepted, services.RunSummary{
			Status:  "running",
			Message: "simulation started",
			RunID:   sreq.RunID.String(),
		})
		return
	}

	_, summary, err := h.service.Simulate(c.Request.Context(), sreq)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, summary)
}

// CancelRun handles POST /api/v1/runs/:id/cancel. Only async runs still in
// progress can be cancelled; the cancelled run is not stored.
func (h *RunHandler) CancelRun(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	h.mu.Lock()
	cancel, running := h.running[id]
	h.mu.Unlock()
	if !running {
		respondError(c, h.logger, fmt.Errorf("no running simulation %s: %w", id, store.ErrNotFound))
		return
	}
	cancel()
	h.logger.WithField("run_id", id).Info("Async simulation cancelled")
	c.JSON(http.StatusAccepted, services.RunSummary{
		Status:  "cancelling",
		Message: "simulation cancellation requested",
		RunID:   id.String(),
	})
}

// ListRuns handles GET /api/v1/runs.
func (h *RunHandler) ListRuns(c *gin.Context) {
	runs, err := h.repo.ListRuns(c.Request.Context(), limitQuery(c, 50))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "runs", Data: runs})
}

// GetRun handles GET /api/v1/runs/:id.
func (h *RunHandler) GetRun(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	sim, err := h.service.Load(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sim.Run)
}

type GTORequest struct {
	Site string `json:"site"`
}

// EstimateGTO handles POST /api/v1/runs/:id/gto.
func (h *RunHandler) EstimateGTO(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	var req GTORequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "INVALID_REQUEST", err)
			return
		}
	}
	sim, err := h.service.Load(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	res, summary, err := h.service.EstimateGTO(c.Request.Context(), sim, req.Site)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "result": res})
}

// GetGTO handles GET /api/v1/runs/:id/gto/:site.
func (h *RunHandler) GetGTO(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	res, err := h.service.GetGTO(c.Request.Context(), id, c.Param("site"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type BuildRequest struct {
	Site string `json:"site"`
	lineup.BuildConfig
}

// BuildLineups handles POST /api/v1/runs/:id/lineups. Exhausted or
// infeasible builds still return 200 with a warning in the summary.
func (h *RunHandler) BuildLineups(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	var req BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err)
		return
	}
	sim, err := h.service.Load(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	res, summary, err := h.service.BuildLineups(c.Request.Context(), sim, req.Site, req.BuildConfig)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "skipped": res.Skipped, "lineups": res.Candidates, "exposure": res.Exposure})
}

// ListLineups handles GET /api/v1/runs/:id/lineups?site=&limit=.
func (h *RunHandler) ListLineups(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	cands, err := h.repo.ListLineups(c.Request.Context(), id, c.Query("site"), limitQuery(c, 0))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "lineups", Data: cands})
}

// CashLineups handles POST /api/v1/runs/:id/cash.
func (h *RunHandler) CashLineups(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	var req services.CashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err)
		return
	}
	sim, err := h.service.Load(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	kept, err := h.service.Cash(c.Request.Context(), sim, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "lineups above the win-rate threshold", Data: kept})
}

// DeleteRun handles DELETE /api/v1/runs/:id.
func (h *RunHandler) DeleteRun(c *gin.Context) {
	id, ok := runIDParam(c)
	if !ok {
		return
	}
	if err := h.service.DeleteRun(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
