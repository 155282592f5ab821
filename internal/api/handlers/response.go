package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/scoring"
	"github.com/stitts-dev/race-sim/internal/services"
	"github.com/stitts-dev/race-sim/internal/store"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func badRequest(c *gin.Context, code string, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: "Invalid request",
		Code:  code,
		Details: map[string]string{
			"validation_error": err.Error(),
		},
	})
}

// respondError maps service errors onto status codes.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		profileErr *profile.ConfigurationError
		scoringErr *scoring.ConfigurationError
	)
	switch {
	case errors.As(err, &profileErr), errors.As(err, &scoringErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid configuration",
			Code:    "CONFIGURATION_ERROR",
			Details: map[string]string{"error": err.Error()},
		})
	case errors.Is(err, services.ErrInvalidRequest):
		badRequest(c, "INVALID_REQUEST", err)
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	default:
		logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Internal error",
			Code:    "INTERNAL_ERROR",
			Details: map[string]string{"error": err.Error()},
		})
	}
}

func runIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "INVALID_RUN_ID", err)
		return uuid.Nil, false
	}
	return id, true
}

func limitQuery(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || n < 0 {
		return def
	}
	return n
}
