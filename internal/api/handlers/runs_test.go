package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/stitts-dev/race-sim/pkg/logger"
)

func TestCancelRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRunHandler(context.Background(), nil, nil, logger.Discard())

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	running := uuid.New()
	h.running[running] = cancel

	tests := []struct {
		name string
		id   string
		want int
	}{
		{"running", running.String(), http.StatusAccepted},
		{"already cancelled", running.String(), http.StatusAccepted},
		{"unknown", uuid.NewString(), http.StatusNotFound},
		{"malformed", "nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+tt.id+"/cancel", nil)
			c.Params = gin.Params{{Key: "id", Value: tt.id}}

			h.CancelRun(c)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)
}
