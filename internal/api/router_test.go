package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/race-sim/internal/api/middleware"
	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/services"
	"github.com/stitts-dev/race-sim/internal/store"
	"github.com/stitts-dev/race-sim/pkg/config"
	"github.com/stitts-dev/race-sim/pkg/database"
	"github.com/stitts-dev/race-sim/pkg/logger"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newRouterWithContext(t, context.Background())
}

func newRouterWithContext(t *testing.T, ctx context.Context) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Discard()

	db, err := database.NewRaceSimConnection("file::memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := store.NewRepository(db, logrus.NewEntry(log))
	require.NoError(t, repo.Migrate())

	cfg := &config.Config{
		DefaultIterations: 20, MaxIterations: 200, SimulationWorkers: 2,
		MaxLineups: 10, RandomBuildAttempts: 5000, GTOLineupsPerIteration: 1,
	}
	svc := services.NewRaceService(repo, nil, nil, nil, nil, cfg, log)

	router := gin.New()
	router.Use(middleware.CORS([]string{"http://localhost:5173"}))
	SetupRoutes(router, Dependencies{Context: ctx, DB: db, Repo: repo, Service: svc, Logger: log})
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createRun(t *testing.T, router *gin.Engine, in *profile.RaceInput) string {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/v1/runs", gin.H{"input": in, "iterations": 25, "seed": 7})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var summary services.RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, services.StatusCompleted, summary.Status)
	return summary.RunID
}

func TestRunLifecycle(t *testing.T) {
	router := newRouter(t)
	id := createRun(t, router, profile.SampleNascar(20))

	w := do(t, router, http.MethodGet, "/api/v1/runs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run struct {
		Iterations  int               `json:"iterations"`
		Competitors []json.RawMessage `json:"competitors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, 25, run.Iterations)
	assert.Len(t, run.Competitors, 20)

	w = do(t, router, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = do(t, router, http.MethodPost, "/api/v1/runs/"+id+"/gto", gin.H{"site": "draftkings"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, router, http.MethodGet, "/api/v1/runs/"+id+"/gto/draftkings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"iterations":25`)

	w = do(t, router, http.MethodPost, "/api/v1/runs/"+id+"/lineups", gin.H{"total_lineups": 4, "seed": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/v1/runs/"+id+"/lineups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed.Data, 4)

	w = do(t, router, http.MethodPost, "/api/v1/runs/"+id+"/cash", gin.H{"field": [][]string{{"d15", "d16", "d17", "d18", "d19", "d20"}}})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodDelete, "/api/v1/runs/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, router, http.MethodGet, "/api/v1/runs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	router := newRouter(t)
	id := createRun(t, router, profile.SampleNascar(12))

	badProfile := profile.SampleNascar(12)
	badProfile.Profiles.LapsLed = nil

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
		code   string
	}{
		{"malformed body", http.MethodPost, "/api/v1/runs", gin.H{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"invalid profile", http.MethodPost, "/api/v1/runs", gin.H{"input": badProfile}, http.StatusBadRequest, "CONFIGURATION_ERROR"},
		{"unknown site", http.MethodPost, "/api/v1/runs", gin.H{"input": profile.SampleNascar(12), "extra_sites": []string{"fanduel"}}, http.StatusBadRequest, "CONFIGURATION_ERROR"},
		{"too many iterations", http.MethodPost, "/api/v1/runs", gin.H{"input": profile.SampleNascar(12), "iterations": 1000}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad run id", http.MethodGet, "/api/v1/runs/nope", nil, http.StatusBadRequest, "INVALID_RUN_ID"},
		{"unknown run", http.MethodGet, "/api/v1/runs/" + uuid.NewString(), nil, http.StatusNotFound, "NOT_FOUND"},
		{"gto not estimated", http.MethodGet, "/api/v1/runs/" + id + "/gto/draftkings", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad percentile", http.MethodPost, "/api/v1/runs/" + id + "/lineups", gin.H{"total_lineups": 2, "clean_by_percentile": 60}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"cancel unknown run", http.MethodPost, "/api/v1/runs/" + uuid.NewString() + "/cancel", nil, http.StatusNotFound, "NOT_FOUND"},
		{"cancel bad run id", http.MethodPost, "/api/v1/runs/nope/cancel", nil, http.StatusBadRequest, "INVALID_RUN_ID"},
		{"empty cash field", http.MethodPost, "/api/v1/runs/" + id + "/cash", gin.H{"field": [][]string{}}, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

func TestAsyncRunFollowsServerContext(t *testing.T) {
	tests := []struct {
		name   string
		cancel bool
	}{
		{name: "running server"},
		{name: "shut down server", cancel: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			router := newRouterWithContext(t, ctx)
			if tt.cancel {
				cancel()
			}

			w := do(t, router, http.MethodPost, "/api/v1/runs", gin.H{"input": profile.SampleNascar(12), "iterations": 20, "async": true})
			require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
			var summary services.RunSummary
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))

			stored := func() bool {
				return do(t, router, http.MethodGet, "/api/v1/runs/"+summary.RunID, nil).Code == http.StatusOK
			}
			if tt.cancel {
				assert.Never(t, stored, 500*time.Millisecond, 20*time.Millisecond)
			} else {
				assert.Eventually(t, stored, 5*time.Second, 20*time.Millisecond)
			}
		})
	}
}

func TestInfeasibleBuildIsAWarning(t *testing.T) {
	router := newRouter(t)
	id := createRun(t, router, profile.SampleNascar(12))

	w := do(t, router, http.MethodPost, "/api/v1/runs/"+id+"/lineups", gin.H{"total_lineups": 3, "min_salary": 60000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), services.StatusWarning)
}

func TestHealthAndCORS(t *testing.T) {
	router := newRouter(t)

	w := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)
	assert.Contains(t, w.Body.String(), `"redis":"not_configured"`)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
