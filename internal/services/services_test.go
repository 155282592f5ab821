package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/race-sim/internal/lineup"
	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/scoring"
	"github.com/stitts-dev/race-sim/internal/store"
	"github.com/stitts-dev/race-sim/internal/websocket"
	"github.com/stitts-dev/race-sim/pkg/config"
	"github.com/stitts-dev/race-sim/pkg/database"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type recordingPublisher struct {
	mu       sync.Mutex
	progress int
	messages []websocket.ProgressMessage
}

func (r *recordingPublisher) ProgressFunc(uuid.UUID, string) func(done, total int) {
	return func(done, total int) {
		r.mu.Lock()
		r.progress++
		r.mu.Unlock()
	}
}

func (r *recordingPublisher) Publish(msg websocket.ProgressMessage) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultIterations:      50,
		MaxIterations:          500,
		SimulationWorkers:      2,
		IterationMaxRetries:    3,
		MaxLineups:             20,
		RandomBuildAttempts:    5000,
		OptimizationTimeout:    60,
		GTOLineupsPerIteration: 1,
	}
}

func newRepo(t *testing.T) *store.Repository {
	t.Helper()
	db, err := database.NewRaceSimConnection("file::memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := store.NewRepository(db, logrus.NewEntry(quietLogger()))
	require.NoError(t, repo.Migrate())
	return repo
}

func newService(t *testing.T, pub ProgressPublisher) (*RaceService, *store.Repository) {
	t.Helper()
	repo := newRepo(t)
	return NewRaceService(repo, nil, pub, scoring.NewRegistry(), nil, testConfig(), quietLogger()), repo
}

func TestSimulateStoresRun(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newService(t, pub)
	ctx := context.Background()

	sim, summary, err := svc.Simulate(ctx, SimulateRequest{Input: profile.SampleNascar(20), Iterations: 40, Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, summary.Status)
	assert.Equal(t, 40, summary.Iterations)
	assert.Equal(t, 40, pub.progress)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, websocket.MessageCompleted, pub.messages[0].Type)

	loaded, err := svc.Load(ctx, sim.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, sim.Run.Competitors[0].FinishingPosition, loaded.Run.Competitors[0].FinishingPosition)
	assert.Equal(t, profile.SeriesNascar, loaded.Store.Series())
}

func TestSimulateUsesDefaultIterations(t *testing.T) {
	svc, _ := newService(t, nil)
	in := profile.SampleNascar(12)
	in.Iterations = 0

	sim, _, err := svc.Simulate(context.Background(), SimulateRequest{Input: in, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 50, sim.Run.Iterations)
}

func TestSimulateRejectsBadRequests(t *testing.T) {
	svc, _ := newService(t, nil)

	tests := []struct {
		name  string
		req   SimulateRequest
		isCfg bool
	}{
		{name: "missing input", req: SimulateRequest{}},
		{name: "unknown site", req: SimulateRequest{Input: profile.SampleNascar(12), ExtraSites: []string{"fanduel"}}, isCfg: true},
		{name: "too many iterations", req: SimulateRequest{Input: profile.SampleNascar(12), Iterations: 501}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, summary, err := svc.Simulate(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, sim)
			assert.Equal(t, StatusFailed, summary.Status)
			if tt.isCfg {
				var cfgErr *scoring.ConfigurationError
				assert.ErrorAs(t, err, &cfgErr)
			}
		})
	}
}

func TestDeleteRun(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	sim, _, err := svc.Simulate(ctx, SimulateRequest{Input: profile.SampleNascar(10), Iterations: 10, Seed: 2})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRun(ctx, sim.Run.ID))
	_, err = svc.Load(ctx, sim.Run.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteRun(ctx, sim.Run.ID), store.ErrNotFound)
}

func TestLoadUnknownRun(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGTOAndBuildPipeline(t *testing.T) {
	svc, repo := newService(t, nil)
	ctx := context.Background()

	sim, _, err := svc.Simulate(ctx, SimulateRequest{Input: profile.SampleNascar(20), Iterations: 30, Seed: 8})
	require.NoError(t, err)

	res, summary, err := svc.EstimateGTO(ctx, sim, "")
	require.NoError(t, err)
	assert.Equal(t, 30, res.Iterations)
	assert.Contains(t, []string{StatusCompleted, StatusWarning}, summary.Status)

	stored, err := svc.GetGTO(ctx, sim.Run.ID, "draftkings")
	require.NoError(t, err)
	assert.Equal(t, res.Iterations, stored.Iterations)
	assert.Len(t, stored.Exposures, len(res.Exposures))

	built, summary, err := svc.BuildLineups(ctx, sim, "draftkings", lineup.BuildConfig{TotalLineups: 5, Seed: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, built.Requested)
	assert.Len(t, built.Candidates, 5)
	assert.Equal(t, StatusCompleted, summary.Status)

	t.Run("lineup cap", func(t *testing.T) {
		_, summary, err := svc.BuildLineups(ctx, sim, "draftkings", lineup.BuildConfig{TotalLineups: 21})
		require.Error(t, err)
		assert.Equal(t, StatusFailed, summary.Status)
	})

	t.Run("cash against the field", func(t *testing.T) {
		field := [][]string{{"d15", "d16", "d17", "d18", "d19", "d20"}}
		kept, err := svc.Cash(ctx, sim, CashRequest{Field: field})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(kept), 5)
		for _, c := range kept {
			assert.GreaterOrEqual(t, c.WinRate, lineup.DefaultWinRateThreshold)
			assert.LessOrEqual(t, c.WinRate, 1.0)
		}

		_, err = svc.Cash(ctx, sim, CashRequest{Field: [][]string{{"nobody"}}})
		assert.Error(t, err)
	})

	t.Run("cash ignores other sites", func(t *testing.T) {
		other := lineup.NewCandidate(built.Candidates[0].Players, built.Candidates[0].Slots)
		require.NoError(t, repo.SaveLineups(ctx, sim.Run.ID, "fanduel", []*lineup.Candidate{other}))

		own := make(map[uuid.UUID]bool, len(built.Candidates))
		for _, c := range built.Candidates {
			own[c.ID] = true
		}
		field := [][]string{{"d15", "d16", "d17", "d18", "d19", "d20"}}
		kept, err := svc.Cash(ctx, sim, CashRequest{Site: "draftkings", Field: field, Threshold: 0.01})
		require.NoError(t, err)
		require.NotEmpty(t, kept)
		for _, c := range kept {
			assert.NotEqual(t, other.ID, c.ID)
			assert.True(t, own[c.ID], "lineup %s is not from the draftkings build", c.ID)
		}
	})
}

func TestRetentionPrune(t *testing.T) {
	repo := newRepo(t)
	svc := NewRaceService(repo, nil, nil, nil, nil, testConfig(), quietLogger())
	ctx := context.Background()

	sim, _, err := svc.Simulate(ctx, SimulateRequest{Input: profile.SampleNascar(10), Iterations: 10, Seed: 1})
	require.NoError(t, err)

	ret := NewRetentionService(repo, nil, quietLogger(), "0 4 * * *", 24*time.Hour)

	n, err := ret.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ret.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err = ret.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.GetRun(ctx, sim.Run.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, ret.GetStatus()["last_deleted"])
}

func TestRetentionStartStop(t *testing.T) {
	ret := NewRetentionService(newRepo(t), nil, quietLogger(), "0 4 * * *", time.Hour)
	require.NoError(t, ret.Start())
	assert.Error(t, ret.Start())

	status := ret.GetStatus()
	assert.Equal(t, true, status["is_running"])
	assert.Len(t, status["next_runs"], 1)

	ret.Stop()
	assert.Equal(t, false, ret.GetStatus()["is_running"])

	bad := NewRetentionService(newRepo(t), nil, quietLogger(), "not a schedule", time.Hour)
	assert.Error(t, bad.Start())
}
