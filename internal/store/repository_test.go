package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/race-sim/internal/gto"
	"github.com/stitts-dev/race-sim/internal/lineup"
	"github.com/stitts-dev/race-sim/internal/optimizer"
	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/scoring"
	"github.com/stitts-dev/race-sim/internal/simulator"
	"github.com/stitts-dev/race-sim/pkg/database"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewRaceSimConnection("file::memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db, quietLog())
	require.NoError(t, repo.Migrate())
	return repo
}

func runFor(t *testing.T, in *profile.RaceInput, rules *scoring.RuleSet) *simulator.RunResult {
	t.Helper()
	store, err := profile.NewStore(in)
	require.NoError(t, err)
	sim, err := simulator.NewRaceSimulator(store, quietLog())
	require.NoError(t, err)
	run, err := simulator.Aggregate(context.Background(), sim, store, simulator.AggregateOptions{
		Iterations: 30,
		Workers:    2,
		Seed:       11,
		Rules:      []*scoring.RuleSet{rules},
		Log:        quietLog(),
	})
	require.NoError(t, err)
	return run
}

func TestRunRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		in    *profile.RaceInput
		rules *scoring.RuleSet
	}{
		{"nascar", profile.SampleNascar(12), scoring.DraftKingsNascar()},
		{"f1", profile.SampleF1(), scoring.DraftKingsF1()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t)
			run := runFor(t, tt.in, tt.rules)
			require.NoError(t, repo.SaveRun(context.Background(), run, tt.in))

			got, err := repo.GetRun(context.Background(), run.ID)
			require.NoError(t, err)
			assert.Equal(t, run.ID, got.ID)
			assert.Equal(t, run.Seed, got.Seed)
			assert.Equal(t, run.Series, got.Series)
			assert.Equal(t, run.TotalCautions, got.TotalCautions)
			assert.Equal(t, run.Competitors, got.Competitors)
			assert.Equal(t, run.Constructors, got.Constructors)

			in, err := repo.GetInput(context.Background(), run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.in.Competitors, in.Competitors)
			assert.Equal(t, tt.in.Race, in.Race)

			runs, err := repo.ListRuns(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, run.ID.String(), runs[0].ID)
			assert.Empty(t, runs[0].Competitors)
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetGTO(context.Background(), uuid.New(), "draftkings")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveGTOReplaces(t *testing.T) {
	repo := newRepo(t)
	runID := uuid.New()
	first := &gto.Result{
		Iterations: 10,
		Exposures:  []gto.Exposure{{PlayerID: "d01", Count: 10, Exposure: 1}},
		Pool:       []gto.PoolEntry{{Key: "d01,d02", Count: 10, Slots: []string{"D", "D"}}},
	}
	require.NoError(t, repo.SaveGTO(context.Background(), runID, "draftkings", first))

	second := &gto.Result{Iterations: 20, InfeasibleIterations: 2, Exposures: []gto.Exposure{{PlayerID: "d02", Count: 9, Exposure: 0.45}}}
	require.NoError(t, repo.SaveGTO(context.Background(), runID, "draftkings", second))

	got, err := repo.GetGTO(context.Background(), runID, "draftkings")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Iterations)
	assert.Equal(t, 2, got.InfeasibleIterations)
	assert.Equal(t, second.Exposures, got.Exposures)
}

func TestLineups(t *testing.T) {
	repo := newRepo(t)
	runID := uuid.New()

	mk := func(sortProj float64, ids ...string) *lineup.Candidate {
		var players []optimizer.Player
		for _, id := range ids {
			players = append(players, optimizer.Player{ID: id, Salary: 8000, Positions: []string{"D"}})
		}
		c := lineup.NewCandidate(players, []string{"D", "D"})
		c.SortProj = sortProj
		c.Median = sortProj
		return c
	}
	low, high := mk(100, "d01", "d02"), mk(150, "d03", "d04")
	require.NoError(t, repo.SaveLineups(context.Background(), runID, "draftkings", []*lineup.Candidate{low, high}))

	got, err := repo.ListLineups(context.Background(), runID, "", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, high.ID, got[0].ID)
	assert.Equal(t, high.Players, got[0].Players)
	assert.Equal(t, 16000, got[0].TotalSalary)

	require.NoError(t, repo.SaveLineups(context.Background(), runID, "draftkings", []*lineup.Candidate{low}))
	got, err = repo.ListLineups(context.Background(), runID, "", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, low.ID, got[0].ID)

	require.NoError(t, repo.SaveLineups(context.Background(), runID, "fanduel", []*lineup.Candidate{high}))
	tests := []struct {
		site string
		want []uuid.UUID
	}{
		{site: "", want: []uuid.UUID{high.ID, low.ID}},
		{site: "draftkings", want: []uuid.UUID{low.ID}},
		{site: "fanduel", want: []uuid.UUID{high.ID}},
		{site: "yahoo"},
	}
	for _, tt := range tests {
		got, err := repo.ListLineups(context.Background(), runID, tt.site, 0)
		require.NoError(t, err)
		ids := make([]uuid.UUID, 0, len(got))
		for _, c := range got {
			ids = append(ids, c.ID)
		}
		assert.ElementsMatch(t, tt.want, ids, "site %q", tt.site)
	}
}

func TestDeleteRunsBefore(t *testing.T) {
	repo := newRepo(t)
	run := runFor(t, profile.SampleNascar(8), scoring.DraftKingsNascar())
	require.NoError(t, repo.SaveRun(context.Background(), run, nil))
	_, err := repo.GetInput(context.Background(), run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, repo.SaveGTO(context.Background(), run.ID, "draftkings", &gto.Result{Iterations: 30}))

	ids, err := repo.DeleteRunsBefore(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = repo.DeleteRunsBefore(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{run.ID.String()}, ids)

	_, err = repo.GetRun(context.Background(), run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetGTO(context.Background(), run.ID, "draftkings")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRun(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	run := runFor(t, profile.SampleNascar(8), scoring.DraftKingsNascar())
	require.NoError(t, repo.SaveRun(ctx, run, profile.SampleNascar(8)))

	require.NoError(t, repo.DeleteRun(ctx, run.ID))
	_, err := repo.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.DeleteRun(ctx, run.ID), ErrNotFound)
}
