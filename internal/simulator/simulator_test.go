package simulator

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/race-sim/internal/profile"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newSim(t *testing.T, in *profile.RaceInput) (RaceSimulator, *profile.Store) {
	t.Helper()
	store, err := profile.NewStore(in)
	require.NoError(t, err)
	sim, err := NewRaceSimulator(store, quietLog())
	require.NoError(t, err)
	return sim, store
}

func assertPermutation(t *testing.T, ranks []int, m int, what string) {
	t.Helper()
	seen := make([]bool, m+1)
	for _, r := range ranks {
		require.Truef(t, r >= 1 && r <= m, "%s rank %d outside 1..%d", what, r, m)
		require.Falsef(t, seen[r], "%s rank %d repeated", what, r)
		seen[r] = true
	}
}

func TestNascarIterationInvariants(t *testing.T) {
	tests := []struct {
		name string
		in   func() *profile.RaceInput
	}{
		{"36 car cup race", func() *profile.RaceInput { return profile.SampleNascar(36) }},
		{"small field", func() *profile.RaceInput { return profile.SampleNascar(4) }},
		{"four stages and heavy cautions", func() *profile.RaceInput {
			in := profile.SampleNascar(30)
			in.Race.NumStages = 4
			in.Race.EarlyStage.Mean = 4
			in.Race.FinalStage.Mean = 8
			in.Profiles.Penalty = append(in.Profiles.Penalty,
				profile.PenaltyProfile{Stage: 4, IsGreen: true, FloorImpact: 6},
				profile.PenaltyProfile{Stage: 4, IsGreen: false, FloorImpact: 3})
			return in
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in()
			sim, store := newSim(t, in)
			m := store.NumCompetitors()

			for i := 0; i < 300; i++ {
				res, err := sim.Simulate(NewIterationRand(7, i, 0))
				require.NoError(t, err)

				require.Len(t, res.FinishingPosition, m)
				assertPermutation(t, res.FinishingPosition, m, "finishing")
				assertPermutation(t, res.OriginalSpeedRank, m, "original speed")
				assertPermutation(t, res.SpeedRank, m, "speed")

				flagged := 0
				lapsLed, fastest := 0, 0
				for c := 0; c < m; c++ {
					if res.FastestLap[c] {
						flagged++
					}
					require.GreaterOrEqual(t, res.LapsLed[c], 0)
					require.GreaterOrEqual(t, res.FastestLaps[c], 0)
					lapsLed += res.LapsLed[c]
					fastest += res.FastestLaps[c]
					assert.Equal(t, strings.HasSuffix(res.Damage[c], "DNF"), res.Incident[c])
				}
				assert.Equal(t, 1, flagged, "exactly one fastest-lap flag")
				assert.Equal(t, in.Race.ScheduledLaps, lapsLed, "laps led sum to scheduled laps")
				assert.Equal(t, res.GreenFlagLaps, fastest, "fastest laps sum to green-flag laps")
				assert.LessOrEqual(t, res.TotalCautions, raceCautionCap)
			}
		})
	}
}

func TestNascarDNFsFinishBehindRunningCars(t *testing.T) {
	in := profile.SampleNascar(30)
	in.Race.EarlyStage.Mean = 3
	in.Race.FinalStage.Mean = 5
	sim, store := newSim(t, in)
	m := store.NumCompetitors()

	for i := 0; i < 200; i++ {
		res, err := sim.Simulate(NewIterationRand(11, i, 0))
		require.NoError(t, err)

		running := 0
		for c := 0; c < m; c++ {
			if !res.Incident[c] {
				running++
			}
		}
		for c := 0; c < m; c++ {
			if res.Incident[c] {
				assert.Greater(t, res.FinishingPosition[c], running)
			}
		}
	}
}

func TestF1IterationInvariants(t *testing.T) {
	in := profile.SampleF1()
	sim, store := newSim(t, in)
	m := store.NumCompetitors()

	for i := 0; i < 500; i++ {
		res, err := sim.Simulate(NewIterationRand(3, i, 0))
		require.NoError(t, err)

		assertPermutation(t, res.FinishingPosition, m, "finishing")
		flagged, lapsLed := 0, 0
		for c := 0; c < m; c++ {
			if res.FastestLap[c] {
				flagged++
				assert.Equal(t, 1, res.FastestLaps[c])
			} else {
				assert.Zero(t, res.FastestLaps[c])
			}
			lapsLed += res.LapsLed[c]
			if res.Incident[c] {
				assert.Greater(t, res.FinishingPosition[c], m-countTrue(res.Incident))
			}
		}
		assert.Equal(t, 1, flagged)
		assert.Equal(t, in.Race.ScheduledLaps, lapsLed)
	}
}

func TestF1EqualTeammatesSplitHeadToHead(t *testing.T) {
	in := profile.SampleF1()
	for i := 0; i < 2; i++ {
		in.Competitors[i].SpeedMin = 1
		in.Competitors[i].SpeedMax = 3
		in.Competitors[i].IncidentRate = 0
	}
	sim, _ := newSim(t, in)

	const n = 4000
	ahead := 0
	for i := 0; i < n; i++ {
		res, err := sim.Simulate(NewIterationRand(99, i, 0))
		require.NoError(t, err)
		if res.FinishingPosition[0] < res.FinishingPosition[1] {
			ahead++
		}
	}
	assert.InDelta(t, 0.5, float64(ahead)/n, 0.05)
}

func TestSimulateIsDeterministicPerStream(t *testing.T) {
	sim, _ := newSim(t, profile.SampleNascar(24))

	a, err := sim.Simulate(NewIterationRand(42, 5, 0))
	require.NoError(t, err)
	b, err := sim.Simulate(NewIterationRand(42, 5, 0))
	require.NoError(t, err)
	c, err := sim.Simulate(NewIterationRand(42, 5, 1))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.FinishingPosition, c.FinishingPosition)
}

func TestDrawSharesNeverExceedsTotal(t *testing.T) {
	bands := []shareBand{
		{0.5, 0.9, 0.5, 0.9},
		{0.3, 0.6, 0.6, 1.0},
		{0.2, 0.4, 0.7, 1.0},
	}
	rng := rand.New(rand.NewPCG(1, 2))
	for _, total := range []int{0, 1, 5, 57, 267, 500} {
		for k := 0; k < 200; k++ {
			vals := drawShares(rng, bands, total)
			assert.LessOrEqual(t, sum(vals), total)
			for _, v := range vals {
				assert.Positive(t, v)
			}
		}
	}
}

func TestDamageRankOffset(t *testing.T) {
	tests := []struct {
		stages int
		code   string
		want   float64
	}{
		{3, "", 0},
		{3, "1d", 0},
		{3, "1D", 6.1},
		{3, "2DNF", 3.1},
		{3, "3D", 1.1},
		{4, "1DNF", 6.1},
		{4, "2D", 4.1},
		{4, "3DNF", 2.1},
		{4, "4D", 0},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, damageRankOffset(tt.stages, tt.code), "%d stages, %q", tt.stages, tt.code)
	}
}

func countTrue(values []bool) int {
	n := 0
	for _, v := range values {
		if v {
			n++
		}
	}
	return n
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}
