package simulator

import (
	"math/rand/v2"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/profile"
)

type f1Simulator struct {
	store *profile.Store
	log   *logrus.Entry
}

func newF1Simulator(store *profile.Store, log *logrus.Entry) *f1Simulator {
	return &f1Simulator{store: store, log: log}
}

func (s *f1Simulator) Simulate(rng *rand.Rand) (*IterationResult, error) {
	comps := s.store.Competitors()
	m := len(comps)
	laps := s.store.Race().ScheduledLaps
	res := newIterationResult(m)

	for i, c := range comps {
		res.Incident[i] = rng.Float64() < c.IncidentRate
	}

	speed := make([]float64, m)
	for i, c := range comps {
		if res.Incident[i] {
			speed[i] = 9999 + rng.Float64()
			continue
		}
		speed[i] = float64(randRange(rng, c.SpeedMin, c.SpeedMax)) + rng.Float64()
	}
	fp := ordinalRank(speed)
	byFP := indexByRank(fp)

	leaders := s.leaderCount(rng)
	profiles := s.store.F1LapsLedProfiles()[:leaders]
	pcts := make([]int, len(profiles))
	idx := make([]int, len(profiles))
	for k, p := range profiles {
		i := byFP[p.FinishRank]
		idx[k] = i
		driverMax := comps[i].LapsLedMax
		if driverMax == 0 {
			driverMax = 1
		}
		pmin := max(comps[i].LapsLedMin, p.PctMin)
		pmax := min(driverMax, p.PctMax)
		if pmin < pmax {
			pcts[k] = randRange(rng, int(pmin*100), max(int(pmax*100), 1))
		} else {
			pcts[k] = int(pmin * 100)
		}
	}

	if sum := lo.Sum(pcts); sum > 0 {
		assigned := 0
		for k, pct := range pcts {
			v := int(float64(pct) / float64(sum) * float64(laps))
			res.LapsLed[idx[k]] += v
			assigned += v
		}
		// Truncation leftovers go to the first leader so the total is exact.
		res.LapsLed[idx[0]] += laps - assigned
	} else {
		res.LapsLed[byFP[1]] = laps
	}

	flRank := s.fastestLapRank(rng)
	res.FastestLap[byFP[flRank]] = true
	res.FastestLaps[byFP[flRank]] = 1

	res.FinishingPosition = fp
	res.OriginalSpeedRank = append([]int(nil), fp...)
	res.SpeedRank = append([]int(nil), fp...)
	res.GreenFlagLaps = laps

	if s.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		s.log.WithFields(logrus.Fields{
			"leaders": leaders,
			"dnfs":    lo.Count(res.Incident, true),
		}).Debug("Simulated F1 iteration")
	}
	return res, nil
}

// leaderCount draws how many laps-led profiles are used this iteration.
func (s *f1Simulator) leaderCount(rng *rand.Rand) int {
	profiles := s.store.LeaderCountProfiles()
	all := len(s.store.F1LapsLedProfiles())
	if len(profiles) == 0 {
		return all
	}
	u := rng.Float64()
	cum := 0.0
	for _, p := range profiles {
		cum += p.Probability
		if u <= cum {
			return min(p.LeaderCount, all)
		}
	}
	return min(profiles[len(profiles)-1].LeaderCount, all)
}

func (s *f1Simulator) fastestLapRank(rng *rand.Rand) int {
	profiles := s.store.FastestLapProfiles()
	u := rng.Float64()
	cum := 0.0
	for _, p := range profiles {
		cum += p.Probability
		if u <= cum {
			return p.FinishRank
		}
	}
	return profiles[len(profiles)-1].FinishRank
}
