package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/profile"
)

// Caution caps by stage; the final stage caps the race total.
const (
	stageOneCautionCap = 3
	stageTwoCautionCap = 6
	raceCautionCap     = 10

	shareRedraws = 10
)

type damageOutcome int

const (
	damageNone damageOutcome = iota
	damageMinor
	damageMedium
	damageDNF
)

type nascarSimulator struct {
	store      *profile.Store
	log        *logrus.Entry
	crashRates []float64
}

func newNascarSimulator(store *profile.Store, log *logrus.Entry) *nascarSimulator {
	return &nascarSimulator{
		store: store,
		log:   log,
		crashRates: lo.Map(store.Competitors(), func(c profile.Competitor, _ int) float64 {
			return c.CrashRate
		}),
	}
}

// raceState is the mutable per-iteration bookkeeping.
type raceState struct {
	running  []int
	dnfStage []int
	minor    []bool
	medium   []bool
	// green[stage][i] and yellow[stage][i] record penalty membership.
	green  [][]bool
	yellow [][]bool
}

func (s *nascarSimulator) Simulate(rng *rand.Rand) (*IterationResult, error) {
	race := s.store.Race()
	comps := s.store.Competitors()
	m := len(comps)
	stages := race.NumStages
	res := newIterationResult(m)

	st := &raceState{
		running:  lo.Range(m),
		dnfStage: make([]int, m),
		minor:    make([]bool, m),
		medium:   make([]bool, m),
		green:    make([][]bool, stages+1),
		yellow:   make([][]bool, stages+1),
	}
	pitMean := s.store.PitPenaltyMean()

	total := 0
	for stage := 1; stage <= stages; stage++ {
		final := stage == stages
		model := race.EarlyStage
		var cautions int
		if !final {
			cautions = poisson(rng, model.Mean)
			if stage == 1 && cautions > stageOneCautionCap {
				cautions = stageOneCautionCap
			}
			if stage == 2 && total+cautions > stageTwoCautionCap {
				cautions = max(stageTwoCautionCap-total, 0)
			}
		} else {
			model = race.FinalStage
			cautions = poisson(rng, model.Mean)
			if total+cautions > raceCautionCap {
				cautions = max(raceCautionCap-total, 0)
			}
		}
		total += cautions

		for c := 0; c < cautions; c++ {
			if err := s.caution(rng, stage, model, st, res); err != nil {
				return nil, err
			}
		}

		st.green[stage] = make([]bool, m)
		st.yellow[stage] = make([]bool, m)
		if cautions == 0 {
			penalize(rng, poisson(rng, pitMean), st.running, st.green[stage])
		} else {
			for c := 0; c < cautions; c++ {
				penalize(rng, poisson(rng, pitMean), st.running, st.yellow[stage])
			}
		}
		if !final {
			penalize(rng, poisson(rng, pitMean), st.running, st.yellow[stage])
		}

		for i := 0; i < m; i++ {
			if st.dnfStage[i] != 0 {
				continue
			}
			if st.green[stage][i] {
				res.Penalty[i] = fmt.Sprintf("%dG", stage)
			} else if st.yellow[stage][i] {
				res.Penalty[i] = fmt.Sprintf("%dY", stage)
			}
		}

		if final {
			u := rng.Float64()
			switch {
			case cautions == 1:
				res.LateCaution = u < 0.50
			case cautions == 2:
				res.LateCaution = u < 0.75
			case cautions >= 3:
				res.LateCaution = true
			}
		}
	}
	res.TotalCautions = total

	// Incident-free speed drives fastest laps and laps led, so damaged cars can
	// still collect both depending on when the damage happened.
	speed := make([]float64, m)
	for i, c := range comps {
		speed[i] = uniform(rng, float64(c.SpeedMin), float64(c.SpeedMax)+0.1) + rng.Float64()
	}
	osr := ordinalRank(speed)
	shifted := make([]float64, m)
	for i, r := range osr {
		shifted[i] = float64(r) + damageRankOffset(stages, res.Damage[i])
	}
	osr = ordinalRank(shifted)

	adjusted := make([]float64, m)
	for i := range adjusted {
		switch {
		case st.dnfStage[i] > 0:
			// Earlier DNFs finish behind later ones.
			adjusted[i] = 999 + float64((stages-st.dnfStage[i]+1)*1000) + rng.Float64()
		case st.medium[i]:
			adjusted[i] = uniform(rng, 20, 40)
		case st.minor[i]:
			adjusted[i] = speed[i] + uniform(rng, 0, 5)
		default:
			adjusted[i] = speed[i]
		}
	}
	sr := ordinalRank(adjusted)

	variance := race.TrackVariance
	if res.LateCaution {
		variance = race.TrackVarianceLateRestart
	}
	variance += cautionVariance(total)

	fpVals := make([]float64, m)
	for i := range fpVals {
		if st.dnfStage[i] > 0 {
			fpVals[i] = adjusted[i]
			continue
		}
		v := variance + comps[i].StrategyFactor
		floor := float64(sr[i]) - v
		ceil := float64(sr[i]) + v
		for stage := 1; stage <= stages; stage++ {
			if st.green[stage][i] {
				p, _ := s.store.PenaltyFor(stage, true)
				ceil += p.FloorImpact
				floor += p.CeilingImpact
			}
			if st.yellow[stage][i] {
				p, _ := s.store.PenaltyFor(stage, false)
				ceil += p.FloorImpact
				floor += p.CeilingImpact
			}
		}
		if floor > ceil {
			floor, ceil = ceil, floor
		}
		dist := NewTruncatedNormalDistribution((floor+ceil)/2, (ceil-floor)/4, floor, ceil)
		fpVals[i] = dist.Sample(rng) + rng.Float64()
	}
	fp := ordinalRank(fpVals)

	if err := s.assignFastestLaps(rng, res, osr, total); err != nil {
		return nil, err
	}
	if err := s.assignLapsLed(rng, res); err != nil {
		return nil, err
	}

	res.FinishingPosition = fp
	res.OriginalSpeedRank = osr
	res.SpeedRank = sr
	for i := range res.Incident {
		res.Incident[i] = st.dnfStage[i] > 0
	}

	if s.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		s.log.WithFields(logrus.Fields{
			"cautions":     total,
			"late_caution": res.LateCaution,
			"green_laps":   res.GreenFlagLaps,
			"dnfs":         lo.Count(res.Incident, true),
		}).Debug("Simulated NASCAR iteration")
	}
	return res, nil
}

// caution resolves one caution: its severity, the cars involved and their damage.
func (s *nascarSimulator) caution(rng *rand.Rand, stage int, model profile.CautionModel, st *raceState, res *IterationResult) error {
	n := len(st.running)
	u := rng.Float64()

	var minCars, maxCars int
	switch {
	case u <= model.ProbDebris:
		return nil
	case u <= model.ProbDebris+model.ProbSmall:
		minCars, maxCars = min(1, n), min(2, n)
	case u <= model.ProbDebris+model.ProbSmall+model.ProbMedium:
		minCars, maxCars = min(3, n), min(6, n)
	default:
		minCars, maxCars = min(7, n), min(s.store.MaxCarsInvolved(), n)
	}
	if maxCars < minCars {
		minCars = maxCars
	}
	cars := max(int(math.Ceil(uniform(rng, float64(minCars-1), float64(maxCars)))), 0)
	cars = min(cars, s.store.MaxCarsInvolved(), n)
	if cars == 0 {
		return nil
	}

	dp, ok := s.store.DamageProfileFor(cars)
	if !ok {
		return &IterationComputationError{
			Stage:   stage,
			Profile: "damage",
			Reason:  fmt.Sprintf("no damage profile covers %d cars", cars),
		}
	}
	outcomeWeights := []float64{dp.ProbNoDamage, dp.ProbMinorDamage, dp.ProbMediumDamage, dp.ProbDNF}

	weights := make([]float64, n)
	for k, i := range st.running {
		weights[k] = s.crashRates[i]
	}
	chosen := make([]bool, n)
	out := false
	for c := 0; c < cars; c++ {
		k := weightedChoice(rng, weights)
		if k < 0 {
			// Remaining crash rates are all zero: fall back to a uniform draw.
			for j := range weights {
				if !chosen[j] {
					weights[j] = 1
				}
			}
			k = weightedChoice(rng, weights)
		}
		chosen[k] = true
		weights[k] = 0

		i := st.running[k]
		switch damageOutcome(weightedChoice(rng, outcomeWeights)) {
		case damageMinor:
			st.minor[i] = true
			res.Damage[i] = fmt.Sprintf("%dd", stage)
		case damageMedium:
			st.medium[i] = true
			res.Damage[i] = fmt.Sprintf("%dD", stage)
		case damageDNF:
			st.dnfStage[i] = stage
			res.Damage[i] = fmt.Sprintf("%dDNF", stage)
			out = true
		}
	}

	if out {
		st.running = lo.Filter(st.running, func(i int, _ int) bool { return st.dnfStage[i] == 0 })
	}
	return nil
}

// penalize marks count uniformly chosen running cars.
func penalize(rng *rand.Rand, count int, running []int, marks []bool) {
	if len(running) == 0 {
		return
	}
	for p := 0; p < count; p++ {
		marks[running[rng.IntN(len(running))]] = true
	}
}

// damageRankOffset pushes a car down the incident-free speed order by how early
// it took medium damage or retired.
func damageRankOffset(stages int, code string) float64 {
	if len(code) < 2 || code[1] == 'd' {
		return 0
	}
	stage := int(code[0] - '0')
	if stages == 4 {
		switch stage {
		case 3:
			return 2.1
		case 2:
			return 4.1
		case 1:
			return 6.1
		}
		return 0
	}
	switch stage {
	case 3:
		return 1.1
	case 2:
		return 3.1
	case 1:
		return 6.1
	}
	return 0
}

func cautionVariance(cautions int) float64 {
	switch {
	case cautions <= 7:
		return 0
	case cautions <= 10:
		return 1
	case cautions <= 13:
		return 2
	default:
		return 3
	}
}

func (s *nascarSimulator) assignFastestLaps(rng *rand.Rand, res *IterationResult, osr []int, cautions int) error {
	race := s.store.Race()
	m := len(osr)
	green := max(race.ScheduledLaps-int(float64(cautions+race.NumStages-1)*race.LapsPerCaution), 0)
	res.GreenFlagLaps = green

	byOSR := indexByRank(osr)
	profiles := s.store.FastestLapsProfiles()
	vals := drawShares(rng, lo.Map(profiles, func(p profile.FastestLapsProfile, _ int) shareBand {
		return shareBand{p.PctMin, p.PctMax, p.CumMin, p.CumMax}
	}), green)

	assigned := 0
	for k, v := range vals {
		p := profiles[k]
		i := rankLookup(byOSR, randRange(rng, p.EligibleSpeedMin, p.EligibleSpeedMax))
		if i < 0 {
			return &IterationComputationError{Stage: race.NumStages, Profile: "fastest_laps", Reason: fmt.Sprintf("no car in speed ranks %d-%d", p.EligibleSpeedMin, p.EligibleSpeedMax)}
		}
		res.FastestLaps[i] += v
		assigned += v
	}
	for remaining := green - assigned; remaining > 0; {
		i := byOSR[randRange(rng, 1, min(5, m))]
		v := min(remaining, randRange(rng, 1, 2))
		res.FastestLaps[i] += v
		remaining -= v
	}

	best := 0
	for i := 1; i < m; i++ {
		if res.FastestLaps[i] > res.FastestLaps[best] ||
			(res.FastestLaps[i] == res.FastestLaps[best] && osr[i] < osr[best]) {
			best = i
		}
	}
	res.FastestLap[best] = true
	return nil
}

func (s *nascarSimulator) assignLapsLed(rng *rand.Rand, res *IterationResult) error {
	race := s.store.Race()
	m := len(res.FastestLaps)
	laps := race.ScheduledLaps

	profiles := s.store.LapsLedProfiles()
	vals := drawShares(rng, lo.Map(profiles, func(p profile.LapsLedProfile, _ int) shareBand {
		return shareBand{p.PctMin, p.PctMax, p.CumMin, p.CumMax}
	}), laps)

	// Leaders are drawn from the fastest-lap order, loosened by noise.
	rankVals := make([]float64, m)
	for i, fl := range res.FastestLaps {
		f := float64(fl)
		rankVals[i] = uniform(rng, f*0.25, f+0.1) + rng.Float64()
	}
	flr := ordinalRank(rankVals)
	for i, r := range flr {
		flr[i] = m + 1 - r
	}
	byFLR := indexByRank(flr)

	assigned := 0
	for k, v := range vals {
		i := rankLookup(byFLR, profiles[k].RankOrder)
		if i < 0 {
			return &IterationComputationError{Stage: race.NumStages, Profile: "laps_led", Reason: fmt.Sprintf("no car at fastest-lap rank %d", profiles[k].RankOrder)}
		}
		res.LapsLed[i] += v
		assigned += v
	}
	for remaining := laps - assigned; remaining > 0; {
		i := byFLR[randRange(rng, min(2, m), min(3, m))]
		v := min(remaining, 5)
		res.LapsLed[i] += v
		remaining -= v
	}
	return nil
}

type shareBand struct {
	pctMin, pctMax float64
	cumMin, cumMax float64
}

// drawShares splits total into per-band lap counts. A band whose draw cannot
// keep the running total inside its cumulative bounds ends the allocation; the
// caller hands out what is left. The result never sums past total.
func drawShares(rng *rand.Rand, bands []shareBand, total int) []int {
	vals := make([]int, 0, len(bands))
	cum := 0
	for _, b := range bands {
		if cum >= total {
			break
		}
		pctLo, pctHi := int(b.pctMin*100), max(int(b.pctMax*100), 1)
		cumMin, cumMax := int(b.cumMin*float64(total)), int(b.cumMax*float64(total))
		draw := func() int {
			pct := pctLo
			if b.pctMin < b.pctMax {
				pct = randRange(rng, pctLo, pctHi)
			}
			return max(int(float64(pct)/100*float64(total)), 1)
		}

		v := draw()
		for attempt := 0; (cum+v < cumMin || cum+v > cumMax) && attempt < shareRedraws; attempt++ {
			v = draw()
		}
		if cum+v < cumMin || cum+v > cumMax {
			break
		}
		v = min(v, total-cum)
		cum += v
		vals = append(vals, v)
	}
	return vals
}

func rankLookup(byRank []int, r int) int {
	if r < 1 || r >= len(byRank) {
		return -1
	}
	return byRank[r]
}
