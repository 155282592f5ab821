package profile

import (
	"math"
	"sort"

	"github.com/samber/lo"
)

const probabilityTolerance = 1e-6

// Pit-penalty Poisson means per NASCAR series level, per caution.
var seriesPitPenaltyMean = map[int]float64{
	1: 1.09375,
	2: 1.366071429,
	3: 1.421052632,
}

type penaltyKey struct {
	stage int
	green bool
}

// Store is the validated, read-only view of a RaceInput. It is safe to share
// across simulation workers.
type Store struct {
	input RaceInput

	damageByCars []int
	maxCars      int
	penalties    map[penaltyKey]PenaltyProfile
	fastestLaps  []FastestLapsProfile
	lapsLed      []LapsLedProfile
	fastestLap   []FastestLapProfile
	f1LapsLed    []F1LapsLedProfile
	teammates    []int
	constructors [][2]int
	indexByID    map[string]int
}

// NewStore validates in and freezes a private copy of it.
func NewStore(in *RaceInput) (*Store, error) {
	if in == nil {
		return nil, configErr("input", "missing")
	}
	s := &Store{input: cloneInput(in)}
	if err := s.validateCommon(); err != nil {
		return nil, err
	}

	var err error
	switch s.input.Race.Series {
	case SeriesNascar:
		err = s.buildNascar()
	case SeriesF1:
		err = s.buildF1()
	default:
		err = configErr("race.series", "unsupported series %q", s.input.Race.Series)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func cloneInput(in *RaceInput) RaceInput {
	out := *in
	out.Competitors = append([]Competitor(nil), in.Competitors...)
	out.Constructors = make([]Constructor, len(in.Constructors))
	for i, c := range in.Constructors {
		c.Drivers = append([]string(nil), c.Drivers...)
		out.Constructors[i] = c
	}
	out.Profiles = Profiles{
		Damage:      append([]DamageProfile(nil), in.Profiles.Damage...),
		Penalty:     append([]PenaltyProfile(nil), in.Profiles.Penalty...),
		FastestLaps: append([]FastestLapsProfile(nil), in.Profiles.FastestLaps...),
		LapsLed:     append([]LapsLedProfile(nil), in.Profiles.LapsLed...),
		FastestLap:  append([]FastestLapProfile(nil), in.Profiles.FastestLap...),
		LeaderCount: append([]LeaderCountProfile(nil), in.Profiles.LeaderCount...),
		F1LapsLed:   append([]F1LapsLedProfile(nil), in.Profiles.F1LapsLed...),
	}
	return out
}

func (s *Store) validateCommon() error {
	race := s.input.Race
	comps := s.input.Competitors
	m := len(comps)

	if race.ScheduledLaps <= 0 {
		return configErr("race.scheduled_laps", "must be positive, got %d", race.ScheduledLaps)
	}
	if m < 2 {
		return configErr("competitors", "need at least 2 competitors, got %d", m)
	}

	s.indexByID = make(map[string]int, m)
	seenStart := make([]bool, m+1)
	for i, c := range comps {
		if c.ID == "" {
			return configErr("competitors", "competitor %d has no id", i)
		}
		if _, dup := s.indexByID[c.ID]; dup {
			return configErr("competitors", "duplicate id %q", c.ID)
		}
		s.indexByID[c.ID] = i

		if c.StartingPosition < 1 || c.StartingPosition > m || seenStart[c.StartingPosition] {
			return configErr("competitors."+c.ID+".starting_position",
				"starting positions must be a permutation of 1..%d, got %d", m, c.StartingPosition)
		}
		seenStart[c.StartingPosition] = true

		if c.SpeedMin > c.SpeedMax {
			return configErr("competitors."+c.ID+".speed", "speed_min %d exceeds speed_max %d", c.SpeedMin, c.SpeedMax)
		}
		if !isProbability(c.IncidentRate) || c.CrashRate < 0 {
			return configErr("competitors."+c.ID, "incident_rate must be in [0,1] and crash_rate non-negative")
		}
		if c.LapsLedMin < 0 || (c.LapsLedMax > 0 && c.LapsLedMin > c.LapsLedMax) || c.LapsLedMax > 1 {
			return configErr("competitors."+c.ID+".pct_laps_led", "invalid range [%g,%g]", c.LapsLedMin, c.LapsLedMax)
		}
	}
	return nil
}

func (s *Store) buildNascar() error {
	race := s.input.Race
	p := s.input.Profiles
	m := len(s.input.Competitors)

	if race.NumStages < 1 || race.NumStages > 4 {
		return configErr("race.num_stages", "NASCAR races have 1 to 4 stages, got %d", race.NumStages)
	}
	if race.LapsPerCaution < 0 {
		return configErr("race.laps_per_caution", "must not be negative")
	}
	if race.PitPenaltyMean <= 0 {
		if _, ok := seriesPitPenaltyMean[race.SeriesLevel]; !ok {
			return configErr("race.series_level", "unknown series level %d and no pit_penalty_mean", race.SeriesLevel)
		}
	}
	for name, cm := range map[string]CautionModel{"early_stage": race.EarlyStage, "final_stage": race.FinalStage} {
		if cm.Mean < 0 {
			return configErr("race."+name+".mean", "must not be negative")
		}
		for _, v := range []float64{cm.ProbDebris, cm.ProbSmall, cm.ProbMedium, cm.ProbMajor} {
			if !isProbability(v) {
				return configErr("race."+name, "caution probabilities must be in [0,1]")
			}
		}
		if cm.ProbDebris+cm.ProbSmall+cm.ProbMedium > 1+probabilityTolerance {
			return configErr("race."+name, "debris, small and medium probabilities exceed 1")
		}
	}

	if err := s.indexDamage(p.Damage); err != nil {
		return err
	}

	s.penalties = make(map[penaltyKey]PenaltyProfile, len(p.Penalty))
	for _, pp := range p.Penalty {
		key := penaltyKey{stage: pp.Stage, green: pp.IsGreen}
		if _, dup := s.penalties[key]; dup {
			return configErr("profiles.penalty", "duplicate profile for stage %d green=%t", pp.Stage, pp.IsGreen)
		}
		s.penalties[key] = pp
	}
	for stage := 1; stage <= race.NumStages; stage++ {
		for _, green := range []bool{true, false} {
			if _, ok := s.penalties[penaltyKey{stage, green}]; !ok {
				return configErr("profiles.penalty", "missing profile for stage %d green=%t", stage, green)
			}
		}
	}

	s.fastestLaps = append([]FastestLapsProfile(nil), p.FastestLaps...)
	sort.SliceStable(s.fastestLaps, func(i, j int) bool {
		return s.fastestLaps[i].EligibleSpeedMin < s.fastestLaps[j].EligibleSpeedMin
	})
	prevMin, prevMax := 0.0, 0.0
	for i, fl := range s.fastestLaps {
		if fl.EligibleSpeedMin < 1 || fl.EligibleSpeedMax > m || fl.EligibleSpeedMin > fl.EligibleSpeedMax {
			return configErr("profiles.fastest_laps", "profile %d eligible speed ranks [%d,%d] outside 1..%d",
				i, fl.EligibleSpeedMin, fl.EligibleSpeedMax, m)
		}
		if err := checkShare("profiles.fastest_laps", i, fl.PctMin, fl.PctMax, fl.CumMin, fl.CumMax, &prevMin, &prevMax); err != nil {
			return err
		}
	}

	s.lapsLed = append([]LapsLedProfile(nil), p.LapsLed...)
	sort.SliceStable(s.lapsLed, func(i, j int) bool { return s.lapsLed[i].RankOrder < s.lapsLed[j].RankOrder })
	if len(s.lapsLed) == 0 {
		return configErr("profiles.laps_led", "at least one laps-led profile is required")
	}
	prevMin, prevMax = 0, 0
	for i, ll := range s.lapsLed {
		if ll.RankOrder < 1 || ll.RankOrder > m {
			return configErr("profiles.laps_led", "rank_order %d outside 1..%d", ll.RankOrder, m)
		}
		if i > 0 && s.lapsLed[i-1].RankOrder == ll.RankOrder {
			return configErr("profiles.laps_led", "duplicate rank_order %d", ll.RankOrder)
		}
		if err := checkShare("profiles.laps_led", i, ll.PctMin, ll.PctMax, ll.CumMin, ll.CumMax, &prevMin, &prevMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) indexDamage(profiles []DamageProfile) error {
	if len(profiles) == 0 {
		return configErr("profiles.damage", "at least one damage profile is required")
	}
	s.maxCars = lo.MaxBy(profiles, func(a, b DamageProfile) bool {
		return a.MaxCarsInvolved > b.MaxCarsInvolved
	}).MaxCarsInvolved
	if s.maxCars < 1 {
		return configErr("profiles.damage", "max_cars_involved must be at least 1")
	}

	s.damageByCars = make([]int, s.maxCars+1)
	for i := range s.damageByCars {
		s.damageByCars[i] = -1
	}
	for i, dp := range profiles {
		if dp.MinCarsInvolved > dp.MaxCarsInvolved || dp.MaxCarsInvolved < 0 {
			return configErr("profiles.damage", "profile %q has inverted car range", dp.Name)
		}
		weights := []float64{dp.ProbNoDamage, dp.ProbMinorDamage, dp.ProbMediumDamage, dp.ProbDNF}
		if lo.SomeBy(weights, func(w float64) bool { return !isProbability(w) }) || lo.Sum(weights) <= 0 {
			return configErr("profiles.damage", "profile %q needs probabilities in [0,1] with a positive total", dp.Name)
		}
		for cars := max(dp.MinCarsInvolved, 0); cars <= dp.MaxCarsInvolved; cars++ {
			if s.damageByCars[cars] >= 0 {
				return configErr("profiles.damage", "car count %d covered by more than one profile", cars)
			}
			s.damageByCars[cars] = i
		}
	}
	for cars := 1; cars <= s.maxCars; cars++ {
		if s.damageByCars[cars] < 0 {
			return configErr("profiles.damage", "no damage profile covers %d cars involved", cars)
		}
	}
	return nil
}

func (s *Store) buildF1() error {
	p := s.input.Profiles
	comps := s.input.Competitors
	m := len(comps)

	if len(p.FastestLap) == 0 {
		return configErr("profiles.fastest_lap", "at least one fastest-lap profile is required")
	}
	s.fastestLap = append([]FastestLapProfile(nil), p.FastestLap...)
	sort.SliceStable(s.fastestLap, func(i, j int) bool { return s.fastestLap[i].FinishRank < s.fastestLap[j].FinishRank })
	for _, fl := range s.fastestLap {
		if fl.FinishRank < 1 || fl.FinishRank > m || !isProbability(fl.Probability) {
			return configErr("profiles.fastest_lap", "fp_rank %d must be in 1..%d with a probability in [0,1]", fl.FinishRank, m)
		}
	}
	if total := lo.SumBy(s.fastestLap, func(fl FastestLapProfile) float64 { return fl.Probability }); math.Abs(total-1) > probabilityTolerance {
		return configErr("profiles.fastest_lap", "probabilities sum to %g, want 1", total)
	}

	if len(p.F1LapsLed) == 0 {
		return configErr("profiles.f1_laps_led", "at least one laps-led profile is required")
	}
	s.f1LapsLed = append([]F1LapsLedProfile(nil), p.F1LapsLed...)
	sort.SliceStable(s.f1LapsLed, func(i, j int) bool { return s.f1LapsLed[i].FinishRank < s.f1LapsLed[j].FinishRank })
	for i, ll := range s.f1LapsLed {
		if ll.FinishRank < 1 || ll.FinishRank > m {
			return configErr("profiles.f1_laps_led", "fp_rank %d outside 1..%d", ll.FinishRank, m)
		}
		if i > 0 && s.f1LapsLed[i-1].FinishRank == ll.FinishRank {
			return configErr("profiles.f1_laps_led", "duplicate fp_rank %d", ll.FinishRank)
		}
		if !isProbability(ll.PctMin) || !isProbability(ll.PctMax) || ll.PctMin > ll.PctMax {
			return configErr("profiles.f1_laps_led", "fp_rank %d has invalid share [%g,%g]", ll.FinishRank, ll.PctMin, ll.PctMax)
		}
	}

	if len(p.LeaderCount) > 0 {
		for _, lc := range p.LeaderCount {
			if lc.LeaderCount < 1 || lc.LeaderCount > len(s.f1LapsLed) || !isProbability(lc.Probability) {
				return configErr("profiles.leader_count", "leader_count %d must be in 1..%d", lc.LeaderCount, len(s.f1LapsLed))
			}
		}
		if total := lo.SumBy(p.LeaderCount, func(lc LeaderCountProfile) float64 { return lc.Probability }); math.Abs(total-1) > probabilityTolerance {
			return configErr("profiles.leader_count", "probabilities sum to %g, want 1", total)
		}
	}

	byTeam := lo.GroupBy(lo.Range(m), func(i int) string { return comps[i].Team })
	s.teammates = make([]int, m)
	for i, c := range comps {
		mates := byTeam[c.Team]
		if c.Team == "" || len(mates) != 2 {
			return configErr("competitors."+c.ID+".team", "every F1 driver needs exactly one teammate, team %q has %d drivers", c.Team, len(mates))
		}
		if mates[0] == i {
			s.teammates[i] = mates[1]
		} else {
			s.teammates[i] = mates[0]
		}
	}

	s.constructors = make([][2]int, len(s.input.Constructors))
	for ci, con := range s.input.Constructors {
		if len(con.Drivers) != 2 {
			return configErr("constructors."+con.ID, "a constructor needs exactly two drivers, got %d", len(con.Drivers))
		}
		for k, id := range con.Drivers {
			idx, ok := s.indexByID[id]
			if !ok {
				return configErr("constructors."+con.ID, "unknown driver %q", id)
			}
			s.constructors[ci][k] = idx
		}
		if s.constructors[ci][0] == s.constructors[ci][1] {
			return configErr("constructors."+con.ID, "both drivers are %q", con.Drivers[0])
		}
	}
	return nil
}

// checkShare validates a share profile and that cumulative bounds are non-decreasing.
func checkShare(field string, i int, pctMin, pctMax, cumMin, cumMax float64, prevMin, prevMax *float64) error {
	if !isProbability(pctMin) || !isProbability(pctMax) || pctMin > pctMax {
		return configErr(field, "profile %d has invalid share [%g,%g]", i, pctMin, pctMax)
	}
	if !isProbability(cumMin) || !isProbability(cumMax) || cumMin > cumMax {
		return configErr(field, "profile %d has invalid cumulative bounds [%g,%g]", i, cumMin, cumMax)
	}
	if cumMin < *prevMin || cumMax < *prevMax {
		return configErr(field, "profile %d cumulative bounds [%g,%g] are not monotonic", i, cumMin, cumMax)
	}
	*prevMin, *prevMax = cumMin, cumMax
	return nil
}

func isProbability(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}

func (s *Store) Input() RaceInput            { return cloneInput(&s.input) }
func (s *Store) Race() Race                  { return s.input.Race }
func (s *Store) Series() Series              { return s.input.Race.Series }
func (s *Store) Site() string                { return s.input.Site }
func (s *Store) NumCompetitors() int         { return len(s.input.Competitors) }
func (s *Store) Competitor(i int) Competitor { return s.input.Competitors[i] }

// Competitors returns the shared competitor slice. Callers must not modify it.
func (s *Store) Competitors() []Competitor { return s.input.Competitors }

// Constructors returns the shared constructor slice. Callers must not modify it.
func (s *Store) Constructors() []Constructor { return s.input.Constructors }

func (s *Store) IndexOf(id string) (int, bool) {
	i, ok := s.indexByID[id]
	return i, ok
}

func (s *Store) MaxCarsInvolved() int { return s.maxCars }

// DamageProfileFor returns the profile covering cars involved cars.
func (s *Store) DamageProfileFor(cars int) (DamageProfile, bool) {
	if cars < 0 || cars > s.maxCars || s.damageByCars[cars] < 0 {
		return DamageProfile{}, false
	}
	return s.input.Profiles.Damage[s.damageByCars[cars]], true
}

func (s *Store) PenaltyFor(stage int, green bool) (PenaltyProfile, bool) {
	p, ok := s.penalties[penaltyKey{stage: stage, green: green}]
	return p, ok
}

// PitPenaltyMean is the Poisson rate of pit-road penalties per caution.
func (s *Store) PitPenaltyMean() float64 {
	if s.input.Race.PitPenaltyMean > 0 {
		return s.input.Race.PitPenaltyMean
	}
	return seriesPitPenaltyMean[s.input.Race.SeriesLevel]
}

// FastestLapsProfiles are ordered by EligibleSpeedMin.
func (s *Store) FastestLapsProfiles() []FastestLapsProfile { return s.fastestLaps }

// LapsLedProfiles are ordered by RankOrder.
func (s *Store) LapsLedProfiles() []LapsLedProfile { return s.lapsLed }

// FastestLapProfiles are ordered by FinishRank.
func (s *Store) FastestLapProfiles() []FastestLapProfile { return s.fastestLap }

func (s *Store) LeaderCountProfiles() []LeaderCountProfile { return s.input.Profiles.LeaderCount }

// F1LapsLedProfiles are ordered by FinishRank.
func (s *Store) F1LapsLedProfiles() []F1LapsLedProfile { return s.f1LapsLed }

// Teammate returns the teammate index of competitor i, or -1 when the series has none.
func (s *Store) Teammate(i int) int {
	if s.teammates == nil {
		return -1
	}
	return s.teammates[i]
}

// ConstructorDrivers returns the competitor indexes of constructor c's two drivers.
func (s *Store) ConstructorDrivers(c int) [2]int { return s.constructors[c] }
