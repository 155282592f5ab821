package optimizer

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/sirupsen/logrus"
)

// BranchAndBound is an exact optimizer. Each requested lineup is the highest
// projected roster that satisfies the constraints and differs from every
// lineup already returned.
type BranchAndBound struct {
	log *logrus.Entry
}

func NewBranchAndBound(log *logrus.Entry) *BranchAndBound {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BranchAndBound{log: log.WithField("component", "branch_and_bound")}
}

func (b *BranchAndBound) Optimize(ctx context.Context, players []Player, c Constraints) ([]Lineup, error) {
	n := max(c.NumLineups, 1)
	if len(c.Slots) == 0 {
		return nil, &InfeasibleError{Reason: "no roster slots", Requested: n}
	}
	if c.SalaryCap <= 0 {
		return nil, &InfeasibleError{Reason: "salary cap must be positive", Requested: n}
	}

	groups := groupSlots(c.Slots)
	comp := make([]int, len(players))
	compIndex := make(map[string]int)
	for i, p := range players {
		id := p.competitor()
		k, ok := compIndex[id]
		if !ok {
			k = len(compIndex)
			compIndex[id] = k
		}
		comp[i] = k
	}

	exposure := NewExposureManager(players, c, b.log)
	rng := rand.New(rand.NewPCG(c.Seed, uint64(len(players))))
	seen := make(map[string]bool, n)
	var previous []map[string]bool
	lineups := make([]Lineup, 0, n)

	for k := 0; k < n; k++ {
		if err := ctx.Err(); err != nil {
			return lineups, err
		}
		proj := make([]float64, len(players))
		for i, p := range players {
			proj[i] = p.Projection
			if c.Randomness > 0 {
				proj[i] *= 1 + c.Randomness*(2*rng.Float64()-1)
			}
		}

		s := newSearch(ctx, players, proj, groups, comp, len(compIndex), c, exposure, seen, previous)
		best, ok, err := s.run()
		if err != nil {
			return lineups, err
		}
		if !ok {
			reason := "no lineup satisfies the salary and roster constraints"
			if k > 0 {
				reason = "no further distinct lineup satisfies the constraints"
			}
			return lineups, &InfeasibleError{Reason: reason, Requested: n, Produced: len(lineups)}
		}

		lineups = append(lineups, best)
		seen[best.Key()] = true
		ids := make(map[string]bool, len(best.Players))
		for _, p := range best.Players {
			ids[p.ID] = true
		}
		previous = append(previous, ids)
		exposure.AddLineup(best)
	}

	b.log.WithFields(logrus.Fields{
		"players": len(players),
		"lineups": len(lineups),
	}).Debug("Optimization complete")
	return lineups, nil
}

type groupState struct {
	names []string
	need  int
	cands []int
	// prefix[j] is the projection sum of cands[:j].
	prefix     []float64
	minSalFrom []int
	maxSalFrom []int
}

type search struct {
	ctx      context.Context
	players  []Player
	proj     []float64
	c        Constraints
	groups   []groupState
	comp     []int
	used     []bool
	seen     map[string]bool
	previous []map[string]bool

	restProj   []float64
	restMinSal []int
	restMaxSal []int

	chosen   []int
	best     []int
	bestProj float64
	found    bool
	nodes    int
	err      error
}

func newSearch(ctx context.Context, players []Player, proj []float64, groups []slotGroup, comp []int, numComp int,
	c Constraints, exposure *ExposureManager, seen map[string]bool, previous []map[string]bool) *search {
	s := &search{
		ctx:      ctx,
		players:  players,
		proj:     proj,
		c:        c,
		comp:     comp,
		used:     make([]bool, numComp),
		seen:     seen,
		previous: previous,
	}

	for _, g := range groups {
		gs := groupState{names: g.names, need: len(g.names)}
		slot := PositionSlot{AllowedPositions: g.allowed}
		for i, p := range players {
			if CanPlayerFillSlot(p, slot) && exposure.CanAddPlayer(p.ID) {
				gs.cands = append(gs.cands, i)
			}
		}
		sort.SliceStable(gs.cands, func(a, b int) bool { return proj[gs.cands[a]] > proj[gs.cands[b]] })

		m := len(gs.cands)
		gs.prefix = make([]float64, m+1)
		gs.minSalFrom = make([]int, m+1)
		gs.maxSalFrom = make([]int, m+1)
		gs.minSalFrom[m] = math.MaxInt32
		for j, i := range gs.cands {
			gs.prefix[j+1] = gs.prefix[j] + proj[i]
		}
		for j := m - 1; j >= 0; j-- {
			sal := players[gs.cands[j]].Salary
			gs.minSalFrom[j] = min(sal, gs.minSalFrom[j+1])
			gs.maxSalFrom[j] = max(sal, gs.maxSalFrom[j+1])
		}
		s.groups = append(s.groups, gs)
	}

	s.restProj = make([]float64, len(s.groups)+1)
	s.restMinSal = make([]int, len(s.groups)+1)
	s.restMaxSal = make([]int, len(s.groups)+1)
	for g := len(s.groups) - 1; g >= 0; g-- {
		gs := s.groups[g]
		if len(gs.cands) < gs.need {
			continue
		}
		s.restProj[g] = s.restProj[g+1] + gs.prefix[gs.need]
		s.restMinSal[g] = s.restMinSal[g+1] + gs.need*gs.minSalFrom[0]
		s.restMaxSal[g] = s.restMaxSal[g+1] + gs.need*gs.maxSalFrom[0]
	}
	return s
}

func (s *search) run() (Lineup, bool, error) {
	for _, gs := range s.groups {
		if len(gs.cands) < gs.need {
			return Lineup{}, false, nil
		}
	}
	s.dfs(0, 0, 0, 0, 0)
	if s.err != nil {
		return Lineup{}, false, s.err
	}
	if !s.found {
		return Lineup{}, false, nil
	}

	l := Lineup{}
	k := 0
	for _, gs := range s.groups {
		for f := 0; f < gs.need; f++ {
			p := s.players[s.best[k]]
			l.Players = append(l.Players, p)
			l.Slots = append(l.Slots, gs.names[f])
			l.TotalSalary += p.Salary
			l.Projection += p.Projection
			k++
		}
	}
	return l, true, nil
}

func (s *search) dfs(g, start, filled, salary int, proj float64) {
	if s.err != nil {
		return
	}
	s.nodes++
	if s.nodes&0xfff == 0 {
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return
		}
	}
	if g == len(s.groups) {
		s.leaf(salary, proj)
		return
	}
	gs := &s.groups[g]
	if filled == gs.need {
		s.dfs(g+1, 0, 0, salary, proj)
		return
	}

	rem := gs.need - filled
	for j := start; j <= len(gs.cands)-rem; j++ {
		// Candidates are sorted by projection, so neither bound recovers for larger j.
		if s.found && proj+gs.prefix[j+rem]-gs.prefix[j]+s.restProj[g+1] <= s.bestProj {
			break
		}
		if salary+rem*gs.maxSalFrom[j]+s.restMaxSal[g+1] < s.c.MinSalary {
			break
		}
		if salary+rem*gs.minSalFrom[j]+s.restMinSal[g+1] > s.c.SalaryCap {
			continue
		}
		i := gs.cands[j]
		if s.used[s.comp[i]] {
			continue
		}

		s.used[s.comp[i]] = true
		s.chosen = append(s.chosen, i)
		s.dfs(g, j+1, filled+1, salary+s.players[i].Salary, proj+s.proj[i])
		s.chosen = s.chosen[:len(s.chosen)-1]
		s.used[s.comp[i]] = false
	}
}

func (s *search) leaf(salary int, proj float64) {
	if salary > s.c.SalaryCap || salary < s.c.MinSalary {
		return
	}
	if s.found && proj <= s.bestProj {
		return
	}

	picked := make([]Player, len(s.chosen))
	for k, i := range s.chosen {
		picked[k] = s.players[i]
	}
	if s.seen[LineupKey(picked)] {
		return
	}
	if s.c.MaxRepeating > 0 {
		for _, prev := range s.previous {
			shared := 0
			for _, p := range picked {
				if prev[p.ID] {
					shared++
				}
			}
			if shared > s.c.MaxRepeating {
				return
			}
		}
	}

	s.best = append(s.best[:0], s.chosen...)
	s.bestProj = proj
	s.found = true
}
