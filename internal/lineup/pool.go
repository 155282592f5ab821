package lineup

import (
	"fmt"
	"math"
	"strings"

	"github.com/stitts-dev/race-sim/internal/optimizer"
	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/scoring"
	"github.com/stitts-dev/race-sim/internal/simulator"
)

const captainSuffix = "-cpt"

// Pool is the slate of rosterable players for one site together with their
// simulated score arrays.
type Pool struct {
	Series    profile.Series
	Site      string
	SalaryCap int
	Slots     []optimizer.PositionSlot
	// Players carry the median simulated score as their projection.
	Players []optimizer.Player

	arrays map[string][]float64
}

// NewPool derives the player pool for rules.Site from a completed run.
// Competitors without a salary are not on the slate and are skipped.
func NewPool(store *profile.Store, run *simulator.RunResult, rules *scoring.RuleSet) (*Pool, error) {
	slots := optimizer.GetPositionSlots(store.Series(), rules.Site)
	if len(slots) == 0 {
		return nil, fmt.Errorf("no roster format for %s on %s", store.Series(), rules.Site)
	}
	if len(run.Competitors) != store.NumCompetitors() {
		return nil, fmt.Errorf("run has %d competitors, race has %d", len(run.Competitors), store.NumCompetitors())
	}

	p := &Pool{
		Series:    store.Series(),
		Site:      rules.Site,
		SalaryCap: rules.SalaryCap,
		Slots:     slots,
		arrays:    make(map[string][]float64),
	}
	captains := optimizer.HasSlot(slots, profile.PositionCaptain)

	for i, c := range store.Competitors() {
		if c.Salary <= 0 {
			continue
		}
		co := run.Competitors[i]
		scores, ok := co.Scores[rules.Site]
		if !ok {
			return nil, fmt.Errorf("run has no %s scores for %s", rules.Site, c.ID)
		}
		first, last, _ := strings.Cut(c.Name, " ")
		driver := optimizer.Player{
			ID:           c.ID,
			CompetitorID: c.ID,
			FirstName:    first,
			LastName:     last,
			Positions:    []string{profile.PositionDriver},
			Team:         c.Team,
			Salary:       c.Salary,
		}
		p.add(driver, scores)

		if !captains {
			continue
		}
		cptScores, ok := co.CaptainScores[rules.Site]
		if !ok {
			return nil, fmt.Errorf("run has no %s captain scores for %s", rules.Site, c.ID)
		}
		captain := driver
		captain.ID = c.ID + captainSuffix
		captain.Positions = []string{profile.PositionCaptain}
		captain.Salary = c.CaptainSalary
		if captain.Salary <= 0 {
			captain.Salary = int(math.Round(float64(c.Salary) * rules.CaptainMultiplier))
		}
		p.add(captain, cptScores)
	}

	if optimizer.HasSlot(slots, profile.PositionConstructor) {
		for j, con := range store.Constructors() {
			if con.Salary <= 0 {
				continue
			}
			scores, ok := run.Constructors[j].Scores[rules.Site]
			if !ok {
				return nil, fmt.Errorf("run has no %s scores for constructor %s", rules.Site, con.ID)
			}
			p.add(optimizer.Player{
				ID:        con.ID,
				LastName:  con.Name,
				Positions: []string{profile.PositionConstructor},
				Team:      con.Name,
				Salary:    con.Salary,
			}, scores)
		}
	}
	return p, nil
}

func (p *Pool) add(pl optimizer.Player, scores []float64) {
	pl.Projection = simulator.Percentile(scores, 50)
	p.Players = append(p.Players, pl)
	p.arrays[pl.ID] = scores
}

// Arrays maps player IDs to their score arrays. The arrays are shared.
func (p *Pool) Arrays() map[string][]float64 {
	return p.arrays
}

// Scores returns the score arrays aligned with Players.
func (p *Pool) Scores() [][]float64 {
	out := make([][]float64, len(p.Players))
	for i, pl := range p.Players {
		out[i] = p.arrays[pl.ID]
	}
	return out
}

// Project returns a copy of Players projected at the given percentile of
// their simulated scores.
func (p *Pool) Project(percentile float64) []optimizer.Player {
	out := make([]optimizer.Player, len(p.Players))
	for i, pl := range p.Players {
		pl.Projection = simulator.Percentile(p.arrays[pl.ID], percentile)
		out[i] = pl
	}
	return out
}

// RosterSize is the number of slots in a lineup.
func (p *Pool) RosterSize() int {
	return len(p.Slots)
}
