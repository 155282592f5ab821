package optimizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Player is one roster entry. A competitor can appear as several players,
// for example as a captain and as a driver; CompetitorID ties them together
// so a lineup never uses the same competitor twice.
type Player struct {
	ID           string   `json:"id"`
	CompetitorID string   `json:"competitor_id"`
	FirstName    string   `json:"first_name"`
	LastName     string   `json:"last_name"`
	Positions    []string `json:"positions"`
	Team         string   `json:"team"`
	Salary       int      `json:"salary"`
	Projection   float64  `json:"projection"`
	// Exposure bounds are fractions of NumLineups; 0 means unset.
	MinExposure float64 `json:"min_exposure,omitempty"`
	MaxExposure float64 `json:"max_exposure,omitempty"`
}

func (p Player) Name() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func (p Player) competitor() string {
	if p.CompetitorID != "" {
		return p.CompetitorID
	}
	return p.ID
}

// Constraints bounds an optimization request.
type Constraints struct {
	SalaryCap  int            `json:"salary_cap"`
	MinSalary  int            `json:"min_salary"`
	Slots      []PositionSlot `json:"slots"`
	NumLineups int            `json:"num_lineups"`
	// Randomness perturbs each projection by a uniform factor in
	// [1-Randomness, 1+Randomness], redrawn per lineup.
	Randomness float64 `json:"randomness"`
	// MaxRepeating caps the players a lineup may share with any earlier
	// lineup; 0 disables the check.
	MaxRepeating int `json:"max_repeating"`
	// MaxExposure is the default per-player exposure cap; 0 means 1.
	MaxExposure float64 `json:"max_exposure"`
	Seed        uint64  `json:"seed"`
}

// Lineup is one optimized roster. Players[i] fills Slots[i].
type Lineup struct {
	Players     []Player `json:"players"`
	Slots       []string `json:"slots"`
	TotalSalary int      `json:"total_salary"`
	Projection  float64  `json:"projection"`
}

// Key identifies a lineup by content, independent of slot order.
func (l Lineup) Key() string {
	return LineupKey(l.Players)
}

func LineupKey(players []Player) string {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// Optimizer produces up to c.NumLineups distinct lineups in descending order
// of projection.
type Optimizer interface {
	Optimize(ctx context.Context, players []Player, c Constraints) ([]Lineup, error)
}

// InfeasibleError reports that fewer lineups than requested satisfy the
// constraints. Optimize returns it alongside the lineups it did produce.
type InfeasibleError struct {
	Reason    string
	Requested int
	Produced  int
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("optimization infeasible: %s (produced %d of %d lineups)", e.Reason, e.Produced, e.Requested)
}
