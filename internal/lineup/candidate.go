// Package lineup builds lineup candidates, scores them against simulated
// iterations and ranks or filters them.
package lineup

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"

	"github.com/stitts-dev/race-sim/internal/optimizer"
	"github.com/stitts-dev/race-sim/internal/simulator"
)

// Stat selects the percentile of a candidate's simulated scores used for
// ranking.
type Stat int

const (
	StatMedian Stat = 50
	StatP75    Stat = 75
	StatP90    Stat = 90
)

// ParseStat maps a percentile (50, 75 or 90) to a Stat.
func ParseStat(percentile int) (Stat, error) {
	switch s := Stat(percentile); s {
	case StatMedian, StatP75, StatP90:
		return s, nil
	}
	return 0, fmt.Errorf("unsupported percentile %d: want 50, 75 or 90", percentile)
}

// Candidate is a lineup with its simulated score distribution.
type Candidate struct {
	ID          uuid.UUID          `json:"id"`
	Players     []optimizer.Player `json:"players"`
	Slots       []string           `json:"slots"`
	TotalSalary int                `json:"total_salary"`

	// Scores[i] is the lineup's fantasy score in iteration i.
	Scores []float64 `json:"scores,omitempty"`
	Median float64   `json:"median"`
	P75    float64   `json:"s75"`
	P90    float64   `json:"s90"`

	Duplicated int     `json:"duplicated"`
	Count      int     `json:"count,omitempty"`
	SortProj   float64 `json:"sort_proj"`

	RankMedian float64 `json:"rank_median,omitempty"`
	RankS75    float64 `json:"rank_s75,omitempty"`
	RankS90    float64 `json:"rank_s90,omitempty"`

	WinRate float64 `json:"win_rate,omitempty"`
}

func NewCandidate(players []optimizer.Player, slots []string) *Candidate {
	return &Candidate{
		ID:          uuid.New(),
		Players:     players,
		Slots:       slots,
		TotalSalary: lo.SumBy(players, func(p optimizer.Player) int { return p.Salary }),
	}
}

func fromLineup(l optimizer.Lineup) *Candidate {
	return NewCandidate(l.Players, l.Slots)
}

func (c *Candidate) Key() string {
	return optimizer.LineupKey(c.Players)
}

// Simulate sets Scores to the elementwise sum of the members' score arrays
// and recomputes the percentiles.
func (c *Candidate) Simulate(arrays map[string][]float64) error {
	var sum []float64
	for _, p := range c.Players {
		scores, ok := arrays[p.ID]
		if !ok {
			return fmt.Errorf("no simulated scores for player %s", p.ID)
		}
		if sum == nil {
			sum = make([]float64, len(scores))
		} else if len(scores) != len(sum) {
			return fmt.Errorf("player %s has %d scores, want %d", p.ID, len(scores), len(sum))
		}
		floats.Add(sum, scores)
	}
	if len(sum) == 0 {
		return fmt.Errorf("candidate %s has no scores", c.ID)
	}

	summary := simulator.Summarize(sum)
	c.Scores = sum
	c.Median = summary.P50
	c.P75 = summary.P75
	c.P90 = summary.P90
	return nil
}

func (c *Candidate) Value(s Stat) float64 {
	switch s {
	case StatP75:
		return c.P75
	case StatP90:
		return c.P90
	default:
		return c.Median
	}
}

// MarkDuplicates sets Duplicated to the number of candidates sharing each
// candidate's roster, itself included.
func MarkDuplicates(cands []*Candidate) {
	groups := lo.GroupBy(cands, func(c *Candidate) string { return c.Key() })
	for _, c := range cands {
		c.Duplicated = len(groups[c.Key()])
	}
}

// FilterDuplicated drops candidates whose Duplicated exceeds threshold.
// A threshold of 0 or less keeps everything.
func FilterDuplicated(cands []*Candidate, threshold int) []*Candidate {
	if threshold <= 0 {
		return cands
	}
	return lo.Filter(cands, func(c *Candidate, _ int) bool { return c.Duplicated <= threshold })
}

// Rank stable-sorts cands by s, best first, and records the value in SortProj.
func Rank(cands []*Candidate, s Stat) {
	for _, c := range cands {
		c.SortProj = c.Value(s)
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].SortProj > cands[j].SortProj })
}

// Clean ranks cands by s and keeps the top k. k <= 0 keeps all.
func Clean(cands []*Candidate, k int, s Stat) []*Candidate {
	Rank(cands, s)
	if k > 0 && len(cands) > k {
		return cands[:k]
	}
	return cands
}

// RankByIteration ranks every candidate against the others in each
// iteration (1 is best, ties share the lowest rank) and summarizes the ranks:
// RankMedian is the median, RankS75 the 25th and RankS90 the 10th percentile.
func RankByIteration(cands []*Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	n := len(cands[0].Scores)
	for _, c := range cands {
		if len(c.Scores) != n || n == 0 {
			return fmt.Errorf("candidate %s has %d scores, want %d", c.ID, len(c.Scores), n)
		}
	}

	ranks := make([][]float64, len(cands))
	for k := range ranks {
		ranks[k] = make([]float64, n)
	}
	order := make([]int, len(cands))
	for i := 0; i < n; i++ {
		for k := range order {
			order[k] = k
		}
		sort.Slice(order, func(a, b int) bool { return cands[order[a]].Scores[i] > cands[order[b]].Scores[i] })
		for pos, k := range order {
			r := pos + 1
			if pos > 0 && cands[order[pos-1]].Scores[i] == cands[k].Scores[i] {
				r = int(ranks[order[pos-1]][i])
			}
			ranks[k][i] = float64(r)
		}
	}

	for k, c := range cands {
		c.RankMedian = simulator.Percentile(ranks[k], 50)
		c.RankS75 = simulator.Percentile(ranks[k], 25)
		c.RankS90 = simulator.Percentile(ranks[k], 10)
	}
	return nil
}
