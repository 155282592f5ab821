package lineup

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

const DefaultWinRateThreshold = 0.58

// CashFilter scores each candidate against a field of opponent lineups and
// keeps those whose win rate reaches threshold. A win is an iteration in
// which the candidate scores at least as much as the opponent, or strictly
// more when h2h is set. WinRate is set on every candidate; threshold <= 0
// uses DefaultWinRateThreshold.
func CashFilter(cands, field []*Candidate, threshold float64, h2h bool) ([]*Candidate, error) {
	if len(field) == 0 {
		return nil, errors.New("cash filter needs at least one field lineup")
	}
	if threshold <= 0 {
		threshold = DefaultWinRateThreshold
	}
	n := len(field[0].Scores)
	for _, f := range field {
		if len(f.Scores) != n || n == 0 {
			return nil, fmt.Errorf("field lineup %s has %d scores, want %d", f.ID, len(f.Scores), n)
		}
	}

	for _, c := range cands {
		if len(c.Scores) != n {
			return nil, fmt.Errorf("candidate %s has %d scores, want %d", c.ID, len(c.Scores), n)
		}
		wins := 0
		for _, f := range field {
			for i, s := range c.Scores {
				if s > f.Scores[i] || (!h2h && s == f.Scores[i]) {
					wins++
				}
			}
		}
		c.WinRate = float64(wins) / float64(n*len(field))
	}
	return lo.Filter(cands, func(c *Candidate, _ int) bool { return c.WinRate >= threshold }), nil
}
