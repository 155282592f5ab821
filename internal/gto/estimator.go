// Package gto estimates game-theory-optimal exposure: how often each player
// appears in the optimal lineup of a single simulated race.
package gto

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stitts-dev/race-sim/internal/optimizer"
)

// Exposure is one player's share of per-iteration optimal lineups.
type Exposure struct {
	PlayerID     string  `json:"player_id"`
	CompetitorID string  `json:"competitor_id"`
	Name         string  `json:"name"`
	Position     string  `json:"position"`
	Salary       int     `json:"salary"`
	Count        int     `json:"count"`
	Exposure     float64 `json:"exposure"`
}

// PoolEntry is a distinct lineup returned by the optimizer and how many
// iterations produced it.
type PoolEntry struct {
	Key         string             `json:"key"`
	Players     []optimizer.Player `json:"players"`
	Slots       []string           `json:"slots"`
	TotalSalary int                `json:"total_salary"`
	Count       int                `json:"count"`
}

type Result struct {
	Iterations int `json:"iterations"`
	// InfeasibleIterations produced no lineup. They still count toward the
	// Iterations denominator.
	InfeasibleIterations int         `json:"infeasible_iterations"`
	Exposures            []Exposure  `json:"exposures"`
	Pool                 []PoolEntry `json:"pool"`
}

// ExposureOf returns the exposure of playerID, or 0 if it is unknown.
func (r *Result) ExposureOf(playerID string) float64 {
	for _, e := range r.Exposures {
		if e.PlayerID == playerID {
			return e.Exposure
		}
	}
	return 0
}

// Estimate runs the optimizer once per iteration with scores[p][i] as player
// p's projection. The first lineup of each iteration is tallied for exposure;
// every returned lineup enters the pool. c.NumLineups lineups are requested
// per iteration (at least one) and randomness is disabled.
func Estimate(ctx context.Context, opt optimizer.Optimizer, players []optimizer.Player, scores [][]float64, c optimizer.Constraints, workers int) (*Result, error) {
	if len(players) == 0 {
		return nil, errors.New("gto: no players")
	}
	if len(scores) != len(players) {
		return nil, fmt.Errorf("gto: %d score arrays for %d players", len(scores), len(players))
	}
	n := len(scores[0])
	if n == 0 {
		return nil, errors.New("gto: empty score arrays")
	}
	for p, s := range scores {
		if len(s) != n {
			return nil, fmt.Errorf("gto: player %s has %d scores, want %d", players[p].ID, len(s), n)
		}
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, n)
	c.NumLineups = max(c.NumLineups, 1)
	c.Randomness = 0

	index := make(map[string]int, len(players))
	for p, pl := range players {
		index[pl.ID] = p
	}

	log := logrus.WithFields(logrus.Fields{
		"component":  "gto",
		"players":    len(players),
		"iterations": n,
		"workers":    workers,
	})
	log.Info("Starting GTO estimation")
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	total := newTally(len(players))
	var mu sync.Mutex
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			local := newTally(len(players))
			iterPlayers := make([]optimizer.Player, len(players))
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				for p := range players {
					iterPlayers[p] = players[p]
					iterPlayers[p].Projection = scores[p][i]
				}
				lineups, err := opt.Optimize(gctx, iterPlayers, c)
				var infeasible *optimizer.InfeasibleError
				if err != nil && !errors.As(err, &infeasible) {
					return fmt.Errorf("iteration %d: %w", i, err)
				}
				if len(lineups) == 0 {
					local.infeasible++
					continue
				}
				local.add(lineups, index)
			}
			mu.Lock()
			total.merge(local)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("GTO estimation failed")
		return nil, fmt.Errorf("gto estimation failed: %w", err)
	}

	res := total.result(players, n)
	log.WithFields(logrus.Fields{
		"infeasible": res.InfeasibleIterations,
		"pool":       len(res.Pool),
		"duration":   time.Since(start).String(),
	}).Info("GTO estimation complete")
	return res, nil
}

type tally struct {
	counts     []int
	pool       map[string]*PoolEntry
	infeasible int
}

func newTally(players int) *tally {
	return &tally{counts: make([]int, players), pool: make(map[string]*PoolEntry)}
}

func (t *tally) add(lineups []optimizer.Lineup, index map[string]int) {
	for _, p := range lineups[0].Players {
		t.counts[index[p.ID]]++
	}
	for _, l := range lineups {
		key := l.Key()
		e, ok := t.pool[key]
		if !ok {
			e = canonical(l)
			t.pool[key] = e
		}
		e.Count++
	}
}

// canonical orders players by slot group, then by ID, so that the same
// roster found in different iterations looks identical.
func canonical(l optimizer.Lineup) *PoolEntry {
	group := make(map[string]int, len(l.Slots))
	for i, s := range l.Slots {
		if _, ok := group[s]; !ok {
			group[s] = i
		}
	}
	order := lo.Range(len(l.Players))
	sort.SliceStable(order, func(a, b int) bool {
		ga, gb := group[l.Slots[order[a]]], group[l.Slots[order[b]]]
		if ga != gb {
			return ga < gb
		}
		return l.Players[order[a]].ID < l.Players[order[b]].ID
	})
	e := &PoolEntry{Key: l.Key(), TotalSalary: l.TotalSalary}
	for _, i := range order {
		p := l.Players[i]
		p.Projection = 0
		e.Players = append(e.Players, p)
		e.Slots = append(e.Slots, l.Slots[i])
	}
	return e
}

func (t *tally) merge(o *tally) {
	for p, c := range o.counts {
		t.counts[p] += c
	}
	for key, oe := range o.pool {
		if e, ok := t.pool[key]; ok {
			e.Count += oe.Count
			continue
		}
		t.pool[key] = oe
	}
	t.infeasible += o.infeasible
}

func (t *tally) result(players []optimizer.Player, n int) *Result {
	res := &Result{Iterations: n, InfeasibleIterations: t.infeasible}
	res.Exposures = lo.Map(players, func(p optimizer.Player, i int) Exposure {
		e := Exposure{
			PlayerID:     p.ID,
			CompetitorID: p.CompetitorID,
			Name:         p.Name(),
			Salary:       p.Salary,
			Count:        t.counts[i],
			Exposure:     float64(t.counts[i]) / float64(n),
		}
		if len(p.Positions) > 0 {
			e.Position = p.Positions[0]
		}
		return e
	})
	sort.SliceStable(res.Exposures, func(i, j int) bool {
		return res.Exposures[i].Count > res.Exposures[j].Count
	})

	res.Pool = lo.MapToSlice(t.pool, func(_ string, e *PoolEntry) PoolEntry { return *e })
	sort.Slice(res.Pool, func(i, j int) bool {
		if res.Pool[i].Count != res.Pool[j].Count {
			return res.Pool[i].Count > res.Pool[j].Count
		}
		return res.Pool[i].Key < res.Pool[j].Key
	})
	return res
}
