package lineup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/gto"
	"github.com/stitts-dev/race-sim/internal/optimizer"
)

const DefaultMaxAttempts = 10000

// RandomBuildExhaustionError reports that rejection sampling ran out of
// attempts before producing every requested candidate.
type RandomBuildExhaustionError struct {
	Requested int
	Produced  int
	Attempts  int
}

func (e *RandomBuildExhaustionError) Error() string {
	return fmt.Sprintf("random build exhausted %d attempts: produced %d of %d lineups", e.Attempts, e.Produced, e.Requested)
}

// RandomBuild draws n distinct lineups by rejection sampling. Each slot's
// eligible players are sorted by salary, highest first, and drawn at index
// |U1-U2|*len, which favours the top of the list. A lineup is accepted when
// it repeats no competitor, its salary lies in [minSalary, salaryCap] and no
// accepted lineup has the same players. Each candidate gets at most
// maxAttempts draws; on exhaustion the accepted candidates are returned with
// a *RandomBuildExhaustionError.
func RandomBuild(rng *rand.Rand, players []optimizer.Player, slots []optimizer.PositionSlot, n, salaryCap, minSalary, maxAttempts int) ([]*Candidate, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	ordered := append([]optimizer.PositionSlot(nil), slots...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	eligible := make([][]optimizer.Player, len(ordered))
	for s, slot := range ordered {
		for _, p := range players {
			if optimizer.CanPlayerFillSlot(p, slot) {
				eligible[s] = append(eligible[s], p)
			}
		}
		sort.SliceStable(eligible[s], func(i, j int) bool { return eligible[s][i].Salary > eligible[s][j].Salary })
		if len(eligible[s]) == 0 {
			return nil, &RandomBuildExhaustionError{Requested: n, Attempts: 0}
		}
	}

	names := make([]string, len(ordered))
	for s, slot := range ordered {
		names[s] = slot.SlotName
	}

	accepted := make([]*Candidate, 0, n)
	seen := make(map[string]bool, n)
	for len(accepted) < n {
		c := drawLineup(rng, eligible, names, salaryCap, minSalary, maxAttempts, seen)
		if c == nil {
			return accepted, &RandomBuildExhaustionError{Requested: n, Produced: len(accepted), Attempts: maxAttempts}
		}
		seen[c.Key()] = true
		accepted = append(accepted, c)
	}
	return accepted, nil
}

func drawLineup(rng *rand.Rand, eligible [][]optimizer.Player, names []string, salaryCap, minSalary, maxAttempts int, seen map[string]bool) *Candidate {
	picked := make([]optimizer.Player, len(eligible))
	used := make(map[string]bool, len(eligible))

attempts:
	for a := 0; a < maxAttempts; a++ {
		clear(used)
		salary := 0
		for s, pool := range eligible {
			p := pool[skewedIndex(rng, len(pool))]
			id := competitorOf(p)
			if used[id] {
				continue attempts
			}
			used[id] = true
			picked[s] = p
			salary += p.Salary
		}
		if salary > salaryCap || salary < minSalary {
			continue
		}
		if seen[optimizer.LineupKey(picked)] {
			continue
		}
		return NewCandidate(append([]optimizer.Player(nil), picked...), append([]string(nil), names...))
	}
	return nil
}

func skewedIndex(rng *rand.Rand, n int) int {
	return min(int(math.Abs(rng.Float64()-rng.Float64())*float64(n)), n-1)
}

func competitorOf(p optimizer.Player) string {
	if p.CompetitorID != "" {
		return p.CompetitorID
	}
	return p.ID
}

// OptimizerBuild asks opt for c.NumLineups lineups. On infeasibility the
// lineups produced so far are returned with the *optimizer.InfeasibleError.
func OptimizerBuild(ctx context.Context, opt optimizer.Optimizer, players []optimizer.Player, c optimizer.Constraints) ([]*Candidate, error) {
	lineups, err := opt.Optimize(ctx, players, c)
	cands := make([]*Candidate, len(lineups))
	for i, l := range lineups {
		cands[i] = fromLineup(l)
	}
	return cands, err
}

// FromPool turns GTO pool entries into candidates, keeping their counts.
func FromPool(entries []gto.PoolEntry) []*Candidate {
	cands := make([]*Candidate, len(entries))
	for i, e := range entries {
		c := NewCandidate(e.Players, e.Slots)
		c.Count = e.Count
		cands[i] = c
	}
	return cands
}

// BuildConfig drives Build.
type BuildConfig struct {
	TotalLineups int `json:"total_lineups" yaml:"total_lineups"`
	// OptimizeByPercentile projects players at this percentile of their
	// simulated scores for the optimizer. 0 selects random build.
	OptimizeByPercentile int `json:"optimize_by_percentile" yaml:"optimize_by_percentile"`
	// LineupMultiplier oversamples: TotalLineups*LineupMultiplier lineups are
	// built and the best TotalLineups kept.
	LineupMultiplier   int `json:"lineup_multiplier" yaml:"lineup_multiplier"`
	DuplicateThreshold int `json:"duplicate_threshold" yaml:"duplicate_threshold"`
	// Uniques is the minimum number of players each lineup must not share
	// with any earlier lineup.
	Uniques     int     `json:"uniques" yaml:"uniques"`
	MinSalary   int     `json:"min_salary" yaml:"min_salary"`
	Randomness  float64 `json:"randomness" yaml:"randomness"`
	MaxExposure float64 `json:"max_exposure" yaml:"max_exposure"`
	// PlayerExposures sets per-player bounds by player ID, overriding
	// MaxExposure. Minimums are reported, not enforced.
	PlayerExposures map[string]ExposureLimit `json:"player_exposures,omitempty" yaml:"player_exposures,omitempty"`
	// CleanByPercentile is the ranking statistic: 50, 75 or 90.
	CleanByPercentile int    `json:"clean_by_percentile" yaml:"clean_by_percentile"`
	MaxAttempts       int    `json:"max_attempts" yaml:"max_attempts"`
	Seed              uint64 `json:"seed" yaml:"seed"`
}

// ExposureLimit bounds the fraction of kept lineups using a player.
type ExposureLimit struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func withExposureLimits(players []optimizer.Player, limits map[string]ExposureLimit) []optimizer.Player {
	out := append([]optimizer.Player(nil), players...)
	for i := range out {
		if l, ok := limits[out[i].ID]; ok {
			out[i].MinExposure = l.Min
			out[i].MaxExposure = l.Max
		}
	}
	return out
}

// ExposureReport measures player exposure across cands.
func ExposureReport(players []optimizer.Player, cands []*Candidate, maxExposure float64, log *logrus.Entry) *optimizer.ExposureReport {
	em := optimizer.NewExposureManager(players, optimizer.Constraints{NumLineups: len(cands), MaxExposure: maxExposure}, log)
	for _, c := range cands {
		em.AddLineup(optimizer.Lineup{Players: c.Players})
	}
	return em.GenerateExposureReport(players)
}

func (cfg BuildConfig) withDefaults() BuildConfig {
	cfg.TotalLineups = max(cfg.TotalLineups, 1)
	cfg.LineupMultiplier = max(cfg.LineupMultiplier, 1)
	if cfg.CleanByPercentile == 0 {
		cfg.CleanByPercentile = int(StatMedian)
	}
	return cfg
}

// BuildResult is a finished build. Skipped counts requested lineups the
// builder could not produce; Warning explains why.
type BuildResult struct {
	Candidates []*Candidate `json:"candidates"`
	Requested  int          `json:"requested"`
	Produced   int          `json:"produced"`
	Skipped    int          `json:"skipped"`
	Warning    string       `json:"warning,omitempty"`
	// Exposure covers the kept candidates.
	Exposure *optimizer.ExposureReport `json:"exposure,omitempty"`
}

// Build produces, simulates, de-duplicates and ranks candidates from pool.
// Infeasibility and exhaustion are reported on the result, not as errors.
func Build(ctx context.Context, opt optimizer.Optimizer, pool *Pool, cfg BuildConfig, log *logrus.Entry) (*BuildResult, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg = cfg.withDefaults()
	stat, err := ParseStat(cfg.CleanByPercentile)
	if err != nil {
		return nil, err
	}
	target := cfg.TotalLineups * cfg.LineupMultiplier
	log = log.WithFields(logrus.Fields{"component": "lineup_build", "site": pool.Site, "target": target})

	var cands []*Candidate
	var buildErr error
	var players []optimizer.Player
	if cfg.OptimizeByPercentile == 0 {
		players = withExposureLimits(pool.Players, cfg.PlayerExposures)
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(target)))
		cands, buildErr = RandomBuild(rng, players, pool.Slots, target, pool.SalaryCap, cfg.MinSalary, cfg.MaxAttempts)
	} else {
		c := optimizer.Constraints{
			SalaryCap:   pool.SalaryCap,
			MinSalary:   cfg.MinSalary,
			Slots:       pool.Slots,
			NumLineups:  target,
			Randomness:  cfg.Randomness,
			MaxExposure: cfg.MaxExposure,
			Seed:        cfg.Seed,
		}
		if cfg.Uniques > 0 {
			c.MaxRepeating = max(pool.RosterSize()-cfg.Uniques, 0)
		}
		players = withExposureLimits(pool.Project(float64(cfg.OptimizeByPercentile)), cfg.PlayerExposures)
		cands, buildErr = OptimizerBuild(ctx, opt, players, c)
	}

	res := &BuildResult{Requested: target, Produced: len(cands)}
	if buildErr != nil {
		var exhausted *RandomBuildExhaustionError
		var infeasible *optimizer.InfeasibleError
		if !errors.As(buildErr, &exhausted) && !errors.As(buildErr, &infeasible) {
			return nil, fmt.Errorf("lineup build failed: %w", buildErr)
		}
		res.Skipped = target - len(cands)
		res.Warning = buildErr.Error()
		log.WithError(buildErr).Warn("Lineup build fell short")
	}

	for _, c := range cands {
		if err := c.Simulate(pool.Arrays()); err != nil {
			return nil, fmt.Errorf("simulate lineup: %w", err)
		}
	}
	MarkDuplicates(cands)
	cands = FilterDuplicated(cands, cfg.DuplicateThreshold)
	cands = Clean(cands, cfg.TotalLineups, stat)
	if err := RankByIteration(cands); err != nil {
		return nil, err
	}

	res.Candidates = cands
	res.Exposure = ExposureReport(players, cands, cfg.MaxExposure, log)
	if v := res.Exposure.Violations; len(v) > 0 {
		warnings := append([]string(nil), v...)
		if res.Warning != "" {
			warnings = append([]string{res.Warning}, warnings...)
		}
		res.Warning = strings.Join(warnings, "; ")
		log.WithField("violations", len(v)).Warn("Lineup exposure limits not met")
	}
	log.WithFields(logrus.Fields{"produced": res.Produced, "kept": len(cands)}).Info("Lineup build complete")
	return res, nil
}
