package simulator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/scoring"
)

const DefaultMaxRetries = 3

// AggregateOptions configures a simulation run.
type AggregateOptions struct {
	// RunID identifies the run; the zero value draws a new one.
	RunID      uuid.UUID
	Iterations int
	// Workers defaults to runtime.NumCPU().
	Workers int
	// Seed 0 draws a fresh seed, which is recorded on the result.
	Seed       uint64
	MaxRetries int
	// Rules score every iteration; one score array per rule set's site.
	Rules []*scoring.RuleSet
	// Progress is called from worker goroutines after each iteration and
	// must be safe for concurrent use.
	Progress func(done, total int)
	Log      *logrus.Entry
}

// CompetitorOutcomes holds one competitor's per-iteration arrays. Index i of
// every array belongs to iteration i.
type CompetitorOutcomes struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Team             string `json:"team"`
	StartingPosition int    `json:"starting_position"`

	FinishingPosition []int    `json:"fp"`
	OriginalSpeedRank []int    `json:"osr"`
	SpeedRank         []int    `json:"sr"`
	LapsLed           []int    `json:"ll"`
	FastestLaps       []int    `json:"fl"`
	FastestLap        []bool   `json:"fl_flag"`
	Incident          []bool   `json:"incident"`
	Damage            []string `json:"dam,omitempty"`
	Penalty           []string `json:"pen,omitempty"`

	Scores        map[string][]float64 `json:"scores"`
	CaptainScores map[string][]float64 `json:"captain_scores,omitempty"`
	Summary       Summary              `json:"summary"`
}

type Summary struct {
	AvgFinish      float64                 `json:"avg_finish"`
	AvgLapsLed     float64                 `json:"avg_laps_led"`
	AvgFastestLaps float64                 `json:"avg_fastest_laps"`
	FastestLapRate float64                 `json:"fastest_lap_rate"`
	IncidentRate   float64                 `json:"incident_rate"`
	Scores         map[string]ScoreSummary `json:"scores"`
}

type ConstructorOutcomes struct {
	ID      string                  `json:"id"`
	Name    string                  `json:"name"`
	Scores  map[string][]float64    `json:"scores"`
	Summary map[string]ScoreSummary `json:"summary"`
}

// RunResult is the aggregated output of a run. It is complete when Aggregate
// returns and is treated as read-only afterwards.
type RunResult struct {
	ID         uuid.UUID      `json:"id"`
	RaceName   string         `json:"race_name"`
	Series     profile.Series `json:"series"`
	Site       string         `json:"site"`
	Seed       uint64         `json:"seed"`
	Iterations int            `json:"iterations"`
	Retries    int            `json:"retries"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`

	TotalCautions []int                 `json:"total_cautions,omitempty"`
	Competitors   []CompetitorOutcomes  `json:"competitors"`
	Constructors  []ConstructorOutcomes `json:"constructors,omitempty"`
}

// Sites returns the scored sites, primary first.
func (r *RunResult) Sites() []string {
	if len(r.Competitors) == 0 {
		return nil
	}
	var rest []string
	for site := range r.Competitors[0].Scores {
		if site != r.Site {
			rest = append(rest, site)
		}
	}
	sort.Strings(rest)
	return append([]string{r.Site}, rest...)
}

// Aggregate runs opts.Iterations independent iterations of sim over a worker
// pool and folds them into per-competitor arrays. The run is all-or-nothing:
// an iteration that still fails after MaxRetries fresh streams fails the run.
// For a given seed the result does not depend on the worker count.
func Aggregate(ctx context.Context, sim RaceSimulator, store *profile.Store, opts AggregateOptions) (*RunResult, error) {
	n := opts.Iterations
	if n <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", n)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, n)
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	seed := opts.Seed
	if seed == 0 {
		seed = NewSeed()
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := store.NumCompetitors()
	for _, rs := range opts.Rules {
		if err := rs.Validate(m); err != nil {
			return nil, err
		}
	}

	run := newRunResult(store, opts.Rules, n)
	run.ID = opts.RunID
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Seed = seed
	run.StartedAt = time.Now()
	log = log.WithFields(logrus.Fields{"run_id": run.ID, "iterations": n, "workers": workers, "seed": seed})
	log.Info("Starting simulation run")

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

	var done, retries atomic.Int64
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, attempts, err := simulateIteration(sim, seed, i, maxRetries)
				retries.Add(int64(attempts))
				if err != nil {
					return err
				}
				run.record(store, opts.Rules, i, res)
				if d := done.Add(1); opts.Progress != nil {
					opts.Progress(int(d), n)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).WithField("completed", done.Load()).Error("Simulation run failed")
		return nil, fmt.Errorf("simulation run failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("simulation run cancelled: %w", err)
	}

	run.Retries = int(retries.Load())
	run.summarize()
	run.FinishedAt = time.Now()
	log.WithFields(logrus.Fields{
		"retries":  run.Retries,
		"duration": run.FinishedAt.Sub(run.StartedAt).String(),
	}).Info("Simulation run complete")
	return run, nil
}

// simulateIteration runs iteration i, retrying computation errors on fresh
// streams. It returns the number of retries used.
func simulateIteration(sim RaceSimulator, seed uint64, i, maxRetries int) (*IterationResult, int, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := sim.Simulate(NewIterationRand(seed, i, attempt))
		if err == nil {
			return res, attempt, nil
		}
		var ice *IterationComputationError
		if !errors.As(err, &ice) {
			return nil, attempt, fmt.Errorf("iteration %d: %w", i, err)
		}
		ice.Iteration = i
		lastErr = err
	}
	return nil, maxRetries, fmt.Errorf("iteration %d failed after %d attempts: %w", i, maxRetries+1, lastErr)
}

func newRunResult(store *profile.Store, rules []*scoring.RuleSet, n int) *RunResult {
	run := &RunResult{
		RaceName:   store.Race().Name,
		Series:     store.Series(),
		Site:       store.Site(),
		Iterations: n,
	}
	if run.Site == "" && len(rules) > 0 {
		run.Site = rules[0].Site
	}
	if store.Series() == profile.SeriesNascar {
		run.TotalCautions = make([]int, n)
	}

	for _, c := range store.Competitors() {
		co := CompetitorOutcomes{
			ID:                c.ID,
			Name:              c.Name,
			Team:              c.Team,
			StartingPosition:  c.StartingPosition,
			FinishingPosition: make([]int, n),
			OriginalSpeedRank: make([]int, n),
			SpeedRank:         make([]int, n),
			LapsLed:           make([]int, n),
			FastestLaps:       make([]int, n),
			FastestLap:        make([]bool, n),
			Incident:          make([]bool, n),
			Scores:            make(map[string][]float64, len(rules)),
		}
		if store.Series() == profile.SeriesNascar {
			co.Damage = make([]string, n)
			co.Penalty = make([]string, n)
		}
		for _, rs := range rules {
			co.Scores[rs.Site] = make([]float64, n)
			if rs.CaptainMultiplier > 0 {
				if co.CaptainScores == nil {
					co.CaptainScores = make(map[string][]float64, len(rules))
				}
				co.CaptainScores[rs.Site] = make([]float64, n)
			}
		}
		run.Competitors = append(run.Competitors, co)
	}

	for _, c := range store.Constructors() {
		co := ConstructorOutcomes{ID: c.ID, Name: c.Name, Scores: make(map[string][]float64, len(rules))}
		for _, rs := range rules {
			if rs.Constructor != nil {
				co.Scores[rs.Site] = make([]float64, n)
			}
		}
		run.Constructors = append(run.Constructors, co)
	}
	return run
}

// record folds iteration i into the arrays. Workers write disjoint indexes.
func (r *RunResult) record(store *profile.Store, rules []*scoring.RuleSet, i int, res *IterationResult) {
	if r.TotalCautions != nil {
		r.TotalCautions[i] = res.TotalCautions
	}

	outcomes := make([]scoring.Outcome, len(r.Competitors))
	for c := range r.Competitors {
		co := &r.Competitors[c]
		co.FinishingPosition[i] = res.FinishingPosition[c]
		co.OriginalSpeedRank[i] = res.OriginalSpeedRank[c]
		co.SpeedRank[i] = res.SpeedRank[c]
		co.LapsLed[i] = res.LapsLed[c]
		co.FastestLaps[i] = res.FastestLaps[c]
		co.FastestLap[i] = res.FastestLap[c]
		co.Incident[i] = res.Incident[c]
		if co.Damage != nil {
			co.Damage[i] = res.Damage[c]
			co.Penalty[i] = res.Penalty[c]
		}

		outcomes[c] = scoring.Outcome{
			StartingPosition:  co.StartingPosition,
			FinishingPosition: res.FinishingPosition[c],
			LapsLed:           res.LapsLed[c],
			FastestLaps:       res.FastestLaps[c],
			FastestLap:        res.FastestLap[c],
			Incident:          res.Incident[c],
		}
		if mate := store.Teammate(c); mate >= 0 {
			outcomes[c].TeammateFinish = res.FinishingPosition[mate]
		}
	}

	for _, rs := range rules {
		for c := range r.Competitors {
			score := rs.Score(outcomes[c])
			r.Competitors[c].Scores[rs.Site][i] = score
			if captain, ok := r.Competitors[c].CaptainScores[rs.Site]; ok {
				captain[i] = rs.Captain(score)
			}
		}
		if rs.Constructor == nil {
			continue
		}
		for k := range r.Constructors {
			drivers := store.ConstructorDrivers(k)
			r.Constructors[k].Scores[rs.Site][i] = rs.ScoreConstructor(outcomes[drivers[0]], outcomes[drivers[1]])
		}
	}
}

func (r *RunResult) summarize() {
	for c := range r.Competitors {
		co := &r.Competitors[c]
		co.Summary = Summary{
			AvgFinish:      meanInts(co.FinishingPosition),
			AvgLapsLed:     meanInts(co.LapsLed),
			AvgFastestLaps: meanInts(co.FastestLaps),
			FastestLapRate: rate(co.FastestLap),
			IncidentRate:   rate(co.Incident),
			Scores:         make(map[string]ScoreSummary, len(co.Scores)),
		}
		for site, scores := range co.Scores {
			co.Summary.Scores[site] = Summarize(scores)
		}
	}
	for k := range r.Constructors {
		co := &r.Constructors[k]
		co.Summary = make(map[string]ScoreSummary, len(co.Scores))
		for site, scores := range co.Scores {
			co.Summary[site] = Summarize(scores)
		}
	}
}
